package core

import (
	"fmt"
	"time"
)

// EnvelopeParams describe one inbound message for envelope formatting.
type EnvelopeParams struct {
	Channel   string
	From      string
	Timestamp time.Time
	Previous  time.Time
	Body      string
}

// FormatEnvelope wraps an inbound message body with a channel/sender
// header so the agent sees where a message came from and how long the
// conversation was idle.
func FormatEnvelope(p EnvelopeParams) string {
	header := fmt.Sprintf("[%s %s", p.Channel, p.From)
	if !p.Timestamp.IsZero() {
		header += " " + p.Timestamp.UTC().Format("2006-01-02 15:04")
		if !p.Previous.IsZero() && p.Timestamp.After(p.Previous) {
			if gap := p.Timestamp.Sub(p.Previous); gap >= time.Minute {
				header += fmt.Sprintf(" +%s", formatGap(gap))
			}
		}
	}
	header += "]"
	return header + "\n" + p.Body
}

func formatGap(gap time.Duration) string {
	switch {
	case gap >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(gap.Hours())/24)
	case gap >= time.Hour:
		return fmt.Sprintf("%dh", int(gap.Hours()))
	default:
		return fmt.Sprintf("%dm", int(gap.Minutes()))
	}
}
