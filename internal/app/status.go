package app

import (
	"sort"
	"sync"
	"time"

	"imbridge/internal/core"
)

// AccountStatus is one channel account's runtime snapshot.
type AccountStatus struct {
	Channel        string     `json:"channel"`
	AccountID      string     `json:"account_id"`
	Running        bool       `json:"running"`
	LastInboundAt  *time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time `json:"last_outbound_at,omitempty"`
	LastProbeAt    *time.Time `json:"last_probe_at,omitempty"`
	LastProbeOK    bool       `json:"last_probe_ok"`
	LastProbeError string     `json:"last_probe_error,omitempty"`
	Issues         []string   `json:"issues,omitempty"`
}

// StatusTracker aggregates per-account activity, probe outcomes and
// startup issues for the /status endpoint.
type StatusTracker struct {
	mu      sync.Mutex
	entries map[string]*AccountStatus
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{entries: map[string]*AccountStatus{}}
}

func (t *StatusTracker) entryLocked(channel, accountID string) *AccountStatus {
	key := channel + ":" + accountID
	entry, ok := t.entries[key]
	if !ok {
		entry = &AccountStatus{Channel: channel, AccountID: accountID}
		t.entries[key] = entry
	}
	return entry
}

// Sink returns a StatusSink that patches activity timestamps for one
// account.
func (t *StatusTracker) Sink(channel, accountID string) core.StatusSink {
	return func(patch core.StatusPatch) {
		t.mu.Lock()
		defer t.mu.Unlock()
		entry := t.entryLocked(channel, accountID)
		if !patch.LastInboundAt.IsZero() {
			at := patch.LastInboundAt
			entry.LastInboundAt = &at
		}
		if !patch.LastOutboundAt.IsZero() {
			at := patch.LastOutboundAt
			entry.LastOutboundAt = &at
		}
	}
}

func (t *StatusTracker) SetRunning(channel, accountID string, running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryLocked(channel, accountID).Running = running
}

func (t *StatusTracker) AddIssue(channel, accountID, issue string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entryLocked(channel, accountID)
	entry.Issues = append(entry.Issues, issue)
}

func (t *StatusTracker) RecordProbe(channel, accountID string, ok bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entryLocked(channel, accountID)
	now := time.Now()
	entry.LastProbeAt = &now
	entry.LastProbeOK = ok
	entry.LastProbeError = errMsg
}

// Snapshot returns a stable-ordered copy of every account status.
func (t *StatusTracker) Snapshot() []AccountStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AccountStatus, 0, len(t.entries))
	for _, entry := range t.entries {
		copied := *entry
		copied.Issues = append([]string(nil), entry.Issues...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}
