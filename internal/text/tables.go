package text

import "strings"

// TableMode controls how markdown tables are rendered before delivery
// to channels whose plain-text surface cannot display them.
type TableMode string

const (
	// TableModeCode wraps table blocks in a fenced code block.
	TableModeCode TableMode = "code"
	// TableModeOff leaves the text untouched.
	TableModeOff TableMode = "off"
)

// ConvertMarkdownTables rewrites markdown table blocks according to
// mode. A table block is a run of consecutive lines starting with "|".
func ConvertMarkdownTables(text string, mode TableMode) string {
	if mode == TableModeOff || text == "" || !strings.Contains(text, "|") {
		return text
	}

	lines := strings.Split(text, "\n")
	var out []string
	var table []string

	flush := func() {
		if len(table) == 0 {
			return
		}
		// Lone pipe-prefixed lines are not tables.
		if len(table) >= 2 {
			out = append(out, "```")
			out = append(out, table...)
			out = append(out, "```")
		} else {
			out = append(out, table...)
		}
		table = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "|") {
			table = append(table, line)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()

	return strings.Join(out, "\n")
}
