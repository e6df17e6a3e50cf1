package text

import "strings"

// Chunk splits text into pieces no longer than limit runes, breaking at
// the last newline inside the window, or the last space when the window
// has no newline, and hard-breaking when it has neither. Whitespace at
// a break point is consumed; empty chunks are never emitted.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := runes
	for len(remaining) > limit {
		window := remaining[:limit]
		breakIdx := lastIndexRune(window, '\n')
		if breakIdx <= 0 {
			breakIdx = lastIndexRune(window, ' ')
		}
		if breakIdx <= 0 {
			breakIdx = limit
		}
		chunk := strings.TrimRight(string(remaining[:breakIdx]), " \t\r\n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := breakIdx
		if next < len(remaining) && isSpaceRune(remaining[next]) {
			next++
		}
		remaining = []rune(strings.TrimLeft(string(remaining[next:]), " \t\r\n"))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

func lastIndexRune(window []rune, r rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == r {
			return i
		}
	}
	return -1
}

func isSpaceRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// Truncate caps text at limit runes. Senders apply it defensively even
// though callers are expected to have chunked already.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
