package text

import (
	"strings"
	"testing"
)

func TestChunkShortTextSinglePiece(t *testing.T) {
	got := Chunk("hello world", 100)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("unexpected chunks: %#v", got)
	}
}

func TestChunkBreaksOnNewline(t *testing.T) {
	got := Chunk("line one\nline two\nline three", 20)
	want := []string{"line one\nline two", "line three"}
	if len(got) != len(want) {
		t.Fatalf("chunks=%#v want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk[%d]=%q want %q", i, got[i], want[i])
		}
	}
}

func TestChunkBreaksOnSpaceWhenNoNewline(t *testing.T) {
	got := Chunk("aaaa bbbb cccc dddd", 10)
	for _, c := range got {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
	}
	if got[0] != "aaaa bbbb" {
		t.Fatalf("first chunk=%q", got[0])
	}
}

func TestChunkHardBreakWithoutBoundary(t *testing.T) {
	got := Chunk(strings.Repeat("x", 25), 10)
	want := []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}
	if len(got) != 3 {
		t.Fatalf("chunks=%#v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk[%d]=%q want %q", i, got[i], want[i])
		}
	}
}

func TestChunkPropertyReconstructsText(t *testing.T) {
	inputs := []string{
		"The quick brown fox jumps over the lazy dog. " + strings.Repeat("word ", 200),
		strings.Repeat("блок текста ", 100),
		"no-spaces-" + strings.Repeat("y", 500),
		strings.Repeat("para one\n\npara two\n", 50),
	}
	for _, input := range inputs {
		for _, limit := range []int{7, 32, 100, 4096} {
			chunks := Chunk(input, limit)
			for _, c := range chunks {
				if c == "" {
					t.Fatalf("empty chunk for limit=%d", limit)
				}
				if len([]rune(c)) > limit {
					t.Fatalf("chunk exceeds limit=%d: %q", limit, c)
				}
			}
			// Joining chunks and collapsing whitespace runs must
			// reproduce the input modulo whitespace at break points.
			joined := collapseSpace(strings.Join(chunks, " "))
			if want := collapseSpace(input); joined != want {
				t.Fatalf("limit=%d lost content:\n got=%q\nwant=%q", limit, joined, want)
			}
		}
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 3); got != "hél" {
		t.Fatalf("Truncate=%q", got)
	}
	if got := Truncate("ok", 10); got != "ok" {
		t.Fatalf("Truncate=%q", got)
	}
}

func TestConvertMarkdownTablesCodeMode(t *testing.T) {
	in := "before\n| a | b |\n|---|---|\n| 1 | 2 |\nafter"
	got := ConvertMarkdownTables(in, TableModeCode)
	want := "before\n```\n| a | b |\n|---|---|\n| 1 | 2 |\n```\nafter"
	if got != want {
		t.Fatalf("got=%q want=%q", got, want)
	}
	if got := ConvertMarkdownTables(in, TableModeOff); got != in {
		t.Fatalf("off mode mutated text: %q", got)
	}
}
