package transport

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "stream is **down**", "stream is down"},
		{"inline code", "run `systemctl restart obs`", "run systemctl restart obs"},
		{"heading", "## Current Status\nall good", "Current Status\nall good"},
		{"fence", "```\nls -la\n```", "\nls -la\n"},
		{"plain untouched", "nothing fancy here", "nothing fancy here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdown(tt.in); got != tt.want {
				t.Errorf("stripMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateLongMessages(t *testing.T) {
	long := strings.Repeat("a", maxMessageLen+500)
	out := truncate(long, maxMessageLen)
	if len(out) > maxMessageLen {
		t.Fatalf("truncated message still %d bytes", len(out))
	}
	if !strings.HasSuffix(out, "[... truncated ...]") {
		t.Error("truncation marker missing")
	}

	short := "fits fine"
	if truncate(short, maxMessageLen) != short {
		t.Error("short message must pass through untouched")
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// Multi-byte runes positioned so a naive byte cut would land mid-rune.
	long := strings.Repeat("й", maxMessageLen)
	for n := maxMessageLen - 2; n <= maxMessageLen+2; n++ {
		out := truncate(long, n)
		if !utf8.ValidString(out) {
			t.Errorf("truncate(_, %d) produced invalid UTF-8", n)
		}
		if len(out) > n {
			t.Errorf("truncate(_, %d) returned %d bytes", n, len(out))
		}
	}
}
