package telegram

import (
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "newline boundary", in: "aaaa\nbbbb\ncccc", limit: 10, want: []string{"aaaa\nbbbb", "cccc"}},
		{name: "hard cut", in: strings.Repeat("x", 25), limit: 10, want: []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}},
		{name: "runes", in: strings.Repeat("é", 12), limit: 6, want: []string{strings.Repeat("é", 6), strings.Repeat("é", 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("splitText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{ChatID: 1}); err == nil {
		t.Fatalf("New without token: error = nil")
	}
	if _, err := New(Config{Token: "123:abc"}); err == nil {
		t.Fatalf("New without chat: error = nil")
	}
}
