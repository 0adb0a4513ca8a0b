package chunking

import (
	"strings"
	"testing"
)

func TestApproxTokenCounter(t *testing.T) {
	counter := NewApproxTokenCounter()
	if got := counter.Count(""); got != 0 {
		t.Fatalf("expected 0 tokens, got %d", got)
	}
	if got := counter.Count("abcde"); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}

	text := strings.Repeat("ж", 100)
	if got := counter.Truncate(text, 10); got != strings.Repeat("ж", 40) {
		t.Fatalf("unexpected truncation: %d runes", len([]rune(got)))
	}
	if got := counter.Truncate(text, 0); got != text {
		t.Fatal("expected no truncation when disabled")
	}
}
