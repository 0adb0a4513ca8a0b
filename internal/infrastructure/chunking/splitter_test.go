package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitterBoundsChunks(t *testing.T) {
	splitter := NewSplitter(500, 100)
	sentence := "Hybrid retrieval fuses dense and lexical candidates. "
	text := strings.Repeat(sentence, 40) + "\n\n" + strings.Repeat(sentence, 20)

	chunks, err := splitter.Split(text)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk); n > 500 {
			t.Fatalf("chunk %d exceeds 500 runes: %d", i, n)
		}
	}
}

func TestSplitterShortText(t *testing.T) {
	chunks, err := NewSplitter(500, 100).Split("  short paragraph  ")
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "short paragraph" {
		t.Fatalf("unexpected chunks: %#v", chunks)
	}
}

func TestSplitterEmptyText(t *testing.T) {
	chunks, err := NewSplitter(500, 100).Split(" \n ")
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestNewSplitterNormalizesOverlap(t *testing.T) {
	s := NewSplitter(100, 200)
	if s.Overlap != 20 {
		t.Fatalf("expected overlap 20, got %d", s.Overlap)
	}
	if d := NewSplitter(0, -1); d.ChunkSize != 500 || d.Overlap != 0 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}
