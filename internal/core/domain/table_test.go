package domain

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func sampleTable(rows int) MarkdownTable {
	t := MarkdownTable{
		Caption: "Table 1: Revenue",
		Header:  "| Region | Q1 | Q2 |\n| --- | --- | --- |",
	}
	for i := 0; i < rows; i++ {
		t.Rows = append(t.Rows, fmt.Sprintf("| region-%03d | %d | %d |", i, i*10, i*20))
	}
	return t
}

func TestMarkdownTableRender(t *testing.T) {
	table := sampleTable(2)
	table.Footnote = "Source: finance"
	got := table.Render()
	want := "Table 1: Revenue\n\n| Region | Q1 | Q2 |\n| --- | --- | --- |\n| region-000 | 0 | 0 |\n| region-001 | 10 | 20 |\n\nSource: finance"
	if got != want {
		t.Fatalf("unexpected render:\n%s", got)
	}
}

func TestMarkdownTableChunksRepeatHeader(t *testing.T) {
	table := sampleTable(80)
	chunks := table.Chunks(500)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	rows := 0
	for i, chunk := range chunks {
		if !strings.HasPrefix(chunk, table.Header) {
			t.Fatalf("chunk %d does not start with header", i)
		}
		if utf8.RuneCountInString(chunk) > 500 {
			t.Fatalf("chunk %d exceeds bound: %d runes", i, utf8.RuneCountInString(chunk))
		}
		rows += strings.Count(chunk, "| region-")
	}
	if rows != 80 {
		t.Fatalf("expected every row exactly once, got %d rows", rows)
	}
}

func TestMarkdownTableChunksAlwaysSplit(t *testing.T) {
	table := sampleTable(3)
	if got := len(table.Chunks(10_000)); got != 2 {
		t.Fatalf("expected 2 chunks for small table, got %d", got)
	}

	single := MarkdownTable{Header: "| a |\n| --- |", Rows: []string{"| " + strings.Repeat("x", 50) + " |"}}
	if got := len(single.Chunks(10_000)); got != 2 {
		t.Fatalf("expected single row to be halved, got %d chunks", got)
	}
}

func TestMarkdownTableChunksHeaderOnly(t *testing.T) {
	cells := make([]string, 20)
	for i := range cells {
		cells[i] = strings.Repeat("h", 60)
	}
	table := MarkdownTable{Header: "| " + strings.Join(cells, " | ") + " |\n|" + strings.Repeat(" --- |", 20)}

	chunks := table.Chunks(500)
	if len(chunks) < 2 {
		t.Fatalf("expected header-only table to split, got %d chunks", len(chunks))
	}
	if strings.Join(chunks, "") != table.Header {
		t.Fatal("expected chunks to cover the header exactly")
	}
	for i, chunk := range chunks {
		if utf8.RuneCountInString(chunk) > 500 {
			t.Fatalf("chunk %d exceeds bound: %d runes", i, utf8.RuneCountInString(chunk))
		}
	}

	short := MarkdownTable{Header: "| a | b |"}
	if got := len(short.Chunks(10_000)); got != 2 {
		t.Fatalf("expected short header to be halved, got %d chunks", got)
	}
}
