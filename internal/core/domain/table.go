package domain

import (
	"strings"
	"unicode/utf8"
)

// MarkdownTable is a table rendered as GitHub markdown. Header holds the
// header row and its separator line.
type MarkdownTable struct {
	Caption  string
	Header   string
	Rows     []string
	Footnote string
}

// Render returns the canonical markdown of the whole table, with the caption
// above and the footnote below.
func (t MarkdownTable) Render() string {
	var b strings.Builder
	if t.Caption != "" {
		b.WriteString(t.Caption)
		b.WriteString("\n\n")
	}
	b.WriteString(t.body(t.Rows))
	if t.Footnote != "" {
		b.WriteString("\n\n")
		b.WriteString(t.Footnote)
	}
	return b.String()
}

func (t MarkdownTable) body(rows []string) string {
	lines := make([]string, 0, len(rows)+1)
	if t.Header != "" {
		lines = append(lines, t.Header)
	}
	lines = append(lines, rows...)
	return strings.Join(lines, "\n")
}

// Chunks groups rows into pieces of at most maxRunes each, repeating the
// header in every piece. A row longer than maxRunes gets a piece of its own.
// At least two pieces are returned for any table with two or more runes of
// content. A table without body rows is cut through its header text.
func (t MarkdownTable) Chunks(maxRunes int) []string {
	if len(t.Rows) == 0 {
		return splitRunes(t.Header, maxRunes)
	}

	headerLen := utf8.RuneCountInString(t.Header)
	var (
		chunks  []string
		current []string
		size    = headerLen
	)
	for _, row := range t.Rows {
		rowLen := utf8.RuneCountInString(row) + 1
		if len(current) > 0 && size+rowLen > maxRunes {
			chunks = append(chunks, t.body(current))
			current = nil
			size = headerLen
		}
		current = append(current, row)
		size += rowLen
	}
	if len(current) > 0 {
		chunks = append(chunks, t.body(current))
	}
	if len(chunks) >= 2 {
		return chunks
	}
	return t.halve()
}

// halve splits a table that fits one piece into two.
func (t MarkdownTable) halve() []string {
	if len(t.Rows) >= 2 {
		mid := len(t.Rows) / 2
		return []string{t.body(t.Rows[:mid]), t.body(t.Rows[mid:])}
	}
	pieces := splitRunes(t.Rows[0], 0)
	out := make([]string, len(pieces))
	for i, piece := range pieces {
		out[i] = t.body([]string{piece})
	}
	return out
}

// splitRunes cuts text into pieces of at most size runes. A size that would
// leave text whole halves it instead, so text of two or more runes always
// yields at least two pieces.
func splitRunes(text string, size int) []string {
	runes := []rune(text)
	if len(runes) < 2 {
		return []string{text}
	}
	if size <= 0 || size >= len(runes) {
		size = (len(runes) + 1) / 2
	}
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		out = append(out, string(runes[start:min(start+size, len(runes))]))
	}
	return out
}
