package chunking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const maxColspan = 32

// TableFormatter converts layout-parser table bodies (HTML) into markdown.
// Bodies without table markup are kept line by line.
type TableFormatter struct{}

func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

func (f *TableFormatter) Format(table domain.TableElement) (domain.MarkdownTable, error) {
	out := domain.MarkdownTable{
		Caption:  strings.TrimSpace(table.Caption),
		Footnote: strings.TrimSpace(table.Footnote),
	}

	body := strings.TrimSpace(table.Body)
	if body == "" {
		return out, domain.WrapError(domain.ErrInvalidInput, "format table", errors.New("empty table body"))
	}
	if !strings.Contains(strings.ToLower(body), "<tr") {
		out.Rows = nonEmptyLines(body)
		return out, nil
	}

	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return out, domain.WrapError(domain.ErrInvalidInput, "format table", fmt.Errorf("parse html: %w", err))
	}

	rows := collectRows(root)
	if len(rows) == 0 {
		out.Rows = nonEmptyLines(textContent(root))
		return out, nil
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	header := pad(rows[0], width)
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	out.Header = markdownRow(header) + "\n" + markdownRow(sep)
	for _, row := range rows[1:] {
		out.Rows = append(out.Rows, markdownRow(pad(row, width)))
	}
	return out, nil
}

func collectRows(n *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.Tr {
			if row := collectCells(node); len(row) > 0 {
				rows = append(rows, row)
			}
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return rows
}

func collectCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		text := escapeCell(textContent(c))
		span := 1
		if v := attr(c, "colspan"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 1 {
				span = min(n, maxColspan)
			}
		}
		for i := 0; i < span; i++ {
			cells = append(cells, text)
		}
	}
	return cells
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch {
		case node.Type == html.TextNode:
			b.WriteString(node.Data)
		case node.Type == html.ElementNode && node.DataAtom == atom.Br:
			b.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func pad(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

func markdownRow(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
