package chunking

import (
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestTableFormatterHTML(t *testing.T) {
	formatter := NewTableFormatter()
	table, err := formatter.Format(domain.TableElement{
		Body: `<html><body><table>
			<tr><th>Region</th><th colspan="2">Revenue</th></tr>
			<tr><td>North | East</td><td>10</td></tr>
			<tr><td>South</td><td>20<br>est.</td><td>30</td></tr>
		</table></body></html>`,
		Caption:  " Table 2 ",
		Footnote: "Unaudited",
	})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}

	if table.Header != "| Region | Revenue | Revenue |\n| --- | --- | --- |" {
		t.Fatalf("unexpected header: %q", table.Header)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[0] != `| North \| East | 10 |  |` {
		t.Fatalf("unexpected padded row: %q", table.Rows[0])
	}
	if table.Rows[1] != "| South | 20 est. | 30 |" {
		t.Fatalf("unexpected row: %q", table.Rows[1])
	}
	if table.Caption != "Table 2" || table.Footnote != "Unaudited" {
		t.Fatalf("unexpected caption/footnote: %+v", table)
	}
}

func TestTableFormatterPlainBody(t *testing.T) {
	table, err := NewTableFormatter().Format(domain.TableElement{Body: "a b\n\n c d "})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if table.Header != "" || len(table.Rows) != 2 || table.Rows[1] != "c d" {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestTableFormatterEmptyBody(t *testing.T) {
	_, err := NewTableFormatter().Format(domain.TableElement{Body: "  "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
