package ollama

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const maxPromptRunes = 6000

func buildTableSummaryPrompt(markdown string) string {
	return `Summarize the table below in two or three sentences.
Name what the rows and columns describe and the most notable values.
Answer with the summary only, no markdown.

Table:
` + truncateRunes(markdown, maxPromptRunes)
}

func buildTitlePrompt(kind domain.ElementKind, content string) string {
	subject := "table"
	if kind == domain.ElementImage {
		subject = "image"
	}
	return `Write a short title, at most ten words, for the ` + subject + ` described below.
Answer with the title only, no quotes.

Content:
` + truncateRunes(content, maxPromptRunes)
}

// cleanTitle keeps the first line of a model answer without wrapping quotes.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	return strings.Trim(title, "\"'` ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
