package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const defaultCaptionMaxRunes = 100

// Assembler groups parsed elements into pages, merging text runs and
// resolving missing table/image captions.
type Assembler struct {
	summarizer      ports.Summarizer
	captionMaxRunes int
	logger          *slog.Logger
}

func NewAssembler(summarizer ports.Summarizer, captionMaxRunes int, logger *slog.Logger) *Assembler {
	if captionMaxRunes <= 0 {
		captionMaxRunes = defaultCaptionMaxRunes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		summarizer:      summarizer,
		captionMaxRunes: captionMaxRunes,
		logger:          logger.With("component", "assembler"),
	}
}

func (a *Assembler) Assemble(ctx context.Context, elements []domain.Element) ([]domain.Page, error) {
	if len(elements) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "assemble", errors.New("empty document"))
	}

	pages := groupPages(elements)
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "assemble", errors.New("document has no content"))
	}

	lookback := NewLookback(pages)
	for p := range pages {
		for i, item := range pages[p].Elements {
			switch el := item.(type) {
			case domain.TableElement:
				if strings.TrimSpace(el.Caption) == "" {
					el.Caption = a.resolveCaption(ctx, lookback, p, i, domain.ElementTable, el.Body)
					pages[p].Elements[i] = el
				}
			case domain.ImageElement:
				if strings.TrimSpace(el.Caption) == "" {
					el.Caption = a.resolveCaption(ctx, lookback, p, i, domain.ElementImage, imageTitleInput(el))
					pages[p].Elements[i] = el
				}
			}
		}
	}
	return pages, nil
}

// resolveCaption tries, in order: the caption of a preceding table or image,
// a short preceding text, then a synthesized title.
func (a *Assembler) resolveCaption(
	ctx context.Context,
	lookback Lookback,
	page, item int,
	kind domain.ElementKind,
	content string,
) string {
	if prev, ok := lookback.Previous(page, item); ok {
		switch p := prev.(type) {
		case domain.TableElement:
			if c := strings.TrimSpace(p.Caption); c != "" {
				return c
			}
		case domain.ImageElement:
			if c := strings.TrimSpace(p.Caption); c != "" {
				return c
			}
		case domain.TextBlock:
			last := strings.TrimSpace(p.LastPart())
			if last != "" && utf8.RuneCountInString(last) < a.captionMaxRunes {
				return last
			}
		}
	}

	if a.summarizer == nil || strings.TrimSpace(content) == "" {
		return ""
	}
	title, err := a.summarizer.Title(ctx, kind, content)
	if err != nil {
		a.logger.Warn("caption_title_failed", "kind", kind, "error", err)
		return ""
	}
	return strings.TrimSpace(title)
}

func imageTitleInput(img domain.ImageElement) string {
	parts := make([]string, 0, 2)
	if img.Footnote != "" {
		parts = append(parts, img.Footnote)
	}
	if name := img.FileName(); name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, "\n")
}

// groupPages orders pages by index and merges consecutive text elements of a
// page into one TextBlock.
func groupPages(elements []domain.Element) []domain.Page {
	byIndex := make(map[int]*domain.Page)
	var order []int
	var pending []string
	pendingPage := -1

	page := func(idx int) *domain.Page {
		p, ok := byIndex[idx]
		if !ok {
			p = &domain.Page{Index: idx}
			byIndex[idx] = p
			order = append(order, idx)
		}
		return p
	}
	flush := func() {
		if len(pending) > 0 {
			p := page(pendingPage)
			p.Elements = append(p.Elements, domain.TextBlock{Parts: pending})
		}
		pending = nil
	}

	for _, el := range elements {
		if el.Page() != pendingPage {
			flush()
			pendingPage = el.Page()
		}
		switch e := el.(type) {
		case domain.TextElement:
			if text := strings.TrimSpace(e.Text); text != "" {
				pending = append(pending, text)
			}
		case domain.TableElement:
			flush()
			p := page(e.PageIdx)
			p.Elements = append(p.Elements, e)
		case domain.ImageElement:
			flush()
			p := page(e.PageIdx)
			p.Elements = append(p.Elements, e)
		}
	}
	flush()

	sort.Ints(order)
	pages := make([]domain.Page, 0, len(order))
	for _, idx := range order {
		pages = append(pages, *byIndex[idx])
	}
	return pages
}
