package usecase

import "github.com/kirillkom/hybrid-retrieval/internal/core/domain"

// Lookback answers "what came right before this item" across page breaks.
type Lookback struct {
	pages []domain.Page
}

func NewLookback(pages []domain.Page) Lookback {
	return Lookback{pages: pages}
}

// Previous returns the item preceding pages[page].Elements[item]. The first
// item of a page is preceded by the last item of the previous page.
func (l Lookback) Previous(page, item int) (domain.ResolvedElement, bool) {
	if page < 0 || page >= len(l.pages) {
		return nil, false
	}
	if item > 0 && item <= len(l.pages[page].Elements) {
		return l.pages[page].Elements[item-1], true
	}
	if item != 0 || page == 0 {
		return nil, false
	}
	prev := l.pages[page-1].Elements
	if len(prev) == 0 {
		return nil, false
	}
	return prev[len(prev)-1], true
}
