package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type SearchConfig struct {
	TopK     int
	KDense   int
	KLexical int
}

type SearchUseCase struct {
	retriever *HybridRetriever
	segments  ports.SegmentRepository
	reranker  *Reranker
	cache     ports.SearchCache
	cfg       SearchConfig
	logger    *slog.Logger
}

func NewSearchUseCase(
	retriever *HybridRetriever,
	segments ports.SegmentRepository,
	reranker *Reranker,
	cache ports.SearchCache,
	cfg SearchConfig,
	logger *slog.Logger,
) *SearchUseCase {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchUseCase{
		retriever: retriever,
		segments:  segments,
		reranker:  reranker,
		cache:     cache,
		cfg:       cfg,
		logger:    logger.With("component", "search"),
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is required"))
	}
	if err := validatePrincipals(q.PrincipalIDs); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", err)
	}
	if q.TopK <= 0 {
		q.TopK = uc.cfg.TopK
	}
	if q.KDense <= 0 {
		q.KDense = uc.cfg.KDense
	}
	if q.KLexical <= 0 {
		q.KLexical = uc.cfg.KLexical
	}

	if uc.cache == nil {
		return uc.search(ctx, q)
	}
	result, hit, err := uc.cache.GetOrCompute(ctx, q, func(computeCtx context.Context) (*domain.SearchResult, error) {
		return uc.search(computeCtx, q)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		uc.logger.Debug("search_cache_hit", "top_k", q.TopK)
	}
	return result, nil
}

func (uc *SearchUseCase) search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error) {
	candidates, stats, err := uc.retriever.Retrieve(ctx, q.Query, q.PrincipalIDs, q.KDense, q.KLexical)
	if err != nil {
		return nil, err
	}
	result := &domain.SearchResult{
		Hits: []domain.SearchHit{},
		Degraded: domain.Degraded{
			Dense:   stats.DenseDegraded,
			Lexical: stats.LexicalDegraded,
		},
	}
	if len(candidates) == 0 {
		return result, nil
	}

	hydrated, err := uc.hydrate(ctx, candidates)
	if err != nil {
		return nil, err
	}

	ranked, rerankStats := uc.reranker.Rerank(ctx, q.Query, hydrated, q.TopK)
	result.Degraded.Rerank = rerankStats.Fallback
	for _, s := range ranked {
		result.Hits = append(result.Hits, toSearchHit(s))
	}

	uc.logger.Info("search_completed",
		"dense_hits", stats.DenseHits,
		"lexical_hits", stats.LexicalHits,
		"boosted_parents", stats.BoostedParents,
		"returned", len(result.Hits),
		"rerank_fallback", rerankStats.Fallback,
	)
	return result, nil
}

// hydrate loads authoritative segment content in candidate order. Candidates
// whose segment is gone (deleted document, lagging index) are dropped.
func (uc *SearchUseCase) hydrate(ctx context.Context, candidates []domain.Candidate) ([]domain.ScoredSegment, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SegmentID
	}
	segments, err := uc.segments.GetByIDs(ctx, ids)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "hydrate segments", err)
	}

	byID := make(map[string]domain.Segment, len(segments))
	for _, s := range segments {
		byID[s.ID] = s
	}
	out := make([]domain.ScoredSegment, 0, len(candidates))
	for _, c := range candidates {
		s, ok := byID[c.SegmentID]
		if !ok {
			continue
		}
		out = append(out, domain.ScoredSegment{Segment: s, Score: c.Score, Source: c.Source})
	}
	if missing := len(candidates) - len(out); missing > 0 {
		uc.logger.Warn("stale_index_candidates", "missing", missing)
	}
	return out, nil
}

func toSearchHit(s domain.ScoredSegment) domain.SearchHit {
	hit := domain.SearchHit{
		SegmentID:    s.Segment.ID,
		DocumentID:   s.Segment.DocumentID,
		DocumentName: s.Segment.DocumentName,
		Type:         s.Segment.Type,
		Content:      s.Segment.Content,
		PageIdx:      s.Segment.PageIdx,
		Score:        s.Score,
		Source:       s.Source,
	}
	if s.Segment.ParentID != nil {
		hit.ParentID = *s.Segment.ParentID
	}
	if s.Segment.Summary != nil {
		hit.Summary = *s.Segment.Summary
	}
	return hit
}
