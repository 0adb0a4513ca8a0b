package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type RerankerConfig struct {
	BatchSize int
	Timeout   time.Duration
}

// Reranker orders fused candidates with a cross-encoder. When the model is
// unavailable it keeps the fused order and marks scores with
// domain.RerankFallbackScore.
type Reranker struct {
	scorer    ports.RelevanceScorer
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

func NewReranker(scorer ports.RelevanceScorer, cfg RerankerConfig, logger *slog.Logger) *Reranker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		scorer:    scorer,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		logger:    logger.With("component", "reranker"),
	}
}

func (r *Reranker) Rerank(
	ctx context.Context,
	query string,
	candidates []domain.ScoredSegment,
	topK int,
) ([]domain.ScoredSegment, domain.RerankStats) {
	if len(candidates) == 0 {
		return nil, domain.RerankStats{}
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("rerank_fallback", "candidates", len(candidates), "error", err)
		return fallbackOrder(candidates, topK), domain.RerankStats{Fallback: true, Err: err}
	}

	out := make([]domain.ScoredSegment, len(candidates))
	for i, c := range candidates {
		c.Score = scores[i]
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out[:topK], domain.RerankStats{Scored: len(candidates)}
}

func (r *Reranker) score(ctx context.Context, query string, candidates []domain.ScoredSegment) ([]float64, error) {
	if r.scorer == nil {
		return nil, domain.WrapError(domain.ErrCapability, "rerank", errors.New("relevance scorer is not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := min(start+r.batchSize, len(candidates))
		texts := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			texts = append(texts, c.Segment.RerankText())
		}

		batch, err := r.scorer.Score(ctx, query, texts)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCapability, "rerank", err)
		}
		if len(batch) != len(texts) {
			return nil, domain.WrapError(domain.ErrCapability, "rerank", fmt.Errorf("scores/texts mismatch: %d/%d", len(batch), len(texts)))
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func fallbackOrder(candidates []domain.ScoredSegment, topK int) []domain.ScoredSegment {
	out := make([]domain.ScoredSegment, topK)
	for i := range out {
		c := candidates[i]
		c.Score = domain.RerankFallbackScore
		out[i] = c
	}
	return out
}
