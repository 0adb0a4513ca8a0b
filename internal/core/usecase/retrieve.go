package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type RetrieverConfig struct {
	KDense         int
	KLexical       int
	DenseTimeout   time.Duration
	LexicalTimeout time.Duration
	// ParentBoost scales a child's score into the boost of its parent.
	ParentBoost float64
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	if c.KDense <= 0 {
		c.KDense = 20
	}
	if c.KLexical <= 0 {
		c.KLexical = 20
	}
	if c.DenseTimeout <= 0 {
		c.DenseTimeout = 3 * time.Second
	}
	if c.LexicalTimeout <= 0 {
		c.LexicalTimeout = 2 * time.Second
	}
	if c.ParentBoost <= 0 {
		c.ParentBoost = 0.1
	}
	return c
}

// HybridRetriever queries the dense and lexical indexes in parallel and fuses
// their hits. A failing path degrades to no hits.
type HybridRetriever struct {
	embedder ports.Embedder
	dense    ports.VectorIndex
	lexical  ports.LexicalIndex
	cfg      RetrieverConfig
	logger   *slog.Logger
}

func NewHybridRetriever(
	embedder ports.Embedder,
	dense ports.VectorIndex,
	lexical ports.LexicalIndex,
	cfg RetrieverConfig,
	logger *slog.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		embedder: embedder,
		dense:    dense,
		lexical:  lexical,
		cfg:      cfg.normalize(),
		logger:   logger.With("component", "retriever"),
	}
}

// Retrieve returns fused candidates ordered by score. kDense and kLexical
// fall back to the configured defaults when not positive.
func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	query string,
	principalIDs []string,
	kDense, kLexical int,
) ([]domain.Candidate, domain.RetrievalStats, error) {
	var stats domain.RetrievalStats
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, stats, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	if err := validatePrincipals(principalIDs); err != nil {
		return nil, stats, domain.WrapError(domain.ErrInvalidInput, "retrieve", err)
	}
	if kDense <= 0 {
		kDense = r.cfg.KDense
	}
	if kLexical <= 0 {
		kLexical = r.cfg.KLexical
	}

	var denseHits, lexicalHits []domain.Candidate
	var g errgroup.Group
	g.Go(func() error {
		denseHits, stats.DenseErr = r.searchDense(ctx, query, kDense, principalIDs)
		return nil
	})
	g.Go(func() error {
		lexicalHits, stats.LexicalErr = r.searchLexical(ctx, query, kLexical, principalIDs)
		return nil
	})
	_ = g.Wait()

	if stats.DenseErr != nil {
		stats.DenseDegraded = true
		r.logger.Warn("dense_path_degraded", "error", stats.DenseErr)
	}
	if stats.LexicalErr != nil {
		stats.LexicalDegraded = true
		r.logger.Warn("lexical_path_degraded", "error", stats.LexicalErr)
	}
	stats.DenseHits = len(denseHits)
	stats.LexicalHits = len(lexicalHits)

	fused, boosted := FuseCandidates(denseHits, lexicalHits, r.cfg.ParentBoost)
	stats.BoostedParents = boosted
	return fused, stats, nil
}

func (r *HybridRetriever) searchDense(ctx context.Context, query string, k int, principals []string) ([]domain.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DenseTimeout)
	defer cancel()

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCapability, "embed query", err)
	}
	hits, err := r.dense.Search(ctx, vector, k, principals)
	if err != nil {
		return nil, err
	}
	return withSource(hits, domain.SourceDense), nil
}

func (r *HybridRetriever) searchLexical(ctx context.Context, query string, k int, principals []string) ([]domain.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LexicalTimeout)
	defer cancel()

	hits, err := r.lexical.Search(ctx, query, k, principals)
	if err != nil {
		return nil, err
	}
	return withSource(hits, domain.SourceLexical), nil
}

func withSource(hits []domain.Candidate, source domain.CandidateSource) []domain.Candidate {
	out := make([]domain.Candidate, len(hits))
	for i, h := range hits {
		h.Source = source
		out[i] = h
	}
	return out
}

// FuseCandidates merges dense and lexical hits keyed by segment id. Dense hits
// come first and win collisions; scores are never blended. Parents of hits
// that were not retrieved themselves are injected with boost times the best
// child score, capped at that child's score. The result is sorted by score, ties keeping insertion order.
func FuseCandidates(dense, lexical []domain.Candidate, boost float64) ([]domain.Candidate, int) {
	fused := make([]domain.Candidate, 0, len(dense)+len(lexical))
	seen := make(map[string]struct{}, len(dense)+len(lexical))

	add := func(hits []domain.Candidate) {
		for _, h := range hits {
			if _, ok := seen[h.SegmentID]; ok {
				continue
			}
			seen[h.SegmentID] = struct{}{}
			fused = append(fused, h)
		}
	}
	add(dense)
	add(lexical)

	var parentOrder []string
	parentScore := make(map[string]float64)
	for _, hits := range [][]domain.Candidate{dense, lexical} {
		for _, h := range hits {
			if h.ParentID == "" {
				continue
			}
			if _, direct := seen[h.ParentID]; direct {
				continue
			}
			// Never above the child, including for negative inner products.
			score := min(h.Score, boost*h.Score)
			prev, ok := parentScore[h.ParentID]
			if !ok {
				parentOrder = append(parentOrder, h.ParentID)
			}
			if !ok || score > prev {
				parentScore[h.ParentID] = score
			}
		}
	}
	for _, id := range parentOrder {
		fused = append(fused, domain.Candidate{
			SegmentID: id,
			Score:     parentScore[id],
			Source:    domain.SourceParentBoost,
		})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused, len(parentOrder)
}

func validatePrincipals(principals []string) error {
	if len(principals) == 0 {
		return errors.New("principal_ids are required")
	}
	for _, p := range principals {
		if strings.TrimSpace(p) == "" {
			return errors.New("principal_ids must not contain blank values")
		}
	}
	return nil
}
