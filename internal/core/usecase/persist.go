package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type PersisterConfig struct {
	BatchSize    int
	WriteTimeout time.Duration
}

func (c PersisterConfig) normalize() PersisterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Persister writes segments to the relational, dense and lexical stores.
// Every store write is idempotent by segment id, so each store is retried on
// its own and reported on its own.
type Persister struct {
	relational ports.SegmentRepository
	dense      ports.VectorIndex
	lexical    ports.LexicalIndex
	retrier    ports.Retrier
	cfg        PersisterConfig
	logger     *slog.Logger
}

func NewPersister(
	relational ports.SegmentRepository,
	dense ports.VectorIndex,
	lexical ports.LexicalIndex,
	retrier ports.Retrier,
	cfg PersisterConfig,
	logger *slog.Logger,
) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		relational: relational,
		dense:      dense,
		lexical:    lexical,
		retrier:    retrier,
		cfg:        cfg.normalize(),
		logger:     logger.With("component", "persister"),
	}
}

func (p *Persister) Persist(ctx context.Context, segments []domain.Segment) (domain.PersistResult, error) {
	result := domain.PersistResult{StoreFailures: make(map[domain.Store][]string)}
	if len(segments) == 0 {
		return result, nil
	}

	accepted, rejected, unresolved := p.checkIntegrity(ctx, segments)
	result.Rejected = rejected
	for _, r := range rejected {
		p.logger.Warn("segment_rejected", "segment_id", r.SegmentID, "reason", r.Reason)
	}

	failed := make(map[string]struct{})
	for _, id := range unresolved {
		failed[id] = struct{}{}
		result.StoreFailures[domain.StoreRelational] = append(result.StoreFailures[domain.StoreRelational], id)
	}

	for start := 0; start < len(accepted); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(accepted))
		batch := accepted[start:end]

		for store, ids := range p.writeBatch(ctx, batch) {
			result.StoreFailures[store] = append(result.StoreFailures[store], ids...)
			for _, id := range ids {
				failed[id] = struct{}{}
			}
		}
		for _, s := range batch {
			if len(s.Vector) == 0 {
				result.VectorSkipped = append(result.VectorSkipped, s.ID)
			}
		}
	}

	for _, s := range accepted {
		if _, bad := failed[s.ID]; bad {
			result.FailedSegmentIDs = append(result.FailedSegmentIDs, s.ID)
			continue
		}
		result.OKCount++
	}
	for _, id := range unresolved {
		result.FailedSegmentIDs = append(result.FailedSegmentIDs, id)
	}
	for store, ids := range result.StoreFailures {
		if len(ids) == 0 {
			delete(result.StoreFailures, store)
		}
	}

	if len(result.VectorSkipped) > 0 {
		p.logger.Warn("dense_write_skipped", "segments", len(result.VectorSkipped))
	}
	p.logger.Info("segments_persisted",
		"ok", result.OKCount,
		"failed", len(result.FailedSegmentIDs),
		"rejected", len(result.Rejected),
	)
	return result, nil
}

// checkIntegrity splits segments into accepted (parents first), rejected and
// children whose parent could not be looked up.
func (p *Persister) checkIntegrity(ctx context.Context, segments []domain.Segment) ([]domain.Segment, []domain.Rejection, []string) {
	var (
		rejected []domain.Rejection
		roots    []domain.Segment
		children []domain.Segment
	)
	accepted := make(map[string]domain.SegmentType)

	for _, s := range segments {
		switch {
		case len(s.PrincipalIDs) == 0:
			rejected = append(rejected, domain.Rejection{SegmentID: s.ID, Reason: "missing principal_ids"})
		case s.Type == domain.SegmentChildTable && (s.ParentID == nil || *s.ParentID == ""):
			rejected = append(rejected, domain.Rejection{SegmentID: s.ID, Reason: "child_table without parent"})
		case s.Type != domain.SegmentChildTable && s.ParentID != nil:
			rejected = append(rejected, domain.Rejection{SegmentID: s.ID, Reason: "parent set on " + string(s.Type) + " segment"})
		case s.Type == domain.SegmentChildTable:
			children = append(children, s)
		default:
			roots = append(roots, s)
			accepted[s.ID] = s.Type
		}
	}

	var missing []string
	for _, c := range children {
		if _, ok := accepted[*c.ParentID]; !ok {
			missing = append(missing, *c.ParentID)
		}
	}

	var known map[string]bool
	var lookupErr error
	if len(missing) > 0 {
		known, lookupErr = p.lookupParents(ctx, missing)
		if lookupErr != nil {
			p.logger.Error("parent_lookup_failed", "parents", len(missing), "error", lookupErr)
		}
	}

	var unresolved []string
	for _, c := range children {
		parentID := *c.ParentID
		if typ, ok := accepted[parentID]; ok {
			if typ != domain.SegmentParentTable {
				rejected = append(rejected, domain.Rejection{SegmentID: c.ID, Reason: "parent " + parentID + " is not a parent_table"})
				continue
			}
			roots = append(roots, c)
			continue
		}
		switch {
		case lookupErr != nil:
			unresolved = append(unresolved, c.ID)
		case known[parentID]:
			roots = append(roots, c)
		default:
			rejected = append(rejected, domain.Rejection{SegmentID: c.ID, Reason: "parent " + parentID + " not found"})
		}
	}
	return roots, rejected, unresolved
}

func (p *Persister) lookupParents(ctx context.Context, ids []string) (map[string]bool, error) {
	var known map[string]bool
	_, err := p.retrier.Do(ctx, "persist.relational.parents", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		var err error
		known, err = p.relational.ExistingIDs(callCtx, ids)
		return err
	})
	return known, err
}

// writeBatch fans a batch out to the three stores and returns the ids each
// failing store did not accept.
func (p *Persister) writeBatch(ctx context.Context, batch []domain.Segment) map[domain.Store][]string {
	withVector := make([]domain.Segment, 0, len(batch))
	for _, s := range batch {
		if len(s.Vector) > 0 {
			withVector = append(withVector, s)
		}
	}

	var (
		mu       sync.Mutex
		failures = make(map[domain.Store][]string)
		g        errgroup.Group
	)
	write := func(store domain.Store, segments []domain.Segment, fn func(context.Context, []domain.Segment) error) {
		if len(segments) == 0 {
			return
		}
		g.Go(func() error {
			attempts, err := p.retrier.Do(ctx, "persist."+string(store), func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
				defer cancel()
				return fn(callCtx, segments)
			})
			if err == nil {
				return nil
			}
			p.logger.Error("store_write_failed", "store", store, "segments", len(segments), "attempts", attempts, "error", err)
			ids := make([]string, 0, len(segments))
			for _, s := range segments {
				ids = append(ids, s.ID)
			}
			mu.Lock()
			failures[store] = ids
			mu.Unlock()
			return nil
		})
	}

	write(domain.StoreRelational, batch, p.relational.UpsertSegments)
	write(domain.StoreDense, withVector, p.dense.Upsert)
	write(domain.StoreLexical, batch, p.lexical.Upsert)
	_ = g.Wait()
	return failures
}

// DeleteDocument removes every segment of a document from all stores. A store
// failure does not stop the others.
func (p *Persister) DeleteDocument(ctx context.Context, documentID string) domain.DeleteReport {
	report := domain.DeleteReport{DocumentID: documentID, Stores: make(map[domain.Store]domain.StoreOutcome, 3)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	del := func(store domain.Store, fn func(context.Context, string) error) {
		g.Go(func() error {
			attempts, err := p.retrier.Do(ctx, "delete."+string(store), func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
				defer cancel()
				return fn(callCtx, documentID)
			})
			outcome := domain.StoreOutcome{Attempts: attempts}
			if err != nil {
				outcome.Error = err.Error()
				p.logger.Error("store_delete_failed", "store", store, "doc_id", documentID, "attempts", attempts, "error", err)
			}
			mu.Lock()
			report.Stores[store] = outcome
			mu.Unlock()
			return nil
		})
	}

	del(domain.StoreRelational, p.relational.DeleteByDocument)
	del(domain.StoreDense, p.dense.DeleteByDocument)
	del(domain.StoreLexical, p.lexical.DeleteByDocument)
	_ = g.Wait()
	return report
}
