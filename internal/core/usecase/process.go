package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// ProcessDocumentUseCase runs the write path for one document: load elements,
// assemble pages, segment, persist. The document status always names the
// furthest stage reached.
type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	loader    ports.ElementLoader
	assembler *Assembler
	segmenter *Segmenter
	persister *Persister
	events    ports.EventPublisher
	cache     ports.SearchCache
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	loader ports.ElementLoader,
	assembler *Assembler,
	segmenter *Segmenter,
	persister *Persister,
	events ports.EventPublisher,
	cache ports.SearchCache,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:      repo,
		loader:    loader,
		assembler: assembler,
		segmenter: segmenter,
		persister: persister,
		events:    events,
		cache:     cache,
		logger:    logger.With("component", "process"),
		now:       time.Now,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Deleted {
		uc.logger.Info("document_skipped", "doc_id", doc.ID, "reason", "deleted")
		return nil
	}
	if doc.Status == domain.StatusCompleted {
		uc.logger.Info("document_skipped", "doc_id", doc.ID, "reason", "already completed")
		return nil
	}

	elements, err := uc.loader.Load(ctx, doc)
	if err != nil {
		return uc.fail(ctx, doc.ID, domain.StatusParseFailed, fmt.Errorf("load elements: %w", err))
	}
	if err := uc.markStatus(ctx, doc.ID, domain.StatusParsed); err != nil {
		return err
	}

	pages, err := uc.assembler.Assemble(ctx, elements)
	if err != nil {
		return uc.fail(ctx, doc.ID, domain.StatusMergeFailed, fmt.Errorf("assemble pages: %w", err))
	}
	if err := uc.markStatus(ctx, doc.ID, domain.StatusMerged); err != nil {
		return err
	}

	segments, err := uc.segmenter.Segment(ctx, pages, domain.SegmentInput{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		PrincipalIDs: doc.PrincipalIDs,
	})
	if err != nil {
		return uc.fail(ctx, doc.ID, domain.StatusSegmentFailed, fmt.Errorf("segment document: %w", err))
	}
	if err := uc.markStatus(ctx, doc.ID, domain.StatusSegmented); err != nil {
		return err
	}

	result, err := uc.persister.Persist(ctx, segments)
	if err != nil {
		return uc.fail(ctx, doc.ID, domain.StatusPersistFailed, fmt.Errorf("persist segments: %w", err))
	}
	if len(result.FailedSegmentIDs) > 0 || len(result.Rejected) > 0 {
		persistErr := fmt.Errorf("persist segments: %d failed, %d rejected of %d",
			len(result.FailedSegmentIDs), len(result.Rejected), len(segments))
		if len(result.Rejected) == 0 {
			persistErr = domain.WrapError(domain.ErrTemporary, "persist segments", persistErr)
		} else {
			persistErr = domain.WrapError(domain.ErrIntegrity, "persist segments", persistErr)
		}
		return uc.fail(ctx, doc.ID, domain.StatusPersistFailed, persistErr)
	}

	if err := uc.repo.MarkCompleted(ctx, doc.ID, result.OKCount); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	uc.logger.Info("document_completed", "doc_id", doc.ID, "segments", result.OKCount, "vector_skipped", len(result.VectorSkipped))

	uc.invalidateCache(ctx)
	uc.publish(ctx, domain.DocumentEvent{
		Type:         domain.EventDocumentCompleted,
		DocumentID:   doc.ID,
		Status:       domain.StatusCompleted,
		SegmentCount: result.OKCount,
	})
	return nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus) error {
	if err := uc.repo.UpdateStatus(ctx, documentID, status, ""); err != nil {
		return fmt.Errorf("set status=%s: %w", status, err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) fail(ctx context.Context, documentID string, status domain.DocumentStatus, processErr error) error {
	uc.logger.Error("document_failed", "doc_id", documentID, "status", status, "error", processErr)
	if err := uc.repo.UpdateStatus(ctx, documentID, status, processErr.Error()); err != nil {
		return fmt.Errorf("%w; mark failed status: %v", processErr, err)
	}
	uc.publish(ctx, domain.DocumentEvent{
		Type:       domain.EventDocumentFailed,
		DocumentID: documentID,
		Status:     status,
		Error:      processErr.Error(),
	})
	return processErr
}

func (uc *ProcessDocumentUseCase) invalidateCache(ctx context.Context) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Invalidate(ctx); err != nil {
		uc.logger.Warn("search_cache_invalidate_failed", "error", err)
	}
}

func (uc *ProcessDocumentUseCase) publish(ctx context.Context, event domain.DocumentEvent) {
	if uc.events == nil {
		return
	}
	event.OccurredAt = uc.now().UTC()
	if err := uc.events.Publish(ctx, event); err != nil {
		uc.logger.Warn("document_event_publish_failed", "doc_id", event.DocumentID, "type", event.Type, "error", err)
	}
}
