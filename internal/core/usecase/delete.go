package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type DeleteDocumentUseCase struct {
	repo      ports.DocumentRepository
	persister *Persister
	storage   ports.ObjectStorage
	events    ports.EventPublisher
	cache     ports.SearchCache
	logger    *slog.Logger
	now       func() time.Time
}

func NewDeleteDocumentUseCase(
	repo ports.DocumentRepository,
	persister *Persister,
	storage ports.ObjectStorage,
	events ports.EventPublisher,
	cache ports.SearchCache,
	logger *slog.Logger,
) *DeleteDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteDocumentUseCase{
		repo:      repo,
		persister: persister,
		storage:   storage,
		events:    events,
		cache:     cache,
		logger:    logger.With("component", "delete"),
		now:       time.Now,
	}
}

// Delete hides the document first, then removes its segments from every
// store. Store failures are reported, not returned as errors.
func (uc *DeleteDocumentUseCase) Delete(ctx context.Context, documentID string) (domain.DeleteReport, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return domain.DeleteReport{}, fmt.Errorf("fetch document by id: %w", err)
	}
	if err := uc.repo.SoftDelete(ctx, doc.ID); err != nil {
		return domain.DeleteReport{}, fmt.Errorf("soft delete document: %w", err)
	}

	report := uc.persister.DeleteDocument(ctx, doc.ID)
	if report.Failed() {
		uc.logger.Warn("document_delete_partial", "doc_id", doc.ID, "stores", report.Stores)
	}

	if uc.storage != nil && doc.StoragePath != "" {
		if err := uc.storage.Delete(ctx, doc.StoragePath); err != nil {
			uc.logger.Warn("payload_delete_failed", "doc_id", doc.ID, "error", err)
		}
	}
	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx); err != nil {
			uc.logger.Warn("search_cache_invalidate_failed", "error", err)
		}
	}
	if uc.events != nil {
		err := uc.events.Publish(ctx, domain.DocumentEvent{
			Type:       domain.EventDocumentDeleted,
			DocumentID: doc.ID,
			OccurredAt: uc.now().UTC(),
		})
		if err != nil {
			uc.logger.Warn("document_event_publish_failed", "doc_id", doc.ID, "error", err)
		}
	}
	return report, nil
}
