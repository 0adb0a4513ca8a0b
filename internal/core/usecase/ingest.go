package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	now     func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		now:     time.Now,
	}
}

// Register stores a parsed element payload and queues it for processing. The
// document id is derived from the payload, so re-uploading a completed
// document with the same principals returns it unchanged. Other principals
// are rejected rather than silently ignored.
func (uc *IngestDocumentUseCase) Register(ctx context.Context, req domain.RegisterDocument) (*domain.Document, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document", errors.New("name is required"))
	}
	if err := validatePrincipals(req.PrincipalIDs); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document", err)
	}
	if _, err := domain.DecodeElements(req.Elements); err != nil {
		return nil, err
	}

	id := domain.DocumentID(req.Elements)
	existing, err := uc.repo.GetByID(ctx, id)
	switch {
	case err == nil && existing.Status == domain.StatusCompleted && !existing.Deleted:
		if !samePrincipals(existing.PrincipalIDs, req.PrincipalIDs) {
			return nil, domain.WrapError(domain.ErrIntegrity, "register document",
				fmt.Errorf("document %s is already registered with other principal_ids; delete it before re-registering", id))
		}
		return existing, nil
	case err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound):
		return nil, fmt.Errorf("lookup document: %w", err)
	}

	storageKey := id + ".json"
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(req.Elements)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	now := uc.now().UTC()
	doc := &domain.Document{
		ID:           id,
		Name:         name,
		SourcePath:   req.SourcePath,
		StoragePath:  storageKey,
		PrincipalIDs: append([]string(nil), req.PrincipalIDs...),
		Status:       domain.StatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
	}
	if err := uc.repo.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, nil
}

func samePrincipals(a, b []string) bool {
	as := slices.Compact(slices.Sorted(slices.Values(a)))
	bs := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(as, bs)
}

// GetByID exposes document state to readers.
func (uc *IngestDocumentUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("document %s was deleted", id))
	}
	return doc, nil
}
