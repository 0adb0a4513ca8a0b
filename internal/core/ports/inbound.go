package ports

import (
	"context"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document registration.
type DocumentIngestor interface {
	Register(ctx context.Context, req domain.RegisterDocument) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentDeleter removes a document from every store.
type DocumentDeleter interface {
	Delete(ctx context.Context, documentID string) (domain.DeleteReport, error)
}

// SegmentSearcher is the inbound contract for hybrid retrieval.
type SegmentSearcher interface {
	Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResult, error)
}
