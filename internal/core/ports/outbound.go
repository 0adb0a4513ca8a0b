package ports

import (
	"context"
	"io"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// DocumentRepository persists and reads document state and permissions.
type DocumentRepository interface {
	Upsert(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	MarkCompleted(ctx context.Context, id string, segmentCount int) error
	SoftDelete(ctx context.Context, id string) error
}

// SegmentRepository is the authoritative relational store of segments.
type SegmentRepository interface {
	UpsertSegments(ctx context.Context, segments []domain.Segment) error
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// GetByIDs returns the stored segments for ids. Segments of deleted
	// documents are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]domain.Segment, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// VectorIndex stores segment vectors and answers dense queries.
type VectorIndex interface {
	Upsert(ctx context.Context, segments []domain.Segment) error
	Search(ctx context.Context, vector []float32, limit int, principals []string) ([]domain.Candidate, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// LexicalIndex stores segment text and answers keyword queries.
type LexicalIndex interface {
	Upsert(ctx context.Context, segments []domain.Segment) error
	Search(ctx context.Context, query string, limit int, principals []string) ([]domain.Candidate, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ObjectStorage stores uploaded element payloads.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ElementLoader reads the parsed elements of a stored document.
type ElementLoader interface {
	Load(ctx context.Context, doc *domain.Document) ([]domain.Element, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// EventPublisher emits document lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.DocumentEvent) error
}

// SearchCache memoizes search results between index changes. compute must
// use the context it is given, which may outlive the caller's.
type SearchCache interface {
	GetOrCompute(ctx context.Context, query domain.SearchQuery, compute func(context.Context) (*domain.SearchResult, error)) (*domain.SearchResult, bool, error)
	Invalidate(ctx context.Context) error
}

// Embedder builds vectors for segments and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Summarizer derives short texts from segment content.
type Summarizer interface {
	SummarizeTable(ctx context.Context, markdown string) (string, error)
	Title(ctx context.Context, kind domain.ElementKind, content string) (string, error)
}

// RelevanceScorer scores (query, text) pairs with a cross-encoder. The result
// has one score per text, in input order.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// TextSplitter splits running text into bounded overlapping chunks.
type TextSplitter interface {
	Split(text string) ([]string, error)
}

// TableFormatter turns table markup into canonical markdown.
type TableFormatter interface {
	Format(table domain.TableElement) (domain.MarkdownTable, error)
}

// TokenCounter measures and truncates model input.
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Retrier runs an idempotent call with bounded retries and reports how many
// attempts were made.
type Retrier interface {
	Do(ctx context.Context, operation string, fn func(context.Context) error) (int, error)
}
