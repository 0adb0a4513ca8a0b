// Package elements loads the stored layout-parser output of a document.
package elements

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// maxPayloadBytes bounds a single element payload read from storage.
const maxPayloadBytes = 64 << 20

type Loader struct {
	storage ports.ObjectStorage
}

func NewLoader(storage ports.ObjectStorage) *Loader {
	return &Loader{storage: storage}
}

func (l *Loader) Load(ctx context.Context, doc *domain.Document) ([]domain.Element, error) {
	reader, err := l.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open element payload: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read element payload: %w", err)
	}
	if len(raw) > maxPayloadBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read element payload", fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes))
	}
	return domain.DecodeElements(raw)
}
