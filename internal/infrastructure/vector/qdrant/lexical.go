package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const sparseVectorName = "text"

// LexicalIndex keeps a BM25-style sparse vector per segment. Qdrant applies
// the IDF factor at query time.
type LexicalIndex struct {
	transport
	collection string

	ensureMu sync.Mutex
	ensured  bool
}

func NewLexicalIndex(baseURL, collection string) *LexicalIndex {
	return &LexicalIndex{
		transport: transport{
			baseURL:    strings.TrimRight(baseURL, "/"),
			httpClient: &http.Client{Timeout: 60 * time.Second},
		},
		collection: collection,
	}
}

func (l *LexicalIndex) Upsert(ctx context.Context, segments []domain.Segment) error {
	type point struct {
		ID      string                  `json:"id"`
		Vector  map[string]sparseVector `json:"vector"`
		Payload map[string]any          `json:"payload"`
	}

	points := make([]point, 0, len(segments))
	for _, seg := range segments {
		vec := encodeSparseDocument(seg.LexicalText(), seg.DocumentName)
		if len(vec.Indices) == 0 {
			continue
		}
		points = append(points, point{
			ID:      pointID(seg.ID),
			Vector:  map[string]sparseVector{sparseVectorName: vec},
			Payload: segmentPayload(seg),
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := l.ensureCollection(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", l.collection)
	return l.do(ctx, "lexical upsert", http.MethodPut, path, map[string]any{"points": points}, nil)
}

func (l *LexicalIndex) Search(ctx context.Context, query string, limit int, principals []string) ([]domain.Candidate, error) {
	vec := encodeSparseQuery(query)
	if len(vec.Indices) == 0 || len(principals) == 0 || limit <= 0 {
		return []domain.Candidate{}, nil
	}

	reqBody := map[string]any{
		"query":        vec,
		"using":        sparseVectorName,
		"limit":        limit,
		"with_payload": []string{"segment_id", "parent_segment_id"},
		"filter":       principalFilter(principals),
	}
	var resp queryResponse
	path := fmt.Sprintf("/collections/%s/points/query", l.collection)
	if err := l.do(ctx, "lexical search", http.MethodPost, path, reqBody, &resp); err != nil {
		if isNotFound(err) {
			return []domain.Candidate{}, nil
		}
		return nil, err
	}
	return resp.candidates(domain.SourceLexical), nil
}

func (l *LexicalIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", l.collection)
	err := l.do(ctx, "lexical delete", http.MethodPost, path, map[string]any{"filter": documentFilter(documentID)}, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (l *LexicalIndex) ensureCollection(ctx context.Context) error {
	l.ensureMu.Lock()
	defer l.ensureMu.Unlock()
	if l.ensured {
		return nil
	}

	reqBody := map[string]any{
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{"modifier": "idf"},
		},
	}
	err := l.do(ctx, "ensure lexical collection", http.MethodPut, "/collections/"+l.collection, reqBody, nil)
	if err != nil && !isConflict(err) {
		return err
	}
	if err := createKeywordIndexes(ctx, &l.transport, l.collection); err != nil {
		return err
	}
	l.ensured = true
	return nil
}

func isConflict(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict
}

// createKeywordIndexes indexes the payload fields used by filters.
func createKeywordIndexes(ctx context.Context, t *transport, collection string) error {
	for _, field := range []string{"principal_ids", "doc_id"} {
		reqBody := map[string]any{"field_name": field, "field_schema": "keyword"}
		path := fmt.Sprintf("/collections/%s/index?wait=true", collection)
		if err := t.do(ctx, "create payload index", http.MethodPut, path, reqBody, nil); err != nil {
			return err
		}
	}
	return nil
}
