package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// Client is the dense segment index. Vectors are compared by dot product, so
// embeddings are expected to be normalized.
type Client struct {
	transport
	collection string

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		transport: transport{
			baseURL:    strings.TrimRight(baseURL, "/"),
			httpClient: &http.Client{Timeout: 60 * time.Second},
		},
		collection: collection,
	}
}

// Upsert writes one point per segment that carries a vector.
func (c *Client) Upsert(ctx context.Context, segments []domain.Segment) error {
	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(segments))
	vectorSize := 0
	for _, seg := range segments {
		if len(seg.Vector) == 0 {
			continue
		}
		if vectorSize == 0 {
			vectorSize = len(seg.Vector)
		}
		if len(seg.Vector) != vectorSize {
			return fmt.Errorf("segment %s vector size %d, expected %d", seg.ID, len(seg.Vector), vectorSize)
		}
		points = append(points, point{
			ID:      pointID(seg.ID),
			Vector:  seg.Vector,
			Payload: segmentPayload(seg),
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := c.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.do(ctx, "upsert", http.MethodPut, path, map[string]any{"points": points}, nil)
}

// Search returns the nearest segments visible to principals. An empty
// principal set matches nothing.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, principals []string) ([]domain.Candidate, error) {
	if len(vector) == 0 || len(principals) == 0 || limit <= 0 {
		return []domain.Candidate{}, nil
	}

	reqBody := map[string]any{
		"query":        vector,
		"limit":        limit,
		"with_payload": []string{"segment_id", "parent_segment_id"},
		"filter":       principalFilter(principals),
	}
	var resp queryResponse
	path := fmt.Sprintf("/collections/%s/points/query", c.collection)
	if err := c.do(ctx, "search", http.MethodPost, path, reqBody, &resp); err != nil {
		if isNotFound(err) {
			return []domain.Candidate{}, nil
		}
		return nil, err
	}
	return resp.candidates(domain.SourceDense), nil
}

func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	err := c.do(ctx, "delete", http.MethodPost, path, map[string]any{"filter": documentFilter(documentID)}, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Dot",
		},
	}
	err := c.do(ctx, "ensure collection", http.MethodPut, "/collections/"+c.collection, reqBody, nil)
	// 200/201 for create, 409 if already exists (depends on version/config).
	if err != nil && !isConflict(err) {
		return err
	}
	if err := c.ensurePayloadIndexes(ctx); err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) ensurePayloadIndexes(ctx context.Context) error {
	return createKeywordIndexes(ctx, &c.transport, c.collection)
}
