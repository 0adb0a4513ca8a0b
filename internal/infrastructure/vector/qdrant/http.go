package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// pointNamespace derives stable Qdrant point ids from segment ids, so
// re-persisting a segment overwrites its point.
var pointNamespace = uuid.MustParse("5b0f1c7e-3a9d-4c52-9e1a-7f2d8b6c4a10")

func pointID(segmentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(segmentID)).String()
}

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "qdrant status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

type transport struct {
	baseURL    string
	httpClient *http.Client
}

// do sends a JSON request and decodes the JSON response into out when out is
// non-nil. Network failures and 429/5xx statuses are domain.ErrTemporary.
func (t *transport) do(ctx context.Context, operation, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return wrapTemporaryIfNeeded(operation, fmt.Errorf("qdrant %s request: %w", operation, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return wrapTemporaryIfNeeded(operation, &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		})
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500 {
			return domain.WrapError(domain.ErrTemporary, operation, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

type queryPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type queryResponse struct {
	Result struct {
		Points []queryPoint `json:"points"`
	} `json:"result"`
}

func (r queryResponse) candidates(source domain.CandidateSource) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(r.Result.Points))
	for _, p := range r.Result.Points {
		id := getStringPayload(p.Payload, "segment_id")
		if id == "" {
			continue
		}
		out = append(out, domain.Candidate{
			SegmentID: id,
			ParentID:  getStringPayload(p.Payload, "parent_segment_id"),
			Score:     p.Score,
			Source:    source,
		})
	}
	return out
}

func segmentPayload(seg domain.Segment) map[string]any {
	payload := map[string]any{
		"segment_id":    seg.ID,
		"doc_id":        seg.DocumentID,
		"document_name": seg.DocumentName,
		"type":          string(seg.Type),
		"page_idx":      seg.PageIdx,
		"principal_ids": seg.PrincipalIDs,
	}
	if seg.ParentID != nil {
		payload["parent_segment_id"] = *seg.ParentID
	}
	if seg.Summary != nil {
		payload["summary_text"] = *seg.Summary
	}
	if len(seg.Metadata) > 0 {
		payload["metadata"] = seg.Metadata
	}
	return payload
}

func principalFilter(principals []string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "principal_ids",
				"match": map[string]any{"any": principals},
			},
		},
	}
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "doc_id",
				"match": map[string]any{"value": documentID},
			},
		},
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
