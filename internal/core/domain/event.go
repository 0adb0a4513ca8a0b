package domain

import "time"

type EventType string

const (
	EventDocumentCompleted EventType = "document.completed"
	EventDocumentFailed    EventType = "document.failed"
	EventDocumentDeleted   EventType = "document.deleted"
)

type DocumentEvent struct {
	Type         EventType      `json:"type"`
	DocumentID   string         `json:"doc_id"`
	Status       DocumentStatus `json:"status,omitempty"`
	SegmentCount int            `json:"segment_count,omitempty"`
	Error        string         `json:"error,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}
