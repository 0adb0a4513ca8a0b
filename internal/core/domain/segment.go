package domain

import "time"

type SegmentType string

const (
	SegmentText        SegmentType = "text"
	SegmentTable       SegmentType = "table"
	SegmentParentTable SegmentType = "parent_table"
	SegmentChildTable  SegmentType = "child_table"
	SegmentImage       SegmentType = "image"
)

// Metadata keys recorded on segments.
const (
	MetaTokens  = "tokens"
	MetaOrdinal = "ordinal"
	MetaImgPath = "img_path"
	MetaCaption = "caption"
)

// Segment is the unit of retrieval. Only child_table segments carry a
// ParentID, which always references the parent_table they were split from.
type Segment struct {
	ID           string            `json:"segment_id"`
	ParentID     *string           `json:"parent_segment_id,omitempty"`
	DocumentID   string            `json:"doc_id"`
	DocumentName string            `json:"document_name"`
	Type         SegmentType       `json:"type"`
	Content      string            `json:"content"`
	Summary      *string           `json:"summary,omitempty"`
	PageIdx      int               `json:"page_idx"`
	PrincipalIDs []string          `json:"principal_ids"`
	Vector       []float32         `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RerankText is the text a relevance model scores for this segment.
func (s Segment) RerankText() string {
	switch s.Type {
	case SegmentTable, SegmentParentTable:
		if s.Summary != nil && *s.Summary != "" {
			return *s.Summary
		}
		return s.Content
	case SegmentImage:
		if caption := s.Metadata[MetaCaption]; caption != "" {
			return caption
		}
		return s.Content
	default:
		return s.Content
	}
}

// EmbedText is the text a dense vector is computed from.
func (s Segment) EmbedText() string {
	if s.Type == SegmentTable || s.Type == SegmentParentTable {
		if s.Summary != nil && *s.Summary != "" {
			return *s.Summary
		}
	}
	return s.Content
}

// LexicalText is the text keyword indexes match against: the content plus
// the summary when one exists.
func (s Segment) LexicalText() string {
	if s.Summary != nil && *s.Summary != "" {
		return s.Content + "\n" + *s.Summary
	}
	return s.Content
}

// Intersects reports whether a and b share at least one principal.
func Intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// SegmentInput carries the document context a segmentation run tags onto
// every segment.
type SegmentInput struct {
	DocumentID   string
	DocumentName string
	PrincipalIDs []string
}

type Store string

const (
	StoreRelational Store = "relational"
	StoreDense      Store = "dense"
	StoreLexical    Store = "lexical"
)

type Rejection struct {
	SegmentID string `json:"segment_id"`
	Reason    string `json:"reason"`
}

type PersistResult struct {
	OKCount          int                `json:"ok_count"`
	FailedSegmentIDs []string           `json:"failed_segment_ids,omitempty"`
	Rejected         []Rejection        `json:"rejected,omitempty"`
	StoreFailures    map[Store][]string `json:"store_failures,omitempty"`
	// VectorSkipped lists segments persisted without a dense vector.
	VectorSkipped []string `json:"vector_skipped,omitempty"`
}

type StoreOutcome struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type DeleteReport struct {
	DocumentID string                 `json:"document_id"`
	Stores     map[Store]StoreOutcome `json:"stores"`
}

// Failed reports whether any store failed to delete.
func (r DeleteReport) Failed() bool {
	for _, outcome := range r.Stores {
		if outcome.Error != "" {
			return true
		}
	}
	return false
}
