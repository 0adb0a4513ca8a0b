package domain

type CandidateSource string

const (
	SourceDense       CandidateSource = "dense"
	SourceLexical     CandidateSource = "lexical"
	SourceParentBoost CandidateSource = "parent_boost"
)

// RerankFallbackScore marks hits returned in fused order because the relevance
// model was unavailable.
const RerankFallbackScore = -1.0

// Candidate is a single index hit. It is never persisted.
type Candidate struct {
	SegmentID string          `json:"segment_id"`
	ParentID  string          `json:"parent_segment_id,omitempty"`
	Score     float64         `json:"score"`
	Source    CandidateSource `json:"source"`
}

type ScoredSegment struct {
	Segment Segment         `json:"segment"`
	Score   float64         `json:"score"`
	Source  CandidateSource `json:"source"`
}

type RetrievalStats struct {
	DenseHits       int   `json:"dense_hits"`
	LexicalHits     int   `json:"lexical_hits"`
	BoostedParents  int   `json:"boosted_parents"`
	DenseDegraded   bool  `json:"dense_degraded"`
	LexicalDegraded bool  `json:"lexical_degraded"`
	DenseErr        error `json:"-"`
	LexicalErr      error `json:"-"`
}

type RerankStats struct {
	Fallback bool  `json:"fallback"`
	Scored   int   `json:"scored"`
	Err      error `json:"-"`
}

type SearchQuery struct {
	Query        string   `json:"query" validate:"required"`
	PrincipalIDs []string `json:"principal_ids" validate:"required,min=1,dive,required"`
	TopK         int      `json:"top_k,omitempty" validate:"gte=0,lte=100"`
	KDense       int      `json:"k_dense,omitempty" validate:"gte=0,lte=200"`
	KLexical     int      `json:"k_lexical,omitempty" validate:"gte=0,lte=200"`
}

type Degraded struct {
	Dense   bool `json:"dense"`
	Lexical bool `json:"lexical"`
	Rerank  bool `json:"rerank"`
}

type SearchHit struct {
	SegmentID    string          `json:"segment_id"`
	ParentID     string          `json:"parent_segment_id,omitempty"`
	DocumentID   string          `json:"doc_id"`
	DocumentName string          `json:"document_name"`
	Type         SegmentType     `json:"type"`
	Content      string          `json:"content"`
	Summary      string          `json:"summary,omitempty"`
	PageIdx      int             `json:"page_idx"`
	Score        float64         `json:"score"`
	Source       CandidateSource `json:"source"`
}

type SearchResult struct {
	Hits     []SearchHit `json:"hits"`
	Degraded Degraded    `json:"degraded"`
}

// Any reports whether any retrieval stage ran degraded.
func (d Degraded) Any() bool {
	return d.Dense || d.Lexical || d.Rerank
}
