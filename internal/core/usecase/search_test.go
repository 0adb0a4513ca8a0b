package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type searchFixture struct {
	relational *segmentRepoFake
	dense      *indexFake
	lexical    *lexicalFake
	scorer     *scorerFake
	cache      *cacheFake
	uc         *SearchUseCase
}

func newSearchFixture(withCache bool) *searchFixture {
	f := &searchFixture{
		relational: newSegmentRepoFake(),
		dense:      newIndexFake(),
		lexical:    newLexicalFake(),
		scorer:     &scorerFake{scores: map[string]float64{}},
	}
	var cache *cacheFake
	if withCache {
		cache = newCacheFake()
		f.cache = cache
	}
	retriever := NewHybridRetriever(&embedderFake{}, f.dense, f.lexical, RetrieverConfig{}, nil)
	reranker := NewReranker(f.scorer, RerankerConfig{}, nil)
	if cache != nil {
		f.uc = NewSearchUseCase(retriever, f.relational, reranker, cache, SearchConfig{TopK: 2}, nil)
	} else {
		f.uc = NewSearchUseCase(retriever, f.relational, reranker, nil, SearchConfig{TopK: 2}, nil)
	}
	return f
}

func (f *searchFixture) store(segments ...domain.Segment) {
	for _, s := range segments {
		f.relational.segments[s.ID] = s
	}
}

func TestSearchHydratesAndReranks(t *testing.T) {
	f := newSearchFixture(false)
	parent, children := tableFamily("doc-1")
	parent.Summary = strPtr("revenue table")
	text := testSegment("doc-1", domain.SegmentText, "intro text", nil)
	f.store(parent, children[0], text)

	f.dense.hits = []domain.Candidate{{SegmentID: children[0].ID, ParentID: parent.ID, Score: 0.9}}
	f.lexical.hits = []domain.Candidate{{SegmentID: text.ID, Score: 2.0}, {SegmentID: "stale", Score: 1.0}}
	f.scorer.scores = map[string]float64{"revenue table": 0.95, "rows 1-10": 0.5, "intro text": 0.1}

	result, err := f.uc.Search(context.Background(), domain.SearchQuery{Query: "revenue", PrincipalIDs: []string{"team-a"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Degraded.Any() {
		t.Fatalf("unexpected degradation: %+v", result.Degraded)
	}
	if len(result.Hits) != 2 {
		t.Fatalf("expected top 2 hits, got %d", len(result.Hits))
	}
	if result.Hits[0].SegmentID != parent.ID || result.Hits[0].Source != domain.SourceParentBoost || result.Hits[0].Summary != "revenue table" {
		t.Fatalf("expected boosted parent first, got %+v", result.Hits[0])
	}
	if result.Hits[1].SegmentID != children[0].ID || result.Hits[1].ParentID != parent.ID {
		t.Fatalf("unexpected second hit: %+v", result.Hits[1])
	}
}

func TestSearchReportsDegradation(t *testing.T) {
	f := newSearchFixture(false)
	text := testSegment("doc-1", domain.SegmentText, "intro text", nil)
	f.store(text)
	f.dense.err = errors.New("qdrant down")
	f.lexical.hits = []domain.Candidate{{SegmentID: text.ID, Score: 2.0}}
	f.scorer.err = errors.New("reranker down")

	result, err := f.uc.Search(context.Background(), domain.SearchQuery{Query: "intro", PrincipalIDs: []string{"team-a"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	want := domain.Degraded{Dense: true, Rerank: true}
	if result.Degraded != want {
		t.Fatalf("unexpected degradation: %+v", result.Degraded)
	}
	if len(result.Hits) != 1 || result.Hits[0].Score != domain.RerankFallbackScore {
		t.Fatalf("expected fallback hit, got %+v", result.Hits)
	}
}

func TestSearchSkipsDeletedDocuments(t *testing.T) {
	f := newSearchFixture(false)
	text := testSegment("doc-gone", domain.SegmentText, "old", nil)
	f.store(text)
	f.relational.deleted["doc-gone"] = true
	f.lexical.hits = []domain.Candidate{{SegmentID: text.ID, Score: 1}}

	result, err := f.uc.Search(context.Background(), domain.SearchQuery{Query: "old", PrincipalIDs: []string{"team-a"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Hits) != 0 {
		t.Fatalf("expected no hits, got %+v", result.Hits)
	}
}

func TestSearchUsesCache(t *testing.T) {
	f := newSearchFixture(true)
	text := testSegment("doc-1", domain.SegmentText, "intro text", nil)
	f.store(text)
	f.lexical.hits = []domain.Candidate{{SegmentID: text.ID, Score: 2.0}}
	q := domain.SearchQuery{Query: "intro", PrincipalIDs: []string{"team-a"}}

	first, err := f.uc.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	second, err := f.uc.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected cached result")
	}
	if f.lexical.calls != 1 {
		t.Fatalf("expected one lexical query, got %d", f.lexical.calls)
	}
}

func TestSearchValidatesInput(t *testing.T) {
	f := newSearchFixture(false)
	for _, q := range []domain.SearchQuery{
		{Query: " ", PrincipalIDs: []string{"p"}},
		{Query: "q"},
	} {
		if _, err := f.uc.Search(context.Background(), q); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", q, err)
		}
	}
}

func TestSearchHydrationFailure(t *testing.T) {
	f := newSearchFixture(false)
	f.lexical.hits = []domain.Candidate{{SegmentID: "x", Score: 1}}
	f.relational.err = errors.New("postgres down")
	_, err := f.uc.Search(context.Background(), domain.SearchQuery{Query: "q", PrincipalIDs: []string{"p"}})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
