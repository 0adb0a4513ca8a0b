package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type persisterFixture struct {
	relational *segmentRepoFake
	dense      *indexFake
	lexical    *lexicalFake
	persister  *Persister
}

func newPersisterFixture(batchSize int) *persisterFixture {
	f := &persisterFixture{
		relational: newSegmentRepoFake(),
		dense:      newIndexFake(),
		lexical:    newLexicalFake(),
	}
	f.persister = NewPersister(f.relational, f.dense, f.lexical, retrierFake{}, PersisterConfig{
		BatchSize:    batchSize,
		WriteTimeout: time.Second,
	}, nil)
	return f
}

func testSegment(docID string, typ domain.SegmentType, content string, parent *string) domain.Segment {
	return domain.Segment{
		ID:           domain.SegmentID(docID, typ, content),
		ParentID:     parent,
		DocumentID:   docID,
		Type:         typ,
		Content:      content,
		PrincipalIDs: []string{"team-a"},
		Vector:       []float32{1, 2},
	}
}

func tableFamily(docID string) (domain.Segment, []domain.Segment) {
	parent := testSegment(docID, domain.SegmentParentTable, "full table", nil)
	children := []domain.Segment{
		testSegment(docID, domain.SegmentChildTable, "rows 1-10", strPtr(parent.ID)),
		testSegment(docID, domain.SegmentChildTable, "rows 11-20", strPtr(parent.ID)),
	}
	return parent, children
}

func TestPersistWritesAllStores(t *testing.T) {
	f := newPersisterFixture(2)
	parent, children := tableFamily("doc-1")
	text := testSegment("doc-1", domain.SegmentText, "hello", nil)
	noVector := testSegment("doc-1", domain.SegmentImage, "figure", nil)
	noVector.Vector = nil

	segments := []domain.Segment{children[0], text, parent, children[1], noVector}
	result, err := f.persister.Persist(context.Background(), segments)
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if result.OKCount != 5 || len(result.FailedSegmentIDs) != 0 || len(result.Rejected) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.StoreFailures) != 0 {
		t.Fatalf("expected no store failures, got %+v", result.StoreFailures)
	}
	if !reflect.DeepEqual(result.VectorSkipped, []string{noVector.ID}) {
		t.Fatalf("expected vector skip for image, got %v", result.VectorSkipped)
	}
	if len(f.relational.segments) != 5 || len(f.lexical.segments) != 5 {
		t.Fatalf("expected 5 relational/lexical rows, got %d/%d", len(f.relational.segments), len(f.lexical.segments))
	}
	if len(f.dense.segments) != 4 {
		t.Fatalf("expected 4 dense rows, got %d", len(f.dense.segments))
	}

	parentPos, childPos := -1, -1
	for i, id := range f.relational.order {
		switch id {
		case parent.ID:
			parentPos = i
		case children[0].ID:
			childPos = i
		}
	}
	if parentPos < 0 || childPos < 0 || parentPos > childPos {
		t.Fatalf("expected parent before child, order=%v", f.relational.order)
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	f := newPersisterFixture(10)
	parent, children := tableFamily("doc-1")
	segments := append([]domain.Segment{parent}, children...)

	first, err := f.persister.Persist(context.Background(), segments)
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	snapshot := map[string]domain.Segment{}
	for id, s := range f.relational.segments {
		snapshot[id] = s
	}

	second, err := f.persister.Persist(context.Background(), segments)
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if first.OKCount != second.OKCount {
		t.Fatalf("ok counts differ: %d vs %d", first.OKCount, second.OKCount)
	}
	if !reflect.DeepEqual(snapshot, f.relational.segments) {
		t.Fatal("second persist changed relational state")
	}
	if len(f.dense.segments) != 3 || len(f.lexical.segments) != 3 {
		t.Fatalf("expected 3 dense/lexical entries, got %d/%d", len(f.dense.segments), len(f.lexical.segments))
	}
}

func TestPersistRejectsIntegrityViolations(t *testing.T) {
	f := newPersisterFixture(10)
	stored := testSegment("doc-1", domain.SegmentParentTable, "stored parent", nil)
	f.relational.existing[stored.ID] = true

	noPrincipals := testSegment("doc-1", domain.SegmentText, "secret", nil)
	noPrincipals.PrincipalIDs = nil
	orphan := testSegment("doc-1", domain.SegmentChildTable, "orphan", nil)
	dangling := testSegment("doc-1", domain.SegmentChildTable, "dangling", strPtr("missing-parent"))
	wrongParent := testSegment("doc-1", domain.SegmentText, "text with parent", strPtr(stored.ID))
	adopted := testSegment("doc-1", domain.SegmentChildTable, "adopted", strPtr(stored.ID))
	ok := testSegment("doc-1", domain.SegmentText, "fine", nil)

	result, err := f.persister.Persist(context.Background(), []domain.Segment{noPrincipals, orphan, dangling, wrongParent, adopted, ok})
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if result.OKCount != 2 {
		t.Fatalf("expected 2 accepted segments, got %d", result.OKCount)
	}
	rejected := map[string]bool{}
	for _, r := range result.Rejected {
		rejected[r.SegmentID] = true
	}
	for _, id := range []string{noPrincipals.ID, orphan.ID, dangling.ID, wrongParent.ID} {
		if !rejected[id] {
			t.Fatalf("expected %s to be rejected, got %+v", id, result.Rejected)
		}
	}
	if _, ok := f.relational.segments[noPrincipals.ID]; ok {
		t.Fatal("rejected segment must not be written")
	}
	if _, ok := f.lexical.segments[adopted.ID]; !ok {
		t.Fatal("child of a stored parent must be written")
	}
}

func TestPersistReportsPerStoreFailures(t *testing.T) {
	f := newPersisterFixture(10)
	f.lexical.err = errors.New("index is read-only")
	f.dense.failTimes = 2

	a := testSegment("doc-1", domain.SegmentText, "a", nil)
	b := testSegment("doc-1", domain.SegmentText, "b", nil)
	result, err := f.persister.Persist(context.Background(), []domain.Segment{a, b})
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if result.OKCount != 0 || len(result.FailedSegmentIDs) != 2 {
		t.Fatalf("expected both segments failed, got %+v", result)
	}
	if !reflect.DeepEqual(result.StoreFailures[domain.StoreLexical], []string{a.ID, b.ID}) {
		t.Fatalf("unexpected lexical failures: %+v", result.StoreFailures)
	}
	if _, ok := result.StoreFailures[domain.StoreDense]; ok {
		t.Fatal("dense store should recover after retries")
	}
	if f.dense.calls != 3 {
		t.Fatalf("expected 3 dense attempts, got %d", f.dense.calls)
	}
	if len(f.relational.segments) != 2 || len(f.dense.segments) != 2 {
		t.Fatal("healthy stores must keep their writes")
	}
}

func TestPersistParentLookupFailure(t *testing.T) {
	f := newPersisterFixture(10)
	f.relational.lookupErr = errors.New("connection refused")
	child := testSegment("doc-1", domain.SegmentChildTable, "rows", strPtr("elsewhere"))

	result, err := f.persister.Persist(context.Background(), []domain.Segment{child})
	if err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	if !reflect.DeepEqual(result.FailedSegmentIDs, []string{child.ID}) || len(result.Rejected) != 0 {
		t.Fatalf("expected child to fail, not be rejected: %+v", result)
	}
}

func TestDeleteDocumentReportsPerStore(t *testing.T) {
	f := newPersisterFixture(10)
	seg := testSegment("doc-1", domain.SegmentText, "a", nil)
	if _, err := f.persister.Persist(context.Background(), []domain.Segment{seg}); err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	f.lexical.err = domain.WrapError(domain.ErrTemporary, "lexical", errors.New("down"))

	report := f.persister.DeleteDocument(context.Background(), "doc-1")
	if !report.Failed() {
		t.Fatal("expected delete report to flag lexical failure")
	}
	if out := report.Stores[domain.StoreLexical]; out.Error == "" || out.Attempts != 3 {
		t.Fatalf("unexpected lexical outcome: %+v", out)
	}
	for _, store := range []domain.Store{domain.StoreRelational, domain.StoreDense} {
		if out := report.Stores[store]; out.Error != "" || out.Attempts != 1 {
			t.Fatalf("unexpected %s outcome: %+v", store, out)
		}
	}
	if len(f.relational.segments) != 0 || len(f.dense.segments) != 0 {
		t.Fatal("expected relational and dense rows deleted")
	}
}
