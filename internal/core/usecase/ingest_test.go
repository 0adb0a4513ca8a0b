package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const elementsPayload = `[{"type":"text","page_idx":0,"text":"hello"},{"type":"image","page_idx":1,"img_path":"a.png"}]`

func TestRegisterStoresAndPublishes(t *testing.T) {
	repo := newDocRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewIngestDocumentUseCase(repo, storage, queue)

	doc, err := uc.Register(context.Background(), domain.RegisterDocument{
		Name:         " report.pdf ",
		SourcePath:   "/inbox/report.pdf",
		PrincipalIDs: []string{"team-a"},
		Elements:     []byte(elementsPayload),
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if doc.ID != domain.DocumentID([]byte(elementsPayload)) {
		t.Fatalf("expected content-derived id, got %s", doc.ID)
	}
	if doc.Name != "report.pdf" || doc.Status != domain.StatusUploaded {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if string(storage.saved[doc.StoragePath]) != elementsPayload {
		t.Fatalf("payload not stored under %s", doc.StoragePath)
	}
	if _, ok := repo.docs[doc.ID]; !ok {
		t.Fatal("document metadata not saved")
	}
	if len(queue.published) != 1 || queue.published[0] != doc.ID {
		t.Fatalf("unexpected published ids: %v", queue.published)
	}
}

func TestRegisterReturnsCompletedDocumentUnchanged(t *testing.T) {
	id := domain.DocumentID([]byte(elementsPayload))
	existing := domain.Document{ID: id, Name: "old.pdf", Status: domain.StatusCompleted, SegmentCount: 4, PrincipalIDs: []string{"team-a"}}
	repo := newDocRepoFake(existing)
	storage := newStorageFake()
	queue := &queueFake{}

	doc, err := NewIngestDocumentUseCase(repo, storage, queue).Register(context.Background(), domain.RegisterDocument{
		Name:         "new.pdf",
		PrincipalIDs: []string{"team-a"},
		Elements:     []byte(elementsPayload),
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if doc.Name != "old.pdf" || doc.SegmentCount != 4 {
		t.Fatalf("expected existing document, got %+v", doc)
	}
	if len(storage.saved) != 0 || len(queue.published) != 0 {
		t.Fatal("completed document must not be re-queued")
	}
}

func TestRegisterRejectsCompletedDocumentWithOtherPrincipals(t *testing.T) {
	id := domain.DocumentID([]byte(elementsPayload))
	existing := domain.Document{ID: id, Name: "old.pdf", Status: domain.StatusCompleted, PrincipalIDs: []string{"team-a"}}
	repo := newDocRepoFake(existing)
	queue := &queueFake{}
	uc := NewIngestDocumentUseCase(repo, newStorageFake(), queue)

	_, err := uc.Register(context.Background(), domain.RegisterDocument{
		Name:         "old.pdf",
		PrincipalIDs: []string{"team-b"},
		Elements:     []byte(elementsPayload),
	})
	if !domain.IsKind(err, domain.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatal("rejected registration must not be queued")
	}

	doc, err := uc.Register(context.Background(), domain.RegisterDocument{
		Name:         "old.pdf",
		PrincipalIDs: []string{"team-a", "team-a"},
		Elements:     []byte(elementsPayload),
	})
	if err != nil || doc.ID != id {
		t.Fatalf("expected same principal set to return existing document, got %v, %v", doc, err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	uc := NewIngestDocumentUseCase(newDocRepoFake(), newStorageFake(), &queueFake{})
	cases := map[string]domain.RegisterDocument{
		"no name":       {PrincipalIDs: []string{"p"}, Elements: []byte(elementsPayload)},
		"no principals": {Name: "x", Elements: []byte(elementsPayload)},
		"bad elements":  {Name: "x", PrincipalIDs: []string{"p"}, Elements: []byte(`[{"type":"table","page_idx":0}]`)},
	}
	for name, req := range cases {
		if _, err := uc.Register(context.Background(), req); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestRegisterPropagatesQueueFailure(t *testing.T) {
	queue := &queueFake{err: errors.New("nats down")}
	_, err := NewIngestDocumentUseCase(newDocRepoFake(), newStorageFake(), queue).Register(context.Background(), domain.RegisterDocument{
		Name:         "x",
		PrincipalIDs: []string{"p"},
		Elements:     []byte(elementsPayload),
	})
	if err == nil || !strings.Contains(err.Error(), "publish ingestion event") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestGetByIDHidesDeletedDocuments(t *testing.T) {
	repo := newDocRepoFake(domain.Document{ID: "gone", Deleted: true})
	_, err := NewIngestDocumentUseCase(repo, newStorageFake(), &queueFake{}).GetByID(context.Background(), "gone")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
