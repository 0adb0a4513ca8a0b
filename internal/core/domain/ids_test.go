package domain

import "testing"

func TestSegmentIDIsPure(t *testing.T) {
	a := SegmentID("doc-1", SegmentText, "hello world")
	b := SegmentID("doc-1", SegmentText, "hello world")
	if a != b {
		t.Fatalf("expected equal ids, got %q and %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestSegmentIDSeparatesInputs(t *testing.T) {
	base := SegmentID("doc-1", SegmentText, "hello")
	cases := map[string]string{
		"other doc":     SegmentID("doc-2", SegmentText, "hello"),
		"other type":    SegmentID("doc-1", SegmentTable, "hello"),
		"other content": SegmentID("doc-1", SegmentText, "hello!"),
		"shifted bytes": SegmentID("doc-1t", SegmentType("ext"), "hello"),
		"position":      SegmentID("doc-1", SegmentText, "hello", "images/a.png"),
	}
	for name, id := range cases {
		if id == base {
			t.Fatalf("%s: expected distinct id", name)
		}
	}
}

func TestDocumentIDStable(t *testing.T) {
	payload := []byte(`[{"type":"text","page_idx":0,"text":"x"}]`)
	if DocumentID(payload) != DocumentID(append([]byte(nil), payload...)) {
		t.Fatal("expected stable document id")
	}
	if DocumentID(payload) == DocumentID([]byte("other")) {
		t.Fatal("expected distinct document ids")
	}
}

func TestSegmentIDPositionIsPure(t *testing.T) {
	a := SegmentID("doc-1", SegmentImage, "Figure 3", "images/a.png")
	b := SegmentID("doc-1", SegmentImage, "Figure 3", "images/b.png")
	if a == b {
		t.Fatal("expected images with different paths to get distinct ids")
	}
	if a != SegmentID("doc-1", SegmentImage, "Figure 3", "images/a.png") {
		t.Fatal("expected stable id for the same position")
	}
}
