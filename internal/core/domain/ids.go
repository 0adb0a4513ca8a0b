package domain

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

const idSize = 16

// SegmentID derives the stable identity of a segment. The same document,
// type, content and position always yield the same id, so re-segmentation
// upserts. Position disambiguates equal content emitted from different
// sources, such as two images sharing a caption.
func SegmentID(documentID string, segType SegmentType, content string, position ...string) string {
	h, _ := blake2b.New(idSize, nil)
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(segType))
	h.Write([]byte{0})
	h.Write([]byte(content))
	for _, p := range position {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentID derives a document id from its uploaded element payload.
func DocumentID(payload []byte) string {
	h, _ := blake2b.New(idSize, nil)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
