package qdrant

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/chunking"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	bm25K1         = 1.2
	bm25B          = 0.75
	avgSegmentLen  = 120.0
	titleBoost     = 0.5
	maxSparseTerms = 512
)

// encodeSparseDocument weights terms by BM25 term-frequency saturation with
// length normalization. Document title terms count at titleBoost.
func encodeSparseDocument(text string, title string) sparseVector {
	tokens := chunking.Terms(text)
	termFreq := make(map[uint32]float64, len(tokens))
	appendTermFreq(termFreq, tokens, 1.0)
	appendTermFreq(termFreq, chunking.Terms(title), titleBoost)

	norm := 1 - bm25B + bm25B*float64(len(tokens))/avgSegmentLen
	return toSparse(termFreq, func(tf float64) float64 {
		return tf * (bm25K1 + 1) / (tf + bm25K1*norm)
	})
}

// encodeSparseQuery gives every distinct query term weight 1.
func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 16)
	appendTermFreq(termFreq, chunking.Terms(query), 1.0)
	return toSparse(termFreq, func(float64) float64 { return 1 })
}

func appendTermFreq(dst map[uint32]float64, tokens []string, tokenWeight float64) {
	for _, token := range tokens {
		dst[hashToken(token)] += tokenWeight
	}
}

func toSparse(tf map[uint32]float64, weight func(float64) float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	if len(indices) > maxSparseTerms {
		// keep the most frequent terms
		sort.Slice(indices, func(i, j int) bool {
			if tf[indices[i]] != tf[indices[j]] {
				return tf[indices[i]] > tf[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:maxSparseTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		w := weight(tf[idx])
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		values = append(values, float32(w))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}
