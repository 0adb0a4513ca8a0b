package badger

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/chunking"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type segmentEntry struct {
	DocumentID   string         `json:"doc_id"`
	ParentID     string         `json:"parent_segment_id,omitempty"`
	PrincipalIDs []string       `json:"principal_ids"`
	Terms        map[string]int `json:"terms"`
	Length       int            `json:"length"`
}

type corpusStats struct {
	Segments    int `json:"segments"`
	TotalLength int `json:"total_length"`
}

// Index is an embedded BM25 keyword index over segment text.
type Index struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to the badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// ErrDirectoryLocked is returned when another process holds the index
// directory. The embedded index serves a single process only.
var ErrDirectoryLocked = errors.New("lexical index directory is locked by another process; run api and worker with LEXICAL_BACKEND=qdrant")

// Open opens the index at dir, or in memory when dir is empty.
func Open(dir string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lexical_badger")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lexical index dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("open badger at %s: %w: %v", dir, ErrDirectoryLocked, err)
		}
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Index{db: db, logger: logger}, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Upsert indexes segments one transaction each. Re-indexing a segment
// replaces its previous postings.
func (i *Index) Upsert(ctx context.Context, segments []domain.Segment) error {
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := i.db.Update(func(txn *badger.Txn) error {
			return i.putSegment(txn, seg)
		})
		if err != nil {
			return wrapTemporaryIfNeeded("lexical upsert", err)
		}
	}
	return nil
}

func (i *Index) putSegment(txn *badger.Txn, seg domain.Segment) error {
	stats, err := loadStats(txn)
	if err != nil {
		return err
	}
	if err := removeSegment(txn, seg.ID, &stats); err != nil {
		return err
	}

	terms := chunking.Terms(seg.LexicalText())
	entry := segmentEntry{
		DocumentID:   seg.DocumentID,
		PrincipalIDs: seg.PrincipalIDs,
		Terms:        make(map[string]int, len(terms)),
		Length:       len(terms),
	}
	if seg.ParentID != nil {
		entry.ParentID = *seg.ParentID
	}
	for _, term := range terms {
		entry.Terms[term]++
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal segment entry: %w", err)
	}
	if err := txn.Set(segmentKey(seg.ID), raw); err != nil {
		return err
	}
	if err := txn.Set(docSegKey(seg.DocumentID, seg.ID), nil); err != nil {
		return err
	}
	for term, tf := range entry.Terms {
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, uint32(tf))
		if err := txn.Set(postingKey(term, seg.ID), val); err != nil {
			return err
		}
	}

	stats.Segments++
	stats.TotalLength += entry.Length
	return saveStats(txn, stats)
}

// removeSegment drops a segment's entry and postings, if present.
func removeSegment(txn *badger.Txn, segmentID string, stats *corpusStats) error {
	entry, ok, err := loadSegment(txn, segmentID)
	if err != nil || !ok {
		return err
	}
	for term := range entry.Terms {
		if err := txn.Delete(postingKey(term, segmentID)); err != nil {
			return err
		}
	}
	if err := txn.Delete(docSegKey(entry.DocumentID, segmentID)); err != nil {
		return err
	}
	if err := txn.Delete(segmentKey(segmentID)); err != nil {
		return err
	}
	stats.Segments = max(stats.Segments-1, 0)
	stats.TotalLength = max(stats.TotalLength-entry.Length, 0)
	return nil
}

// Search ranks segments visible to principals by BM25. Invisible segments
// are dropped before the limit is applied.
func (i *Index) Search(ctx context.Context, query string, limit int, principals []string) ([]domain.Candidate, error) {
	terms := uniqueTerms(chunking.Terms(query))
	if len(terms) == 0 || len(principals) == 0 || limit <= 0 {
		return []domain.Candidate{}, nil
	}

	var out []domain.Candidate
	err := i.db.View(func(txn *badger.Txn) error {
		stats, err := loadStats(txn)
		if err != nil {
			return err
		}
		if stats.Segments == 0 {
			return nil
		}
		avgLen := float64(stats.TotalLength) / float64(stats.Segments)
		if avgLen == 0 {
			avgLen = 1
		}

		entries := make(map[string]*segmentEntry)
		scores := make(map[string]float64)
		for _, term := range terms {
			if err := ctx.Err(); err != nil {
				return err
			}
			postings, err := loadPostings(txn, term)
			if err != nil {
				return err
			}
			df := float64(len(postings))
			idf := math.Log(1 + (float64(stats.Segments)-df+0.5)/(df+0.5))
			for segmentID, tf := range postings {
				entry, ok := entries[segmentID]
				if !ok {
					loaded, found, err := loadSegment(txn, segmentID)
					if err != nil {
						return err
					}
					if !found || !domain.Intersects(loaded.PrincipalIDs, principals) {
						entries[segmentID] = nil
						continue
					}
					entry = &loaded
					entries[segmentID] = entry
				}
				if entry == nil {
					continue
				}
				norm := 1 - bm25B + bm25B*float64(entry.Length)/avgLen
				scores[segmentID] += idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*norm)
			}
		}

		out = make([]domain.Candidate, 0, len(scores))
		for segmentID, score := range scores {
			out = append(out, domain.Candidate{
				SegmentID: segmentID,
				ParentID:  entries[segmentID].ParentID,
				Score:     score,
				Source:    domain.SourceLexical,
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded("lexical search", err)
	}

	slices.SortFunc(out, func(a, b domain.Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.SegmentID, b.SegmentID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []domain.Candidate{}
	}
	return out, nil
}

// DeleteByDocument removes every segment of the document. Deleting an
// unknown document succeeds.
func (i *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	var segmentIDs []string
	err := i.db.View(func(txn *badger.Txn) error {
		prefix := docSegDocPrefix(documentID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			segmentIDs = append(segmentIDs, string(iter.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return wrapTemporaryIfNeeded("lexical delete", err)
	}

	for _, segmentID := range segmentIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := i.db.Update(func(txn *badger.Txn) error {
			stats, err := loadStats(txn)
			if err != nil {
				return err
			}
			if err := removeSegment(txn, segmentID, &stats); err != nil {
				return err
			}
			return saveStats(txn, stats)
		})
		if err != nil {
			return wrapTemporaryIfNeeded("lexical delete", err)
		}
	}
	if len(segmentIDs) > 0 {
		i.logger.Debug("lexical_document_deleted", "doc_id", documentID, "segments", len(segmentIDs))
	}
	return nil
}

func loadStats(txn *badger.Txn) (corpusStats, error) {
	var stats corpusStats
	item, err := txn.Get([]byte(statsKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stats)
	})
	return stats, err
}

func saveStats(txn *badger.Txn, stats corpusStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal corpus stats: %w", err)
	}
	return txn.Set([]byte(statsKey), raw)
}

func loadSegment(txn *badger.Txn, segmentID string) (segmentEntry, bool, error) {
	var entry segmentEntry
	item, err := txn.Get(segmentKey(segmentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return entry, false, fmt.Errorf("unmarshal segment entry: %w", err)
	}
	return entry, true, nil
}

func loadPostings(txn *badger.Txn, term string) (map[string]int, error) {
	prefix := postingTermPrefix(term)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := txn.NewIterator(opts)
	defer iter.Close()

	out := make(map[string]int)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		segmentID := string(item.Key()[len(prefix):])
		err := item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("corrupt posting for %q", term)
			}
			out[segmentID] = int(binary.BigEndian.Uint32(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
