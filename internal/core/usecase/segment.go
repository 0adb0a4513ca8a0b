package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

type SegmenterConfig struct {
	// TableSplitThreshold is the markdown length in runes above which a table
	// becomes a parent with child chunks.
	TableSplitThreshold int
	ChildTableMaxRunes  int
	EmbedMaxTokens      int
	PoolSize            int
}

func (c SegmenterConfig) normalize() SegmenterConfig {
	if c.TableSplitThreshold <= 0 {
		c.TableSplitThreshold = 1000
	}
	if c.ChildTableMaxRunes <= 0 {
		c.ChildTableMaxRunes = c.TableSplitThreshold / 2
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	return c
}

// Segmenter turns assembled pages into typed, permission-tagged segments and
// enriches them with summaries and vectors.
type Segmenter struct {
	splitter   ports.TextSplitter
	tables     ports.TableFormatter
	tokens     ports.TokenCounter
	summarizer ports.Summarizer
	embedder   ports.Embedder

	cfg    SegmenterConfig
	pool   *ants.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewSegmenter(
	splitter ports.TextSplitter,
	tables ports.TableFormatter,
	tokens ports.TokenCounter,
	summarizer ports.Summarizer,
	embedder ports.Embedder,
	cfg SegmenterConfig,
	logger *slog.Logger,
) (*Segmenter, error) {
	cfg = cfg.normalize()
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create enrichment pool: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		splitter:   splitter,
		tables:     tables,
		tokens:     tokens,
		summarizer: summarizer,
		embedder:   embedder,
		cfg:        cfg,
		pool:       pool,
		logger:     logger.With("component", "segmenter"),
		now:        time.Now,
	}, nil
}

// Close releases the enrichment pool.
func (s *Segmenter) Close() {
	s.pool.Release()
}

func (s *Segmenter) Segment(ctx context.Context, pages []domain.Page, in domain.SegmentInput) ([]domain.Segment, error) {
	if strings.TrimSpace(in.DocumentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "segment", errors.New("document id is required"))
	}

	b := &segmentBuilder{in: in, now: s.now().UTC(), seen: make(map[string]struct{})}
	for _, page := range pages {
		if err := s.segmentPage(b, page); err != nil {
			return nil, err
		}
	}
	if len(b.out) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "segment", errors.New("document produced no segments"))
	}

	s.enrich(ctx, b.out)
	return b.out, nil
}

func (s *Segmenter) segmentPage(b *segmentBuilder, page domain.Page) error {
	var text []string
	flush := func() error {
		if len(text) == 0 {
			return nil
		}
		chunks, err := s.splitter.Split(strings.Join(text, "\n\n"))
		text = nil
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "segment text", err)
		}
		for _, chunk := range chunks {
			b.add(domain.SegmentText, page.Index, chunk, nil, nil, "")
		}
		return nil
	}

	for i, item := range page.Elements {
		switch el := item.(type) {
		case domain.TextBlock:
			text = append(text, el.Text())
		case domain.TableElement:
			if err := flush(); err != nil {
				return err
			}
			if err := s.segmentTable(b, page.Index, el); err != nil {
				return err
			}
		case domain.ImageElement:
			if err := flush(); err != nil {
				return err
			}
			content := strings.TrimSpace(el.Caption)
			if content == "" {
				content = el.FileName()
			}
			b.add(domain.SegmentImage, page.Index, content, nil, map[string]string{
				domain.MetaImgPath: el.Path,
				domain.MetaCaption: el.Caption,
			}, imagePosition(el.Path, page.Index, i))
		}
	}
	return flush()
}

func (s *Segmenter) segmentTable(b *segmentBuilder, pageIdx int, el domain.TableElement) error {
	table, err := s.tables.Format(el)
	if err != nil {
		return fmt.Errorf("segment table on page %d: %w", pageIdx, err)
	}
	content := table.Render()
	meta := map[string]string{domain.MetaCaption: el.Caption}

	if utf8.RuneCountInString(content) <= s.cfg.TableSplitThreshold {
		b.add(domain.SegmentTable, pageIdx, content, nil, meta, "")
		return nil
	}

	parent := b.add(domain.SegmentParentTable, pageIdx, content, nil, meta, "")
	if parent == "" {
		return nil
	}
	for i, chunk := range table.Chunks(s.cfg.ChildTableMaxRunes) {
		parentID := parent
		b.add(domain.SegmentChildTable, pageIdx, chunk, &parentID,
			map[string]string{domain.MetaCaption: el.Caption},
			parent+"/"+strconv.Itoa(i))
	}
	return nil
}

// enrich fills summaries and vectors concurrently. Failures leave the field
// nil and never abort the document.
func (s *Segmenter) enrich(ctx context.Context, segments []domain.Segment) {
	var wg sync.WaitGroup
	for i := range segments {
		seg := &segments[i]
		if s.tokens != nil {
			seg.Metadata[domain.MetaTokens] = strconv.Itoa(s.tokens.Count(seg.Content))
		}
		task := func() {
			defer wg.Done()
			s.enrichOne(ctx, seg)
		}
		wg.Add(1)
		if err := s.pool.Submit(task); err != nil {
			s.logger.Warn("enrichment_pool_submit_failed", "segment_id", seg.ID, "error", err)
			task()
		}
	}
	wg.Wait()
}

func (s *Segmenter) enrichOne(ctx context.Context, seg *domain.Segment) {
	if (seg.Type == domain.SegmentTable || seg.Type == domain.SegmentParentTable) && s.summarizer != nil {
		summary, err := s.summarizer.SummarizeTable(ctx, seg.Content)
		summary = strings.TrimSpace(summary)
		switch {
		case err != nil:
			s.logger.Warn("table_summary_failed", "segment_id", seg.ID, "doc_id", seg.DocumentID, "error", err)
		case summary != "":
			seg.Summary = &summary
		}
	}

	if s.embedder == nil {
		return
	}
	input := seg.EmbedText()
	if s.tokens != nil {
		input = s.tokens.Truncate(input, s.cfg.EmbedMaxTokens)
	}
	vectors, err := s.embedder.Embed(ctx, []string{input})
	if err != nil || len(vectors) != 1 || len(vectors[0]) == 0 {
		if err == nil {
			err = fmt.Errorf("unexpected embedding count %d", len(vectors))
		}
		s.logger.Warn("segment_embedding_failed", "segment_id", seg.ID, "doc_id", seg.DocumentID, "error", err)
		return
	}
	seg.Vector = vectors[0]
}

// imagePosition identifies an image element by path and place in the
// document, so every element yields its own segment.
func imagePosition(path string, pageIdx, item int) string {
	return path + "@" + strconv.Itoa(pageIdx) + "/" + strconv.Itoa(item)
}

type segmentBuilder struct {
	in   domain.SegmentInput
	now  time.Time
	seen map[string]struct{}
	out  []domain.Segment
}

// add appends a segment and returns its id. Duplicate content of the same
// type and position within a document collapses into the first occurrence.
// Images are positioned by path and child tables by parent and ordinal, so
// only text and whole tables collapse on content alone.
func (b *segmentBuilder) add(
	segType domain.SegmentType,
	pageIdx int,
	content string,
	parentID *string,
	meta map[string]string,
	position string,
) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	var id string
	if position == "" {
		id = domain.SegmentID(b.in.DocumentID, segType, content)
	} else {
		id = domain.SegmentID(b.in.DocumentID, segType, content, position)
	}
	if _, dup := b.seen[id]; dup {
		return id
	}
	b.seen[id] = struct{}{}

	metadata := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		if v != "" {
			metadata[k] = v
		}
	}
	metadata[domain.MetaOrdinal] = strconv.Itoa(len(b.out))

	b.out = append(b.out, domain.Segment{
		ID:           id,
		ParentID:     parentID,
		DocumentID:   b.in.DocumentID,
		DocumentName: b.in.DocumentName,
		Type:         segType,
		Content:      content,
		PageIdx:      pageIdx,
		PrincipalIDs: append([]string(nil), b.in.PrincipalIDs...),
		Metadata:     metadata,
		CreatedAt:    b.now,
		UpdatedAt:    b.now,
	})
	return id
}
