package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type summarizerFake struct {
	mu         sync.Mutex
	summary    string
	summaryErr error
	title      string
	titleErr   error
	titleCalls int
	tableCalls int
}

func (f *summarizerFake) SummarizeTable(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tableCalls++
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return f.summary, nil
}

func (f *summarizerFake) Title(context.Context, domain.ElementKind, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalls++
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

type embedderFake struct {
	mu       sync.Mutex
	err      error
	failOn   string
	inputs   []string
	queryVec []float32
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("embedding model failed")
		}
		f.inputs = append(f.inputs, text)
		out = append(out, []float32{float32(len(text)), 1})
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.queryVec != nil {
		return f.queryVec, nil
	}
	return []float32{1, 0}, nil
}

func (f *embedderFake) embedded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.inputs...)
	sort.Strings(out)
	return out
}

// splitterFake splits on blank lines.
type splitterFake struct{}

func (splitterFake) Split(text string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// tableFormatterFake treats each body line as a row under a fixed header.
type tableFormatterFake struct{}

func (tableFormatterFake) Format(table domain.TableElement) (domain.MarkdownTable, error) {
	out := domain.MarkdownTable{Caption: table.Caption, Footnote: table.Footnote, Header: "| c |\n| --- |"}
	for _, line := range strings.Split(table.Body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out.Rows = append(out.Rows, "| "+line+" |")
		}
	}
	return out, nil
}

type tokenCounterFake struct{}

func (tokenCounterFake) Count(text string) int { return len(strings.Fields(text)) }

func (tokenCounterFake) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if maxTokens <= 0 || len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

// indexFake is an in-memory VectorIndex/LexicalIndex.
type indexFake struct {
	mu        sync.Mutex
	segments  map[string]domain.Segment
	hits      []domain.Candidate
	err       error
	failTimes int
	calls     int
	block     bool
	upserts   int
	order     []string
	deletes   []string
	gotFilter []string
	gotLimit  int
}

func newIndexFake() *indexFake {
	return &indexFake{segments: make(map[string]domain.Segment)}
}

func (f *indexFake) fail() error {
	f.calls++
	if f.failTimes > 0 {
		f.failTimes--
		return domain.WrapError(domain.ErrTemporary, "index", errors.New("unavailable"))
	}
	return f.err
}

func (f *indexFake) Upsert(_ context.Context, segments []domain.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.upserts++
	for _, s := range segments {
		f.segments[s.ID] = s
		f.order = append(f.order, s.ID)
	}
	return nil
}

func (f *indexFake) searchHits(ctx context.Context, limit int, principals []string) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.gotFilter = append([]string(nil), principals...)
	f.gotLimit = limit
	block := f.block
	err := f.fail()
	hits := append([]domain.Candidate(nil), f.hits...)
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (f *indexFake) Search(ctx context.Context, _ []float32, limit int, principals []string) ([]domain.Candidate, error) {
	return f.searchHits(ctx, limit, principals)
}

func (f *indexFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.deletes = append(f.deletes, documentID)
	for id, s := range f.segments {
		if s.DocumentID == documentID {
			delete(f.segments, id)
		}
	}
	return nil
}

// lexicalFake adapts indexFake to the LexicalIndex query signature.
type lexicalFake struct {
	*indexFake
	gotQuery string
}

func newLexicalFake() *lexicalFake {
	return &lexicalFake{indexFake: newIndexFake()}
}

func (f *lexicalFake) Search(ctx context.Context, query string, limit int, principals []string) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.gotQuery = query
	f.mu.Unlock()
	return f.searchHits(ctx, limit, principals)
}

type segmentRepoFake struct {
	indexFake
	existing  map[string]bool
	lookupErr error
	deleted   map[string]bool
}

func newSegmentRepoFake() *segmentRepoFake {
	return &segmentRepoFake{
		indexFake: indexFake{segments: make(map[string]domain.Segment)},
		existing:  make(map[string]bool),
		deleted:   make(map[string]bool),
	}
}

func (f *segmentRepoFake) UpsertSegments(ctx context.Context, segments []domain.Segment) error {
	return f.Upsert(ctx, segments)
}

func (f *segmentRepoFake) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := f.segments[id]; ok || f.existing[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *segmentRepoFake) GetByIDs(_ context.Context, ids []string) ([]domain.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Segment, 0, len(ids))
	for _, id := range ids {
		s, ok := f.segments[id]
		if !ok || f.deleted[s.DocumentID] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type scorerFake struct {
	mu      sync.Mutex
	scores  map[string]float64
	err     error
	batches [][]string
}

func (f *scorerFake) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(texts))
	for i, text := range texts {
		out[i] = f.scores[text]
	}
	return out, nil
}

type retrierFake struct{}

func (retrierFake) Do(ctx context.Context, _ string, fn func(context.Context) error) (int, error) {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil || !domain.IsKind(err, domain.ErrTemporary) {
			return attempt, err
		}
	}
	return maxAttempts, err
}

func strPtr(s string) *string { return &s }

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type docRepoFake struct {
	mu          sync.Mutex
	docs        map[string]domain.Document
	getErr      error
	upsertErr   error
	statusErr   error
	statusCalls []statusCall
	completed   map[string]int
}

func newDocRepoFake(docs ...domain.Document) *docRepoFake {
	f := &docRepoFake{docs: make(map[string]domain.Document), completed: make(map[string]int)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *docRepoFake) Upsert(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.docs[doc.ID] = *doc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return &doc, nil
}

func (f *docRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if f.statusErr != nil {
		return f.statusErr
	}
	doc := f.docs[id]
	doc.Status = status
	doc.Error = errMessage
	f.docs[id] = doc
	return nil
}

func (f *docRepoFake) MarkCompleted(_ context.Context, id string, segmentCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.Status = domain.StatusCompleted
	doc.SegmentCount = segmentCount
	f.docs[id] = doc
	f.completed[id] = segmentCount
	return nil
}

func (f *docRepoFake) SoftDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "soft delete", errors.New(id))
	}
	doc.Deleted = true
	f.docs[id] = doc
	return nil
}

func (f *docRepoFake) statuses() []domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DocumentStatus, len(f.statusCalls))
	for i, c := range f.statusCalls {
		out[i] = c.status
	}
	return out
}

type loaderFake struct {
	elements []domain.Element
	err      error
	calls    int
}

func (f *loaderFake) Load(context.Context, *domain.Document) ([]domain.Element, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.elements, nil
}

type storageFake struct {
	saved   map[string][]byte
	deleted []string
	err     error
}

func newStorageFake() *storageFake {
	return &storageFake{saved: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.saved[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.saved[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.saved, key)
	return nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return nil
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.DocumentEvent
	err    error
}

func (f *eventsFake) Publish(_ context.Context, event domain.DocumentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// cacheFake is a map-backed SearchCache keyed by query text and principals.
type cacheFake struct {
	mu          sync.Mutex
	entries     map[string]*domain.SearchResult
	invalidated int
}

func newCacheFake() *cacheFake {
	return &cacheFake{entries: make(map[string]*domain.SearchResult)}
}

func (f *cacheFake) GetOrCompute(
	ctx context.Context,
	q domain.SearchQuery,
	compute func(context.Context) (*domain.SearchResult, error),
) (*domain.SearchResult, bool, error) {
	key := q.Query + "|" + strings.Join(q.PrincipalIDs, ",")
	f.mu.Lock()
	if r, ok := f.entries[key]; ok {
		f.mu.Unlock()
		return r, true, nil
	}
	f.mu.Unlock()

	r, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	f.entries[key] = r
	f.mu.Unlock()
	return r, false, nil
}

func (f *cacheFake) Invalidate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.entries = make(map[string]*domain.SearchResult)
	return nil
}
