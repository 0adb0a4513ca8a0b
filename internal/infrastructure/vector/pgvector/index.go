package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Index is the dense segment index on Postgres with the vector extension.
// Scores are inner products, so embeddings are expected to be normalized.
type Index struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

func Open(ctx context.Context, dsn, table string, dimensions int) (*Index, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("pgvector dimensions must be positive")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool new: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return &Index{pool: pool, table: table, dimensions: dimensions}, nil
}

func (i *Index) Close() {
	if i.pool != nil {
		i.pool.Close()
	}
}

func (i *Index) EnsureSchema(ctx context.Context) error {
	if _, err := i.pool.Exec(ctx, schemaDDL(i.table, i.dimensions)); err != nil {
		return fmt.Errorf("create pgvector schema: %w", err)
	}
	return nil
}

func schemaDDL(table string, dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
	segment_id TEXT PRIMARY KEY,
	parent_segment_id TEXT,
	doc_id TEXT NOT NULL,
	document_name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	page_idx INTEGER NOT NULL DEFAULT 0,
	principal_ids TEXT[] NOT NULL,
	summary_text TEXT,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%[2]d) NOT NULL
);

ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS document_name TEXT NOT NULL DEFAULT '';
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS type TEXT NOT NULL DEFAULT '';
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS page_idx INTEGER NOT NULL DEFAULT 0;
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS summary_text TEXT;
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS metadata JSONB NOT NULL DEFAULT '{}'::jsonb;

CREATE INDEX IF NOT EXISTS idx_%[1]s_doc ON %[1]s(doc_id);
CREATE INDEX IF NOT EXISTS idx_%[1]s_principals ON %[1]s USING gin(principal_ids);
CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s USING hnsw (embedding vector_ip_ops);
`, table, dimensions)
}

func (i *Index) Upsert(ctx context.Context, segments []domain.Segment) error {
	batch := &pgx.Batch{}
	query := upsertQuery(i.table)
	for _, seg := range segments {
		if len(seg.Vector) == 0 {
			continue
		}
		if len(seg.Vector) != i.dimensions {
			return fmt.Errorf("segment %s vector size %d, expected %d", seg.ID, len(seg.Vector), i.dimensions)
		}
		args, err := upsertArgs(seg)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := i.pool.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return wrapTemporaryIfNeeded("pgvector upsert", err)
		}
	}
	if err := results.Close(); err != nil {
		return wrapTemporaryIfNeeded("pgvector upsert", err)
	}
	return nil
}

// upsertArgs lists the row values in upsertQuery column order. The filterable
// fields match the Qdrant payload.
func upsertArgs(seg domain.Segment) ([]any, error) {
	metadata := seg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal segment %s metadata: %w", seg.ID, err)
	}
	return []any{
		seg.ID,
		seg.ParentID,
		seg.DocumentID,
		seg.DocumentName,
		string(seg.Type),
		seg.PageIdx,
		seg.PrincipalIDs,
		seg.Summary,
		string(metaJSON),
		pgv.NewVector(seg.Vector),
	}, nil
}

func upsertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	segment_id, parent_segment_id, doc_id, document_name, type, page_idx,
	principal_ids, summary_text, metadata, embedding
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
ON CONFLICT (segment_id) DO UPDATE SET
	parent_segment_id = EXCLUDED.parent_segment_id,
	document_name = EXCLUDED.document_name,
	type = EXCLUDED.type,
	page_idx = EXCLUDED.page_idx,
	principal_ids = EXCLUDED.principal_ids,
	summary_text = EXCLUDED.summary_text,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding
`, table)
}

// Search filters by principal overlap before ordering, so the limit applies
// to visible segments only.
func (i *Index) Search(ctx context.Context, vector []float32, limit int, principals []string) ([]domain.Candidate, error) {
	if len(vector) == 0 || len(principals) == 0 || limit <= 0 {
		return []domain.Candidate{}, nil
	}

	rows, err := i.pool.Query(ctx, searchQuery(i.table), pgv.NewVector(vector), principals, limit)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("pgvector search", err)
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0, limit)
	for rows.Next() {
		var (
			c        domain.Candidate
			parentID *string
		)
		if err := rows.Scan(&c.SegmentID, &parentID, &c.Score); err != nil {
			return nil, fmt.Errorf("scan pgvector candidate: %w", err)
		}
		if parentID != nil {
			c.ParentID = *parentID
		}
		c.Source = domain.SourceDense
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTemporaryIfNeeded("pgvector search", err)
	}
	return out, nil
}

func searchQuery(table string) string {
	return fmt.Sprintf(`
SELECT segment_id, parent_segment_id, -(embedding <#> $1) AS score
FROM %s
WHERE principal_ids && $2::text[]
ORDER BY embedding <#> $1
LIMIT $3
`, table)
}

func (i *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := i.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, i.table), documentID); err != nil {
		return wrapTemporaryIfNeeded("pgvector delete", err)
	}
	return nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
