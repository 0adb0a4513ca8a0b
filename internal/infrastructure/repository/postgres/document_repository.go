package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string, maxConns int) (*sql.DB, error) {
	if maxConns <= 0 {
		maxConns = 10
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates doc_info, permission_info and segment_info.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS doc_info (
	doc_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	source_path TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	segment_count INTEGER NOT NULL DEFAULT 0,
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS permission_info (
	doc_id TEXT NOT NULL REFERENCES doc_info(doc_id) ON DELETE CASCADE,
	principal_id TEXT NOT NULL,
	PRIMARY KEY (doc_id, principal_id)
);

CREATE TABLE IF NOT EXISTS segment_info (
	segment_id TEXT PRIMARY KEY,
	parent_segment_id TEXT REFERENCES segment_info(segment_id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
	doc_id TEXT NOT NULL REFERENCES doc_info(doc_id) ON DELETE CASCADE,
	document_name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT,
	page_idx INTEGER NOT NULL,
	principal_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

ALTER TABLE segment_info ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_doc_info_status ON doc_info(status);
CREATE INDEX IF NOT EXISTS idx_permission_info_principal ON permission_info(principal_id);
CREATE INDEX IF NOT EXISTS idx_segment_info_doc ON segment_info(doc_id);
CREATE INDEX IF NOT EXISTS idx_segment_info_parent ON segment_info(parent_segment_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Upsert writes the document row and replaces its principals. Re-registering
// a deleted document revives it.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTemporaryIfNeeded("begin document tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO doc_info (
	doc_id, name, source_path, storage_path, status, error_message, segment_count, deleted_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,$8,$9)
ON CONFLICT (doc_id) DO UPDATE SET
	name = EXCLUDED.name,
	source_path = EXCLUDED.source_path,
	storage_path = EXCLUDED.storage_path,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	segment_count = EXCLUDED.segment_count,
	deleted_at = NULL,
	updated_at = EXCLUDED.updated_at
`,
		doc.ID, doc.Name, doc.SourcePath, doc.StoragePath, string(doc.Status), doc.Error, doc.SegmentCount,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return wrapTemporaryIfNeeded("upsert document", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_info WHERE doc_id = $1`, doc.ID); err != nil {
		return wrapTemporaryIfNeeded("clear document principals", err)
	}
	for _, principal := range doc.PrincipalIDs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO permission_info (doc_id, principal_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, doc.ID, principal); err != nil {
			return wrapTemporaryIfNeeded("insert document principal", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapTemporaryIfNeeded("commit document tx", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT doc_id, name, source_path, storage_path, status, error_message, segment_count, deleted_at, created_at, updated_at
FROM doc_info
WHERE doc_id = $1
`, id)

	var doc domain.Document
	var status string
	var deletedAt sql.NullTime
	err := row.Scan(
		&doc.ID, &doc.Name, &doc.SourcePath, &doc.StoragePath, &status, &doc.Error, &doc.SegmentCount,
		&deletedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, wrapTemporaryIfNeeded("scan document", err)
	}
	doc.Status = domain.DocumentStatus(status)
	doc.Deleted = deletedAt.Valid

	principals, err := r.principals(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.PrincipalIDs = principals
	return &doc, nil
}

func (r *DocumentRepository) principals(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT principal_id FROM permission_info WHERE doc_id = $1 ORDER BY principal_id
`, id)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("query document principals", err)
	}
	defer rows.Close()

	out := make([]string, 0, 4)
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, principal)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTemporaryIfNeeded("iterate document principals", err)
	}
	return out, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE doc_info
SET status = $2, error_message = $3, updated_at = $4
WHERE doc_id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return wrapTemporaryIfNeeded("update document status", err)
	}
	return requireRow(result, "update document status", id)
}

func (r *DocumentRepository) MarkCompleted(ctx context.Context, id string, segmentCount int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE doc_info
SET status = $2, error_message = '', segment_count = $3, updated_at = $4
WHERE doc_id = $1
`, id, string(domain.StatusCompleted), segmentCount, time.Now().UTC())
	if err != nil {
		return wrapTemporaryIfNeeded("mark document completed", err)
	}
	return requireRow(result, "mark document completed", id)
}

// SoftDelete hides the document and its segments. Deleting an already
// deleted document keeps the first deletion time and succeeds, so a delete
// that failed on some store can be repeated.
func (r *DocumentRepository) SoftDelete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTemporaryIfNeeded("begin soft delete tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
UPDATE doc_info
SET deleted_at = COALESCE(deleted_at, $2), updated_at = $2
WHERE doc_id = $1
`, id, now)
	if err != nil {
		return wrapTemporaryIfNeeded("soft delete document", err)
	}
	if err := requireRow(result, "soft delete document", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE segment_info
SET deleted_at = $2
WHERE doc_id = $1 AND deleted_at IS NULL
`, id, now); err != nil {
		return wrapTemporaryIfNeeded("soft delete segments", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapTemporaryIfNeeded("commit soft delete tx", err)
	}
	return nil
}

func requireRow(result sql.Result, operation, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}
