package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type SegmentRepository struct {
	db *sql.DB
}

func NewSegmentRepository(db *sql.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

const segmentColumns = `s.segment_id, s.parent_segment_id, s.doc_id, s.document_name, s.type, s.content, s.summary,
	s.page_idx, s.principal_ids, s.metadata, s.created_at, s.updated_at`

// UpsertSegments writes segments in one transaction. The parent foreign key is
// deferred, so a batch may carry children before their parent.
func (r *SegmentRepository) UpsertSegments(ctx context.Context, segments []domain.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTemporaryIfNeeded("begin segment tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, seg := range segments {
		principals, err := json.Marshal(nonNilStrings(seg.PrincipalIDs))
		if err != nil {
			return fmt.Errorf("marshal segment principals: %w", err)
		}
		metadata := seg.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal segment metadata: %w", err)
		}
		createdAt := seg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO segment_info (
	segment_id, parent_segment_id, doc_id, document_name, type, content, summary,
	page_idx, principal_ids, metadata, deleted_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10::jsonb,NULL,$11,$12)
ON CONFLICT (segment_id) DO UPDATE SET
	parent_segment_id = EXCLUDED.parent_segment_id,
	document_name = EXCLUDED.document_name,
	content = EXCLUDED.content,
	summary = EXCLUDED.summary,
	page_idx = EXCLUDED.page_idx,
	principal_ids = EXCLUDED.principal_ids,
	metadata = EXCLUDED.metadata,
	deleted_at = NULL,
	updated_at = EXCLUDED.updated_at
`,
			seg.ID, nullString(seg.ParentID), seg.DocumentID, seg.DocumentName, string(seg.Type), seg.Content,
			nullString(seg.Summary), seg.PageIdx, principals, metaJSON, createdAt, now,
		)
		if err != nil {
			return wrapTemporaryIfNeeded("upsert segment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapTemporaryIfNeeded("commit segment tx", err)
	}
	return nil
}

func (r *SegmentRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(ids, 1)
	rows, err := r.db.QueryContext(ctx,
		`SELECT segment_id FROM segment_info WHERE segment_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("query existing segments", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan segment id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTemporaryIfNeeded("iterate existing segments", err)
	}
	return out, nil
}

// GetByIDs skips soft-deleted segments and segments of deleted documents.
func (r *SegmentRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Segment, error) {
	if len(ids) == 0 {
		return []domain.Segment{}, nil
	}

	placeholders, args := inClause(ids, 1)
	rows, err := r.db.QueryContext(ctx, `
SELECT `+segmentColumns+`
FROM segment_info s
JOIN doc_info d ON d.doc_id = s.doc_id
WHERE s.segment_id IN (`+placeholders+`) AND s.deleted_at IS NULL AND d.deleted_at IS NULL
`, args...)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("query segments", err)
	}
	defer rows.Close()

	out := make([]domain.Segment, 0, len(ids))
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTemporaryIfNeeded("iterate segments", err)
	}
	return out, nil
}

// DeleteByDocument is idempotent: deleting an absent document succeeds.
func (r *SegmentRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM segment_info WHERE doc_id = $1`, documentID); err != nil {
		return wrapTemporaryIfNeeded("delete document segments", err)
	}
	return nil
}

func scanSegment(rows *sql.Rows) (domain.Segment, error) {
	var (
		seg        domain.Segment
		parentID   sql.NullString
		summary    sql.NullString
		segType    string
		principals []byte
		metadata   []byte
	)
	if err := rows.Scan(
		&seg.ID, &parentID, &seg.DocumentID, &seg.DocumentName, &segType, &seg.Content, &summary,
		&seg.PageIdx, &principals, &metadata, &seg.CreatedAt, &seg.UpdatedAt,
	); err != nil {
		return domain.Segment{}, fmt.Errorf("scan segment: %w", err)
	}
	seg.Type = domain.SegmentType(segType)
	if parentID.Valid {
		seg.ParentID = &parentID.String
	}
	if summary.Valid {
		seg.Summary = &summary.String
	}
	if len(principals) > 0 {
		if err := json.Unmarshal(principals, &seg.PrincipalIDs); err != nil {
			return domain.Segment{}, fmt.Errorf("unmarshal segment principals: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &seg.Metadata); err != nil {
			return domain.Segment{}, fmt.Errorf("unmarshal segment metadata: %w", err)
		}
	}
	return seg, nil
}

// inClause renders $start..$start+n-1 placeholders for values.
func inClause(values []string, start int) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(values))
	for i, v := range values {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(start + i))
		args = append(args, v)
	}
	return b.String(), args
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
