package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"citetrail/internal/faults"
	"citetrail/internal/models"
)

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

const paperColumns = `
paper_id::text, project_id::text, COALESCE(doi,''), COALESCE(arxiv_id,''), COALESCE(external_id,''),
title, authors, year, COALESCE(venue,''), COALESCE(pdf_url,''), COALESCE(doc_name,''),
status, COALESCE(fail_reason,''), chunk_count, created_at, updated_at`

func scanPaper(row pgx.Row) (models.Paper, error) {
	var p models.Paper
	var authors []byte
	err := row.Scan(&p.PaperID, &p.ProjectID, &p.DOI, &p.ArxivID, &p.ExternalID,
		&p.Title, &authors, &p.Year, &p.Venue, &p.PDFURL, &p.DocName,
		&p.Status, &p.FailReason, &p.ChunkCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Paper{}, err
	}
	if len(authors) > 0 {
		if err := json.Unmarshal(authors, &p.Authors); err != nil {
			return models.Paper{}, fmt.Errorf("decode authors: %w", err)
		}
	}
	return p, nil
}

func (r *PaperRepo) CreatePaper(ctx context.Context, p models.Paper) error {
	authors, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("encode authors: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO papers (paper_id, project_id, doi, arxiv_id, external_id, title, authors, year, venue, pdf_url, doc_name, status)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6, $7, $8, NULLIF($9,''), NULLIF($10,''), NULLIF($11,''), $12)`,
		p.PaperID, p.ProjectID, p.DOI, p.ArxivID, p.ExternalID, p.Title, authors, p.Year, p.Venue, p.PDFURL, p.DocName, string(p.Status),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("paper with doi %q already in project: %w", p.DOI, faults.New(faults.KindValidation, err))
	}
	if err != nil {
		return fmt.Errorf("create paper: %w", err)
	}
	return nil
}

func (r *PaperRepo) GetPaper(ctx context.Context, paperID string) (models.Paper, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE paper_id=$1`, paperID)
	p, err := scanPaper(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Paper{}, fmt.Errorf("get paper %s: %w", paperID, faults.ErrUnknownReference)
	}
	if err != nil {
		return models.Paper{}, fmt.Errorf("get paper: %w", err)
	}
	return p, nil
}

func (r *PaperRepo) ListPapersByProject(ctx context.Context, projectID string) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+paperColumns+` FROM papers WHERE project_id=$1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Paper, 0)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return out, nil
}

// UpdateStatus records a pipeline transition. Its write is what makes
// each ingestion step externally observable through status queries.
func (r *PaperRepo) UpdateStatus(ctx context.Context, paperID string, status models.IngestionStatus, failReason string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE papers SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE paper_id=$1`,
		paperID, string(status), failReason)
	if err != nil {
		return fmt.Errorf("update paper status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update status of paper %s: %w", paperID, faults.ErrUnknownReference)
	}
	return nil
}

func (r *PaperRepo) SetDocName(ctx context.Context, paperID, docName string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE papers SET doc_name=$2, updated_at=NOW() WHERE paper_id=$1`, paperID, docName)
	if err != nil {
		return fmt.Errorf("set paper doc name: %w", err)
	}
	return nil
}

// ResetForRetry re-enters a failed paper at pending. Only failed papers
// qualify; anything else is a caller error surfaced as validation.
func (r *PaperRepo) ResetForRetry(ctx context.Context, paperID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE papers SET status='pending', fail_reason=NULL, updated_at=NOW()
WHERE paper_id=$1 AND status='failed'`, paperID)
	if err != nil {
		return fmt.Errorf("reset paper for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.KindValidation, "paper %s is not in failed state", paperID)
	}
	return nil
}

// ReclaimStale resets papers stuck in a non-terminal state longer than
// olderThan back to pending. A crash mid-step leaves the row at the last
// completed transition; with a single writer per paper it is safe to
// assume the run is dead once the threshold passes.
func (r *PaperRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
UPDATE papers SET status='pending', fail_reason=NULL, updated_at=NOW()
WHERE status IN ('downloading','parsing','chunking','ingesting')
  AND updated_at < NOW() - make_interval(secs => $1)
RETURNING paper_id::text`, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("reclaim stale papers: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reclaimed paper: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePaper removes a paper and (via cascade) its chunks. While live
// citations point at the paper or its chunks the delete is refused
// unless force is set, in which case those citations are downgraded to
// explicit source-removed markers in the same transaction.
func (r *PaperRepo) DeletePaper(ctx context.Context, paperID string, force bool) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete paper tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var cited int
	err = tx.QueryRow(ctx, `
SELECT COUNT(*) FROM citations c
WHERE c.paper_id=$1
   OR c.chunk_id IN (SELECT chunk_id FROM chunks WHERE paper_id=$1)`, paperID).Scan(&cited)
	if err != nil {
		return fmt.Errorf("count citations for paper: %w", err)
	}
	if cited > 0 {
		if !force {
			return fmt.Errorf("paper %s has %d live citations: %w", paperID, cited, faults.ErrPaperCited)
		}
		_, err = tx.Exec(ctx, `
UPDATE citations SET source_removed=TRUE
WHERE paper_id=$1
   OR chunk_id IN (SELECT chunk_id FROM chunks WHERE paper_id=$1)`, paperID)
		if err != nil {
			return fmt.Errorf("downgrade citations: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM papers WHERE paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("delete paper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete paper %s: %w", paperID, faults.ErrUnknownReference)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete paper tx: %w", err)
	}
	return nil
}
