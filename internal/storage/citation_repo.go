package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"citetrail/internal/faults"
	"citetrail/internal/models"
)

// CitationRepo stores immutable citation records. Content edits create a
// new citation rather than rewriting an old one; the only later change a
// row can see is the source-removed downgrade applied by paper deletion.
type CitationRepo struct {
	db *DB
}

func NewCitationRepo(db *DB) *CitationRepo {
	return &CitationRepo{db: db}
}

// CreateCitation enforces, inside one transaction, that the paper exists
// and that an optional chunk pointer belongs to that same paper. A
// mismatched pair fails with PaperChunkMismatch and persists nothing.
func (r *CitationRepo) CreateCitation(ctx context.Context, c models.Citation) (string, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin create citation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM papers WHERE paper_id=$1)`, c.PaperID).Scan(&exists); err != nil {
		return "", fmt.Errorf("check citation paper: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("citation paper %s: %w", c.PaperID, faults.ErrUnknownReference)
	}

	if c.ChunkID != "" {
		var owner string
		err := tx.QueryRow(ctx, `SELECT paper_id::text FROM chunks WHERE chunk_id=$1`, c.ChunkID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("citation chunk %s: %w", c.ChunkID, faults.ErrUnknownChunk)
		}
		if err != nil {
			return "", fmt.Errorf("check citation chunk: %w", err)
		}
		if owner != c.PaperID {
			return "", fmt.Errorf("chunk %s belongs to paper %s, not %s: %w", c.ChunkID, owner, c.PaperID, faults.ErrPaperChunkMismatch)
		}
	}

	if c.SynthesisID != "" {
		var ok bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM syntheses WHERE synthesis_id=$1)`, c.SynthesisID).Scan(&ok); err != nil {
			return "", fmt.Errorf("check citation synthesis: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("citation synthesis %s: %w", c.SynthesisID, faults.ErrUnknownReference)
		}
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
INSERT INTO citations (citation_id, block_id, paper_id, chunk_id, synthesis_id, in_text, locator, quote, offset_start, offset_end)
VALUES ($1, $2, $3, NULLIF($4,'')::uuid, NULLIF($5,'')::uuid, $6, NULLIF($7,''), NULLIF($8,''), $9, $10)`,
		id, c.BlockID, c.PaperID, c.ChunkID, c.SynthesisID, c.InText, c.Locator, c.Quote, c.OffsetStart, c.OffsetEnd)
	if err != nil {
		return "", fmt.Errorf("insert citation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit create citation tx: %w", err)
	}
	return id, nil
}

func (r *CitationRepo) GetCitation(ctx context.Context, citationID string) (models.Citation, error) {
	var c models.Citation
	var paperID, chunkID, synthesisID *string
	err := r.db.Pool.QueryRow(ctx, `
SELECT citation_id::text, block_id, paper_id::text, chunk_id::text, synthesis_id::text,
       in_text, COALESCE(locator,''), COALESCE(quote,''), offset_start, offset_end, source_removed, created_at
FROM citations WHERE citation_id=$1`, citationID).
		Scan(&c.CitationID, &c.BlockID, &paperID, &chunkID, &synthesisID,
			&c.InText, &c.Locator, &c.Quote, &c.OffsetStart, &c.OffsetEnd, &c.SourceRemoved, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Citation{}, fmt.Errorf("citation %s: %w", citationID, faults.ErrUnknownReference)
	}
	if err != nil {
		return models.Citation{}, fmt.Errorf("get citation: %w", err)
	}
	if paperID != nil {
		c.PaperID = *paperID
	}
	if chunkID != nil {
		c.ChunkID = *chunkID
	}
	if synthesisID != nil {
		c.SynthesisID = *synthesisID
	}
	return c, nil
}

func (r *CitationRepo) ListByBlock(ctx context.Context, blockID string) ([]models.Citation, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT citation_id::text FROM citations WHERE block_id=$1 ORDER BY created_at ASC`, blockID)
	if err != nil {
		return nil, fmt.Errorf("list citations by block: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan citation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citations: %w", err)
	}

	out := make([]models.Citation, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetCitation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
