package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"citetrail/internal/faults"
	"citetrail/internal/models"
)

// NewChunk is a chunk reference as produced by a successful gateway
// ingestion, before it has a database row.
type NewChunk struct {
	ChunkID    string
	GatewayID  string
	DocName    string
	Section    string
	Page       *int
	Preview    string
	OrderIndex int
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RegisterChunks inserts chunk references for a paper mid-ingestion and
// recomputes the paper's chunk_count in the same transaction. The paper
// must exist and be in the ingesting state; a duplicate (paper, order)
// pair aborts the whole batch with DuplicateOrder and persists nothing.
func (r *ChunkRepo) RegisterChunks(ctx context.Context, paperID string, chunks []NewChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin register chunks tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := assertPaperIngesting(ctx, tx, paperID); err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, paperID, chunks); err != nil {
		return err
	}
	if err := recomputeChunkCount(ctx, tx, paperID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit register chunks tx: %w", err)
	}
	return nil
}

// ReplaceChunks atomically swaps a paper's entire chunk set. This is the
// force re-ingestion path: readers observe either the full old set or
// the full new set, never a mix. Citations pointing at removed chunks
// fall back to null chunk pointers through the FK.
func (r *ChunkRepo) ReplaceChunks(ctx context.Context, paperID string, chunks []NewChunk) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace chunks tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := assertPaperIngesting(ctx, tx, paperID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE paper_id=$1`, paperID); err != nil {
		return fmt.Errorf("delete superseded chunks: %w", err)
	}
	if err := insertChunks(ctx, tx, paperID, chunks); err != nil {
		return err
	}
	if err := recomputeChunkCount(ctx, tx, paperID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace chunks tx: %w", err)
	}
	return nil
}

func assertPaperIngesting(ctx context.Context, tx pgx.Tx, paperID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM papers WHERE paper_id=$1 FOR UPDATE`, paperID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("paper %s: %w", paperID, faults.ErrInvalidPaper)
	}
	if err != nil {
		return fmt.Errorf("lock paper row: %w", err)
	}
	if models.IngestionStatus(status) != models.StatusIngesting {
		return fmt.Errorf("paper %s in state %s: %w", paperID, status, faults.ErrInvalidPaper)
	}
	return nil
}

func insertChunks(ctx context.Context, tx pgx.Tx, paperID string, chunks []NewChunk) error {
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, paper_id, gateway_id, doc_name, section, page, preview, order_index)
VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, NULLIF($7,''), $8)`,
			c.ChunkID, paperID, c.GatewayID, c.DocName, c.Section, c.Page, c.Preview, c.OrderIndex)
		if isUniqueViolation(err) {
			return fmt.Errorf("paper %s order %d: %w", paperID, c.OrderIndex, faults.ErrDuplicateOrder)
		}
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

func recomputeChunkCount(ctx context.Context, tx pgx.Tx, paperID string) error {
	_, err := tx.Exec(ctx, `
UPDATE papers SET chunk_count=(SELECT COUNT(*) FROM chunks WHERE paper_id=$1), updated_at=NOW()
WHERE paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("recompute chunk count: %w", err)
	}
	return nil
}

const chunkColumns = `
chunk_id::text, paper_id::text, gateway_id, doc_name, COALESCE(section,''), page, COALESCE(preview,''), order_index, created_at`

func scanChunk(row pgx.Row) (models.Chunk, error) {
	var c models.Chunk
	err := row.Scan(&c.ChunkID, &c.PaperID, &c.GatewayID, &c.DocName, &c.Section, &c.Page, &c.Preview, &c.OrderIndex, &c.CreatedAt)
	return c, err
}

func (r *ChunkRepo) GetChunk(ctx context.Context, chunkID string) (models.Chunk, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE chunk_id=$1`, chunkID)
	c, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chunk{}, fmt.Errorf("chunk %s: %w", chunkID, faults.ErrUnknownChunk)
	}
	if err != nil {
		return models.Chunk{}, fmt.Errorf("get chunk: %w", err)
	}
	return c, nil
}

// Resolve maps a gateway identifier back to its local chunk. Gateway ids
// are not guaranteed unique across papers, so resolution is best-effort
// first match; callers that know the owning document name pass it as a
// hint to disambiguate.
func (r *ChunkRepo) Resolve(ctx context.Context, gatewayID, docNameHint string) (models.Chunk, error) {
	row := r.db.Pool.QueryRow(ctx, `
SELECT `+chunkColumns+` FROM chunks
WHERE gateway_id=$1 AND ($2='' OR doc_name=$2)
ORDER BY created_at ASC
LIMIT 1`, gatewayID, docNameHint)
	c, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chunk{}, fmt.Errorf("gateway id %s: %w", gatewayID, faults.ErrUnknownChunk)
	}
	if err != nil {
		return models.Chunk{}, fmt.Errorf("resolve gateway id: %w", err)
	}
	return c, nil
}

func (r *ChunkRepo) ListByPaper(ctx context.Context, paperID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+chunkColumns+` FROM chunks WHERE paper_id=$1 ORDER BY order_index ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by paper: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// UpdatePreview is the only permitted mutation of a chunk after creation.
func (r *ChunkRepo) UpdatePreview(ctx context.Context, chunkID, preview string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE chunks SET preview=NULLIF($2,'') WHERE chunk_id=$1`, chunkID, preview)
	if err != nil {
		return fmt.Errorf("update chunk preview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, faults.ErrUnknownChunk)
	}
	return nil
}
