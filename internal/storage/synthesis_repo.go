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

// SynthesisRepo persists RAG query round trips as an append-only audit
// log. Records are never updated, only superseded by new ones.
type SynthesisRepo struct {
	db *DB
}

func NewSynthesisRepo(db *DB) *SynthesisRepo {
	return &SynthesisRepo{db: db}
}

// Record validates every ranked chunk id against live chunks inside the
// insert transaction; an unknown id aborts with UnknownChunk and nothing
// is persisted. Rank order and scores are stored exactly as given.
func (r *SynthesisRepo) Record(ctx context.Context, s models.Synthesis) (string, error) {
	if len(s.ChunkIDs) != len(s.Scores) {
		return "", faults.Newf(faults.KindValidation, "ranked chunks and scores differ in length: %d vs %d", len(s.ChunkIDs), len(s.Scores))
	}
	// A zero-evidence answer still gets an audit row. pgx encodes a nil
	// slice as SQL NULL, which the NOT NULL array columns reject.
	chunkIDs := s.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	scores := s.Scores
	if scores == nil {
		scores = []float64{}
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin record synthesis tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if len(chunkIDs) > 0 {
		var live int
		err := tx.QueryRow(ctx, `
SELECT COUNT(DISTINCT chunk_id) FROM chunks WHERE chunk_id = ANY($1::uuid[])`, chunkIDs).Scan(&live)
		if err != nil {
			return "", fmt.Errorf("validate ranked chunks: %w", err)
		}
		if live != countDistinct(chunkIDs) {
			return "", fmt.Errorf("synthesis references unregistered chunks: %w", faults.ErrUnknownChunk)
		}
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
INSERT INTO syntheses (synthesis_id, project_id, query, rewritten_query, answer, chunk_ids, scores)
VALUES ($1, $2, $3, NULLIF($4,''), $5, $6::uuid[], $7)`,
		id, s.ProjectID, s.Query, s.RewrittenQuery, s.Answer, chunkIDs, scores)
	if err != nil {
		return "", fmt.Errorf("insert synthesis: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit record synthesis tx: %w", err)
	}
	return id, nil
}

func (r *SynthesisRepo) GetSynthesis(ctx context.Context, synthesisID string) (models.Synthesis, error) {
	var s models.Synthesis
	err := r.db.Pool.QueryRow(ctx, `
SELECT synthesis_id::text, project_id::text, query, COALESCE(rewritten_query,''), answer,
       chunk_ids::text[], scores, created_at
FROM syntheses WHERE synthesis_id=$1`, synthesisID).
		Scan(&s.SynthesisID, &s.ProjectID, &s.Query, &s.RewrittenQuery, &s.Answer, &s.ChunkIDs, &s.Scores, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Synthesis{}, fmt.Errorf("synthesis %s: %w", synthesisID, faults.ErrUnknownReference)
	}
	if err != nil {
		return models.Synthesis{}, fmt.Errorf("get synthesis: %w", err)
	}
	return s, nil
}

func countDistinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
