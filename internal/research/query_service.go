// Package research runs the question-answering round trip: query the RAG
// gateway, resolve the returned evidence to registered chunks, generate a
// cited answer, and persist the whole exchange as an immutable synthesis.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"citetrail/internal/chunker"
	"citetrail/internal/faults"
	"citetrail/internal/gateway"
	"citetrail/internal/llm"
	"citetrail/internal/models"
	"citetrail/internal/observability"
)

// ChunkResolver maps opaque gateway identifiers back to registered chunks.
type ChunkResolver interface {
	Resolve(ctx context.Context, gatewayID, docNameHint string) (models.Chunk, error)
}

// SynthesisRecorder appends one query round trip to the audit log.
type SynthesisRecorder interface {
	Record(ctx context.Context, s models.Synthesis) (string, error)
}

// Evidence is one resolved hit, in gateway rank order, shaped for display.
type Evidence struct {
	ChunkID string  `json:"chunk_id"`
	PaperID string  `json:"paper_id"`
	Section string  `json:"section,omitempty"`
	Page    *int    `json:"page,omitempty"`
	Preview string  `json:"preview,omitempty"`
	Score   float64 `json:"score"`
}

// Answer is the result of one Ask call.
type Answer struct {
	SynthesisID string     `json:"synthesis_id"`
	Answer      string     `json:"answer"`
	Evidence    []Evidence `json:"evidence"`
}

type QueryService struct {
	gw       gateway.Client
	chunks   ChunkResolver
	recorder SynthesisRecorder
	llm      llm.Client
	log      zerolog.Logger
}

func NewQueryService(gw gateway.Client, chunks ChunkResolver, recorder SynthesisRecorder, generator llm.Client, log zerolog.Logger) *QueryService {
	return &QueryService{gw: gw, chunks: chunks, recorder: recorder, llm: generator, log: log}
}

// rewriteQuery prepares the user's question for the gateway, whose corpus
// carries bracketed source headers folded into every chunk. Telling the
// gateway to lean on those headers measurably improves section-scoped
// retrieval.
func rewriteQuery(query string) string {
	q := strings.TrimSpace(query)
	return q + "\n\nPassages begin with a [Source: ...] header naming the paper, section and page; prefer passages whose header matches the question's topic."
}

// Ask runs one retrieval round trip. Hits whose gateway id cannot be
// resolved to a registered chunk are logged and dropped; everything that
// is recorded points at live chunks, validated again inside the insert
// transaction.
func (s *QueryService) Ask(ctx context.Context, projectID, query string, mode gateway.QueryMode) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, faults.Newf(faults.KindValidation, "empty query")
	}
	if mode == "" {
		mode = gateway.ModeHybrid
	}
	if !gateway.ValidMode(mode) {
		return Answer{}, faults.Newf(faults.KindValidation, "unknown query mode %q", mode)
	}

	rewritten := rewriteQuery(query)

	start := time.Now()
	hits, err := s.gw.Query(ctx, rewritten, mode)
	observability.GatewayRequestDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	if err != nil {
		return Answer{}, fmt.Errorf("query gateway: %w", err)
	}

	var (
		evidence []Evidence
		chunkIDs []string
		scores   []float64
		contexts []string
	)
	for _, hit := range hits {
		c, err := s.chunks.Resolve(ctx, hit.GatewayChunkID, "")
		if err != nil {
			s.log.Warn().Err(err).
				Str("gateway_chunk_id", hit.GatewayChunkID).
				Msg("dropping unresolvable gateway hit")
			continue
		}
		evidence = append(evidence, Evidence{
			ChunkID: c.ChunkID,
			PaperID: c.PaperID,
			Section: c.Section,
			Page:    c.Page,
			Preview: c.Preview,
			Score:   hit.Score,
		})
		chunkIDs = append(chunkIDs, c.ChunkID)
		scores = append(scores, hit.Score)

		if _, rest, ok := chunker.RecoverHeader(hit.Content); ok {
			contexts = append(contexts, rest)
		} else {
			contexts = append(contexts, hit.Content)
		}
	}

	answer, err := s.llm.Generate(ctx, query, contexts)
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	id, err := s.recorder.Record(ctx, models.Synthesis{
		ProjectID:      projectID,
		Query:          query,
		RewrittenQuery: rewritten,
		Answer:         answer,
		ChunkIDs:       chunkIDs,
		Scores:         scores,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("record synthesis: %w", err)
	}
	observability.SynthesesRecorded.Inc()

	return Answer{SynthesisID: id, Answer: answer, Evidence: evidence}, nil
}
