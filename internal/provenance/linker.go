// Package provenance links citations in user documents back to their
// evidence chain and checks quoted text against the authoritative copy
// held by the RAG gateway.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"citetrail/internal/cite"
	"citetrail/internal/faults"
	"citetrail/internal/models"
	"citetrail/internal/observability"
	"citetrail/internal/util"
)

type CitationStore interface {
	CreateCitation(ctx context.Context, c models.Citation) (string, error)
	GetCitation(ctx context.Context, citationID string) (models.Citation, error)
}

type PaperStore interface {
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
}

type ChunkStore interface {
	GetChunk(ctx context.Context, chunkID string) (models.Chunk, error)
}

type SynthesisStore interface {
	GetSynthesis(ctx context.Context, synthesisID string) (models.Synthesis, error)
}

// DocumentSource serves the authoritative text of an ingested document.
type DocumentSource interface {
	DocumentText(ctx context.Context, documentName string) (string, error)
}

type Linker struct {
	citations CitationStore
	papers    PaperStore
	chunks    ChunkStore
	syntheses SynthesisStore
	docs      DocumentSource
	log       zerolog.Logger
}

func NewLinker(citations CitationStore, papers PaperStore, chunks ChunkStore, syntheses SynthesisStore, docs DocumentSource, log zerolog.Logger) *Linker {
	return &Linker{citations: citations, papers: papers, chunks: chunks, syntheses: syntheses, docs: docs, log: log}
}

// Create links a citation. Referential checks (paper exists, chunk
// belongs to the paper) run inside the store's transaction; here we only
// add the advisory check that a cited chunk actually appeared in the
// synthesis it claims to come from, which is suspicious but legal.
func (l *Linker) Create(ctx context.Context, c models.Citation) (string, error) {
	if strings.TrimSpace(c.BlockID) == "" {
		return "", faults.Newf(faults.KindValidation, "citation requires a block id")
	}
	if strings.TrimSpace(c.PaperID) == "" {
		return "", faults.Newf(faults.KindValidation, "citation requires a paper id")
	}
	if strings.TrimSpace(c.InText) == "" {
		return "", faults.Newf(faults.KindValidation, "citation requires in-text form")
	}
	if c.OffsetStart != nil && c.OffsetEnd != nil && *c.OffsetEnd < *c.OffsetStart {
		return "", faults.Newf(faults.KindValidation, "citation offset range is inverted")
	}

	if c.ChunkID != "" && c.SynthesisID != "" {
		s, err := l.syntheses.GetSynthesis(ctx, c.SynthesisID)
		if err != nil {
			return "", fmt.Errorf("load citation synthesis: %w", err)
		}
		if !containsID(s.ChunkIDs, c.ChunkID) {
			l.log.Warn().
				Str("citation_block", c.BlockID).
				Str("chunk_id", c.ChunkID).
				Str("synthesis_id", c.SynthesisID).
				Msg("cited chunk was not among the synthesis's ranked evidence")
		}
	}

	id, err := l.citations.CreateCitation(ctx, c)
	if err != nil {
		return "", err
	}
	observability.CitationsCreated.Inc()
	return id, nil
}

// Provenance is the evidence chain behind one citation. Nil pointers mark
// links that were severed by later library reorganization; the citation
// itself remains readable.
type Provenance struct {
	Citation  models.Citation   `json:"citation"`
	Paper     *models.Paper     `json:"paper,omitempty"`
	Chunk     *models.Chunk     `json:"chunk,omitempty"`
	Synthesis *models.Synthesis `json:"synthesis,omitempty"`
	Reference string            `json:"reference,omitempty"`
}

// Provenance assembles citation -> synthesis -> chunk -> paper. It is a
// pure read: dangling links come back nil, never as errors.
func (l *Linker) Provenance(ctx context.Context, citationID string) (Provenance, error) {
	c, err := l.citations.GetCitation(ctx, citationID)
	if err != nil {
		return Provenance{}, err
	}
	out := Provenance{Citation: c}

	if c.PaperID != "" {
		p, err := l.papers.GetPaper(ctx, c.PaperID)
		switch {
		case err == nil:
			out.Paper = &p
			out.Reference = cite.Reference(p)
		case errors.Is(err, faults.ErrUnknownReference):
			// severed weak link
		default:
			return Provenance{}, fmt.Errorf("load citation paper: %w", err)
		}
	}
	if c.ChunkID != "" {
		ch, err := l.chunks.GetChunk(ctx, c.ChunkID)
		switch {
		case err == nil:
			out.Chunk = &ch
		case errors.Is(err, faults.ErrUnknownChunk):
		default:
			return Provenance{}, fmt.Errorf("load citation chunk: %w", err)
		}
	}
	if c.SynthesisID != "" {
		s, err := l.syntheses.GetSynthesis(ctx, c.SynthesisID)
		switch {
		case err == nil:
			out.Synthesis = &s
		case errors.Is(err, faults.ErrUnknownReference):
		default:
			return Provenance{}, fmt.Errorf("load citation synthesis: %w", err)
		}
	}
	return out, nil
}

// VerifyResult reports a citation accuracy check. Vacuous means the
// citation carries no quote, so there was nothing to check.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Vacuous  bool   `json:"vacuous,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verify checks a citation's quote against the document text fetched
// fresh from the gateway. Previews are display artifacts and never
// consulted. Containment is checked against the whole document rather
/// than the cited chunk's span: the gateway exposes no per-chunk fetch,
// so the chunk only locates the document and a quote drawn from another
// part of the same paper still verifies. The citation row is not touched
// regardless of outcome.
func (l *Linker) Verify(ctx context.Context, citationID string) (VerifyResult, error) {
	c, err := l.citations.GetCitation(ctx, citationID)
	if err != nil {
		return VerifyResult{}, err
	}
	if strings.TrimSpace(c.Quote) == "" {
		observability.CitationVerifications.WithLabelValues("vacuous").Inc()
		return VerifyResult{Verified: true, Vacuous: true}, nil
	}

	docName, err := l.documentName(ctx, c)
	if err != nil {
		return VerifyResult{}, err
	}
	if docName == "" {
		observability.CitationVerifications.WithLabelValues("unavailable").Inc()
		return VerifyResult{Verified: false, Reason: "authoritative source is no longer available"}, nil
	}

	start := time.Now()
	text, err := l.docs.DocumentText(ctx, docName)
	observability.GatewayRequestDuration.WithLabelValues("document_text").Observe(time.Since(start).Seconds())
	if err != nil {
		return VerifyResult{}, fmt.Errorf("fetch authoritative text for %q: %w", docName, err)
	}

	haystack := util.NormalizeSpace(stripSourceHeaders(text))
	needle := util.NormalizeSpace(c.Quote)
	if strings.Contains(haystack, needle) {
		observability.CitationVerifications.WithLabelValues("pass").Inc()
		return VerifyResult{Verified: true}, nil
	}
	observability.CitationVerifications.WithLabelValues("fail").Inc()
	return VerifyResult{Verified: false, Reason: "quote not found in authoritative text"}, nil
}

// documentName prefers the cited chunk's document and falls back to the
// paper's. Both links are weak, so either may be gone.
func (l *Linker) documentName(ctx context.Context, c models.Citation) (string, error) {
	if c.ChunkID != "" {
		ch, err := l.chunks.GetChunk(ctx, c.ChunkID)
		if err == nil {
			return ch.DocName, nil
		}
		if !errors.Is(err, faults.ErrUnknownChunk) {
			return "", fmt.Errorf("load cited chunk: %w", err)
		}
	}
	if c.PaperID != "" {
		p, err := l.papers.GetPaper(ctx, c.PaperID)
		if err == nil {
			return p.DocName, nil
		}
		if !errors.Is(err, faults.ErrUnknownReference) {
			return "", fmt.Errorf("load cited paper: %w", err)
		}
	}
	return "", nil
}

// stripSourceHeaders drops the bracketed metadata headers folded into
// gateway text at ingestion time so they cannot collide with quotes.
func stripSourceHeaders(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "[Source:") && strings.HasSuffix(t, "]") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
