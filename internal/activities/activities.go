// Package activities holds the Temporal activity implementations behind
// the paper ingestion workflow. Activities are the only layer that talks
// to storage, the gateway and the PDF pipeline; the workflow above them
// stays deterministic.
package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"citetrail/internal/chunker"
	"citetrail/internal/config"
	"citetrail/internal/faults"
	"citetrail/internal/gateway"
	"citetrail/internal/models"
	"citetrail/internal/observability"
	"citetrail/internal/pdf"
	"citetrail/internal/storage"
	"citetrail/internal/util"
)

// paperStore and chunkStore narrow the storage surface the activities
// touch so tests can stand in fakes.
type paperStore interface {
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
	UpdateStatus(ctx context.Context, paperID string, status models.IngestionStatus, failReason string) error
	SetDocName(ctx context.Context, paperID, docName string) error
}

type chunkStore interface {
	ReplaceChunks(ctx context.Context, paperID string, chunks []storage.NewChunk) error
}

type Activities struct {
	cfg       config.Config
	paperRepo paperStore
	chunkRepo chunkStore
	gateway   gateway.Client
	fetcher   pdf.Fetcher
	parser    pdf.Parser
	chunker   *chunker.Chunker
	log       zerolog.Logger
}

func New(cfg config.Config, db *storage.DB, gw gateway.Client, fetcher pdf.Fetcher, parser pdf.Parser, log zerolog.Logger) *Activities {
	return &Activities{
		cfg:       cfg,
		paperRepo: storage.NewPaperRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		gateway:   gw,
		fetcher:   fetcher,
		parser:    parser,
		chunker: chunker.New(chunker.Config{
			MaxTokens:     cfg.ChunkMaxTokens,
			MinTokens:     cfg.ChunkMinTokens,
			OverlapTokens: cfg.ChunkOverlapTokens,
			PreviewChars:  cfg.ChunkPreviewChars,
		}),
		log: log,
	}
}

// asActivityError marks terminal faults non-retryable so Temporal does
// not burn attempts on input that cannot improve. Upstream faults and
// unclassified errors keep the default retry behavior.
func asActivityError(err error) error {
	if err == nil {
		return nil
	}
	kind := faults.KindOf(err)
	if kind == "" || faults.Retryable(err) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
}

func (a *Activities) GetPaperActivity(ctx context.Context, in GetPaperInput) (GetPaperOutput, error) {
	p, err := a.paperRepo.GetPaper(ctx, in.PaperID)
	if err != nil {
		return GetPaperOutput{}, asActivityError(err)
	}
	return GetPaperOutput{Paper: p}, nil
}

func (a *Activities) UpdatePaperStatusActivity(ctx context.Context, in UpdatePaperStatusInput) error {
	err := a.paperRepo.UpdateStatus(ctx, in.PaperID, models.IngestionStatus(in.Status), in.FailReason)
	if err != nil {
		return asActivityError(err)
	}
	if models.IngestionStatus(in.Status).Terminal() {
		observability.PapersByTerminalState.WithLabelValues(in.Status).Inc()
	}
	return nil
}

func (a *Activities) DownloadPDFActivity(ctx context.Context, in DownloadPDFInput) (DownloadPDFOutput, error) {
	if in.PDFURL == "" {
		observability.IngestSteps.WithLabelValues("download", "failed").Inc()
		return DownloadPDFOutput{}, asActivityError(faults.Newf(faults.KindValidation, "paper %s has no pdf url", in.PaperID))
	}
	data, err := a.fetcher.Fetch(ctx, in.PDFURL)
	if err != nil {
		observability.IngestSteps.WithLabelValues("download", "failed").Inc()
		return DownloadPDFOutput{}, asActivityError(fmt.Errorf("download pdf for paper %s: %w", in.PaperID, err))
	}
	sum := util.SHA256Hex(data)
	a.log.Debug().Str("paper_id", in.PaperID).Str("sha256", sum).Int("bytes", len(data)).Msg("downloaded pdf")
	observability.IngestSteps.WithLabelValues("download", "ok").Inc()
	return DownloadPDFOutput{Data: data, SHA256: sum}, nil
}

func (a *Activities) ParsePDFActivity(_ context.Context, in ParsePDFInput) (ParsePDFOutput, error) {
	sections, err := a.parser.Parse(in.Data)
	if err != nil {
		observability.IngestSteps.WithLabelValues("parse", "failed").Inc()
		return ParsePDFOutput{}, asActivityError(fmt.Errorf("parse pdf for paper %s: %w", in.PaperID, err))
	}
	out := ParsePDFOutput{Sections: make([]SectionItem, 0, len(sections))}
	for _, s := range sections {
		out.Sections = append(out.Sections, SectionItem{Label: s.Label, Page: s.Page, Text: s.Text})
	}
	observability.IngestSteps.WithLabelValues("parse", "ok").Inc()
	return out, nil
}

func (a *Activities) ChunkPaperActivity(ctx context.Context, in ChunkPaperInput) (ChunkPaperOutput, error) {
	paper, err := a.paperRepo.GetPaper(ctx, in.PaperID)
	if err != nil {
		return ChunkPaperOutput{}, asActivityError(err)
	}
	sections := make([]pdf.Section, 0, len(in.Sections))
	for _, s := range in.Sections {
		sections = append(sections, pdf.Section{Label: s.Label, Page: s.Page, Text: s.Text})
	}
	chunks := a.chunker.ChunkPaper(paper, sections)
	if len(chunks) == 0 {
		observability.IngestSteps.WithLabelValues("chunk", "failed").Inc()
		return ChunkPaperOutput{}, asActivityError(fmt.Errorf("paper %s: %w", in.PaperID, faults.ErrNoExtractableText))
	}
	out := ChunkPaperOutput{Chunks: make([]ChunkItem, 0, len(chunks))}
	for _, c := range chunks {
		out.Chunks = append(out.Chunks, ChunkItem{
			OrderIndex: c.OrderIndex,
			Section:    c.Section,
			Page:       c.Page,
			Raw:        c.Raw,
			Text:       c.Text,
			Preview:    c.Preview,
		})
	}
	observability.IngestSteps.WithLabelValues("chunk", "ok").Inc()
	return out, nil
}

// IngestChunksActivity submits chunk texts to the gateway in batches and
// registers the returned ids. The previous gateway document is dropped
// first and the local chunk set is swapped in one transaction, so any
// attempt — first ingest, retry after a partial failure, or force — is
// idempotent and a re-ingested paper is never half old, half new.
func (a *Activities) IngestChunksActivity(ctx context.Context, in IngestChunksInput) (IngestChunksOutput, error) {
	paper, err := a.paperRepo.GetPaper(ctx, in.PaperID)
	if err != nil {
		return IngestChunksOutput{}, asActivityError(err)
	}
	docName := chunker.DocName(paper)

	if err := a.gateway.DeleteDocument(ctx, docName); err != nil {
		// The document may simply not exist yet; the re-ingest wins
		// either way because the name is deterministic.
		a.log.Debug().Err(err).Str("doc_name", docName).Msg("no superseded gateway document removed")
	}

	batch := a.cfg.IngestBatchSize
	if batch <= 0 {
		batch = 10
	}
	registered := make([]storage.NewChunk, 0, len(in.Chunks))
	for start := 0; start < len(in.Chunks); start += batch {
		end := start + batch
		if end > len(in.Chunks) {
			end = len(in.Chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range in.Chunks[start:end] {
			texts = append(texts, c.Text)
		}
		begin := time.Now()
		res, err := a.gateway.Ingest(ctx, texts, docName)
		observability.GatewayRequestDuration.WithLabelValues("ingest").Observe(time.Since(begin).Seconds())
		if err != nil {
			observability.IngestSteps.WithLabelValues("gateway", "failed").Inc()
			return IngestChunksOutput{}, asActivityError(fmt.Errorf("ingest batch for paper %s: %w", in.PaperID, err))
		}
		for i, c := range in.Chunks[start:end] {
			registered = append(registered, storage.NewChunk{
				ChunkID:    uuid.NewString(),
				GatewayID:  res.ChunkIDs[i],
				DocName:    docName,
				Section:    c.Section,
				Page:       c.Page,
				Preview:    c.Preview,
				OrderIndex: c.OrderIndex,
			})
		}
	}

	if err := a.chunkRepo.ReplaceChunks(ctx, in.PaperID, registered); err != nil {
		observability.IngestSteps.WithLabelValues("gateway", "failed").Inc()
		return IngestChunksOutput{}, asActivityError(err)
	}
	if err := a.paperRepo.SetDocName(ctx, in.PaperID, docName); err != nil {
		return IngestChunksOutput{}, asActivityError(err)
	}

	observability.IngestSteps.WithLabelValues("gateway", "ok").Inc()
	return IngestChunksOutput{DocName: docName, ChunkCount: len(registered)}, nil
}
