package activities

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"citetrail/internal/chunker"
	"citetrail/internal/config"
	"citetrail/internal/faults"
	"citetrail/internal/gateway"
	"citetrail/internal/models"
	"citetrail/internal/storage"
)

type fakePaperStore struct {
	papers   map[string]models.Paper
	docNames map[string]string
}

func (f *fakePaperStore) GetPaper(_ context.Context, paperID string) (models.Paper, error) {
	p, ok := f.papers[paperID]
	if !ok {
		return models.Paper{}, fmt.Errorf("paper %s: %w", paperID, faults.ErrUnknownReference)
	}
	return p, nil
}

func (f *fakePaperStore) UpdateStatus(_ context.Context, paperID string, status models.IngestionStatus, failReason string) error {
	p := f.papers[paperID]
	p.Status = status
	p.FailReason = failReason
	f.papers[paperID] = p
	return nil
}

func (f *fakePaperStore) SetDocName(_ context.Context, paperID, docName string) error {
	f.docNames[paperID] = docName
	return nil
}

type fakeChunkStore struct {
	byPaper  map[string][]storage.NewChunk
	replaces int
}

func (f *fakeChunkStore) ReplaceChunks(_ context.Context, paperID string, chunks []storage.NewChunk) error {
	f.replaces++
	f.byPaper[paperID] = chunks
	return nil
}

func newTestActivities(ps *fakePaperStore, cs *fakeChunkStore, gw gateway.Client) *Activities {
	return &Activities{
		cfg:       config.Config{IngestBatchSize: 2},
		paperRepo: ps,
		chunkRepo: cs,
		gateway:   gw,
		chunker:   chunker.New(chunker.Config{}),
		log:       zerolog.Nop(),
	}
}

func seededStores() (*fakePaperStore, *fakeChunkStore) {
	ps := &fakePaperStore{
		papers: map[string]models.Paper{
			"p-1": {PaperID: "p-1", DOI: "10.1000/xyz", Title: "Deep Retrieval", Status: models.StatusIngesting},
		},
		docNames: map[string]string{},
	}
	cs := &fakeChunkStore{byPaper: map[string][]storage.NewChunk{}}
	return ps, cs
}

func ingestInput() IngestChunksInput {
	return IngestChunksInput{
		PaperID: "p-1",
		Chunks: []ChunkItem{
			{OrderIndex: 0, Section: "intro", Text: "[Source: Deep Retrieval]\n\nalpha body"},
			{OrderIndex: 1, Section: "methods", Text: "[Source: Deep Retrieval]\n\nbeta body"},
			{OrderIndex: 2, Section: "results", Text: "[Source: Deep Retrieval]\n\ngamma body"},
		},
	}
}

func TestIngestChunksRegistersGatewayIDs(t *testing.T) {
	ps, cs := seededStores()
	gw := gateway.NewMock()
	a := newTestActivities(ps, cs, gw)

	out, err := a.IngestChunksActivity(context.Background(), ingestInput())
	require.NoError(t, err)
	require.Equal(t, 3, out.ChunkCount)
	require.NotEmpty(t, out.DocName)
	require.Equal(t, out.DocName, ps.docNames["p-1"])

	rows := cs.byPaper["p-1"]
	require.Len(t, rows, 3)
	for i, row := range rows {
		require.Equal(t, i, row.OrderIndex)
		require.Equal(t, fmt.Sprintf("%s#%d", out.DocName, i), row.GatewayID)
	}
}

func TestIngestChunksRetryReplacesPriorState(t *testing.T) {
	ps, cs := seededStores()
	gw := gateway.NewMock()
	a := newTestActivities(ps, cs, gw)
	ctx := context.Background()

	_, err := a.IngestChunksActivity(ctx, ingestInput())
	require.NoError(t, err)

	// A second attempt over the same paper must land on the same end
	// state: no appended gateway texts, no conflicting chunk rows.
	out, err := a.IngestChunksActivity(ctx, ingestInput())
	require.NoError(t, err)
	require.Equal(t, 3, out.ChunkCount)
	require.Equal(t, 2, cs.replaces)

	rows := cs.byPaper["p-1"]
	require.Len(t, rows, 3)
	for i, row := range rows {
		require.Equal(t, fmt.Sprintf("%s#%d", out.DocName, i), row.GatewayID)
	}

	text, err := gw.DocumentText(ctx, out.DocName)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(text, "alpha body"))
	require.Equal(t, 1, strings.Count(text, "gamma body"))
}

func TestDownloadPDFActivityWithoutURLIsTerminal(t *testing.T) {
	ps, cs := seededStores()
	a := newTestActivities(ps, cs, gateway.NewMock())

	_, err := a.DownloadPDFActivity(context.Background(), DownloadPDFInput{PaperID: "p-1"})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.True(t, appErr.NonRetryable())
	require.Equal(t, string(faults.KindValidation), appErr.Type())
}
