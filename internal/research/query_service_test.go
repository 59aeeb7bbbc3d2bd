package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"citetrail/internal/faults"
	"citetrail/internal/gateway"
	"citetrail/internal/llm"
	"citetrail/internal/models"
)

type fakeResolver struct {
	byGatewayID map[string]models.Chunk
}

func (f *fakeResolver) Resolve(_ context.Context, gatewayID, _ string) (models.Chunk, error) {
	c, ok := f.byGatewayID[gatewayID]
	if !ok {
		return models.Chunk{}, fmt.Errorf("gateway id %s: %w", gatewayID, faults.ErrUnknownChunk)
	}
	return c, nil
}

type fakeRecorder struct {
	recorded []models.Synthesis
	err      error
}

func (f *fakeRecorder) Record(_ context.Context, s models.Synthesis) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.recorded = append(f.recorded, s)
	return fmt.Sprintf("syn-%d", len(f.recorded)), nil
}

func page(n int) *int { return &n }

func TestAskRecordsResolvedHitsInRankOrder(t *testing.T) {
	gw := gateway.NewMock()
	gw.QueryHits = []gateway.Hit{
		{GatewayChunkID: "g-2", Content: "[Source: P | Section: Results | Page: 4]\n\nsecond best", Score: 0.91},
		{GatewayChunkID: "g-1", Content: "plain text without header", Score: 0.80},
	}
	resolver := &fakeResolver{byGatewayID: map[string]models.Chunk{
		"g-1": {ChunkID: "c-1", PaperID: "p-1", Section: "Intro", Preview: "plain..."},
		"g-2": {ChunkID: "c-2", PaperID: "p-1", Section: "Results", Page: page(4)},
	}}
	rec := &fakeRecorder{}
	svc := NewQueryService(gw, resolver, rec, &llm.Static{Answer: "Grounded answer [C1]."}, zerolog.Nop())

	ans, err := svc.Ask(context.Background(), "proj-1", "what did the results show?", gateway.ModeHybrid)
	require.NoError(t, err)
	require.Equal(t, "syn-1", ans.SynthesisID)
	require.Equal(t, "Grounded answer [C1].", ans.Answer)

	require.Len(t, rec.recorded, 1)
	got := rec.recorded[0]
	require.Equal(t, "proj-1", got.ProjectID)
	require.Equal(t, "what did the results show?", got.Query)
	require.NotEqual(t, got.Query, got.RewrittenQuery)
	require.Equal(t, []string{"c-2", "c-1"}, got.ChunkIDs)
	require.Equal(t, []float64{0.91, 0.80}, got.Scores)

	require.Len(t, ans.Evidence, 2)
	require.Equal(t, "c-2", ans.Evidence[0].ChunkID)
	require.Equal(t, "Results", ans.Evidence[0].Section)
}

func TestAskDropsUnresolvableHits(t *testing.T) {
	gw := gateway.NewMock()
	gw.QueryHits = []gateway.Hit{
		{GatewayChunkID: "g-known", Content: "known", Score: 0.9},
		{GatewayChunkID: "g-stale", Content: "stale", Score: 0.5},
	}
	resolver := &fakeResolver{byGatewayID: map[string]models.Chunk{
		"g-known": {ChunkID: "c-1", PaperID: "p-1"},
	}}
	rec := &fakeRecorder{}
	svc := NewQueryService(gw, resolver, rec, &llm.Static{Answer: "ok"}, zerolog.Nop())

	ans, err := svc.Ask(context.Background(), "proj-1", "q", gateway.ModeLocal)
	require.NoError(t, err)
	require.Equal(t, []string{"c-1"}, rec.recorded[0].ChunkIDs)
	require.Len(t, ans.Evidence, 1)
}

func TestAskRejectsEmptyQueryAndBadMode(t *testing.T) {
	svc := NewQueryService(gateway.NewMock(), &fakeResolver{}, &fakeRecorder{}, &llm.Static{}, zerolog.Nop())

	_, err := svc.Ask(context.Background(), "proj-1", "   ", gateway.ModeHybrid)
	require.Equal(t, faults.KindValidation, faults.KindOf(err))

	_, err = svc.Ask(context.Background(), "proj-1", "q", gateway.QueryMode("psychic"))
	require.Equal(t, faults.KindValidation, faults.KindOf(err))
}

func TestAskDefaultsToHybridMode(t *testing.T) {
	gw := gateway.NewMock()
	rec := &fakeRecorder{}
	svc := NewQueryService(gw, &fakeResolver{}, rec, &llm.Static{Answer: "no evidence found"}, zerolog.Nop())

	ans, err := svc.Ask(context.Background(), "proj-1", "q", "")
	require.NoError(t, err)
	require.Empty(t, ans.Evidence)
	require.Len(t, rec.recorded, 1)
}

func TestAskPropagatesUpstreamFailure(t *testing.T) {
	gw := gateway.NewMock()
	gw.QueryErr = fmt.Errorf("gateway status 503: %w", faults.ErrUpstreamUnavailable)
	svc := NewQueryService(gw, &fakeResolver{}, &fakeRecorder{}, &llm.Static{}, zerolog.Nop())

	_, err := svc.Ask(context.Background(), "proj-1", "q", gateway.ModeHybrid)
	require.True(t, errors.Is(err, faults.ErrUpstreamUnavailable))
	require.True(t, faults.Retryable(err))
}
