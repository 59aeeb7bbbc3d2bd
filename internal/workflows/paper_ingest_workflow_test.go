package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"citetrail/internal/activities"
	"citetrail/internal/models"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func newIngestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(PaperIngestWorkflow)
	registerActivityName(env, "GetPaperActivity", func(context.Context, activities.GetPaperInput) (activities.GetPaperOutput, error) {
		return activities.GetPaperOutput{}, nil
	})
	registerActivityName(env, "UpdatePaperStatusActivity", func(context.Context, activities.UpdatePaperStatusInput) error { return nil })
	registerActivityName(env, "DownloadPDFActivity", func(context.Context, activities.DownloadPDFInput) (activities.DownloadPDFOutput, error) {
		return activities.DownloadPDFOutput{}, nil
	})
	registerActivityName(env, "ParsePDFActivity", func(context.Context, activities.ParsePDFInput) (activities.ParsePDFOutput, error) {
		return activities.ParsePDFOutput{}, nil
	})
	registerActivityName(env, "ChunkPaperActivity", func(context.Context, activities.ChunkPaperInput) (activities.ChunkPaperOutput, error) {
		return activities.ChunkPaperOutput{}, nil
	})
	registerActivityName(env, "IngestChunksActivity", func(context.Context, activities.IngestChunksInput) (activities.IngestChunksOutput, error) {
		return activities.IngestChunksOutput{}, nil
	})
	return env
}

func TestPaperIngestWorkflowSuccess(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("GetPaperActivity", mock.Anything, activities.GetPaperInput{PaperID: "p-1"}).
		Return(activities.GetPaperOutput{Paper: models.Paper{PaperID: "p-1", PDFURL: "https://example.org/p.pdf", Status: models.StatusPending}}, nil)

	var statuses []string
	env.OnActivity("UpdatePaperStatusActivity", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(activities.UpdatePaperStatusInput)
			statuses = append(statuses, in.Status)
		}).Return(nil)
	env.OnActivity("DownloadPDFActivity", mock.Anything, mock.Anything).
		Return(activities.DownloadPDFOutput{Data: []byte("%PDF-1.5 data")}, nil)
	env.OnActivity("ParsePDFActivity", mock.Anything, mock.Anything).
		Return(activities.ParsePDFOutput{Sections: []activities.SectionItem{{Label: "Introduction", Page: 1, Text: "body"}}}, nil)
	env.OnActivity("ChunkPaperActivity", mock.Anything, mock.Anything).
		Return(activities.ChunkPaperOutput{Chunks: []activities.ChunkItem{{OrderIndex: 0, Section: "Introduction", Raw: "body", Text: "[Source: x]\n\nbody"}}}, nil)
	env.OnActivity("IngestChunksActivity", mock.Anything, activities.IngestChunksInput{
		PaperID: "p-1",
		Chunks:  []activities.ChunkItem{{OrderIndex: 0, Section: "Introduction", Raw: "body", Text: "[Source: x]\n\nbody"}},
	}).Return(activities.IngestChunksOutput{DocName: "doc-p1", ChunkCount: 1}, nil)

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{PaperID: "p-1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "ready", out)
	require.Equal(t, []string{"downloading", "parsing", "chunking", "ingesting", "ready"}, statuses)
}

func TestPaperIngestWorkflowDownloadFailureMarksFailed(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("GetPaperActivity", mock.Anything, mock.Anything).
		Return(activities.GetPaperOutput{Paper: models.Paper{PaperID: "p-1", PDFURL: "https://example.org/p.pdf", Status: models.StatusPending}}, nil)

	var failReason string
	env.OnActivity("UpdatePaperStatusActivity", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(activities.UpdatePaperStatusInput)
			if in.Status == "failed" {
				failReason = in.FailReason
			}
		}).Return(nil)
	env.OnActivity("DownloadPDFActivity", mock.Anything, mock.Anything).
		Return(activities.DownloadPDFOutput{}, errors.New("fetch pdf: status 404"))

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{PaperID: "p-1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "failed", out)
	require.Contains(t, failReason, "download failed")
	require.Contains(t, failReason, "404")
}

func TestPaperIngestWorkflowNoTextFailsGracefully(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("GetPaperActivity", mock.Anything, mock.Anything).
		Return(activities.GetPaperOutput{Paper: models.Paper{PaperID: "p-1", PDFURL: "https://example.org/p.pdf", Status: models.StatusPending}}, nil)
	env.OnActivity("UpdatePaperStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("DownloadPDFActivity", mock.Anything, mock.Anything).
		Return(activities.DownloadPDFOutput{Data: []byte("scan")}, nil)
	env.OnActivity("ParsePDFActivity", mock.Anything, mock.Anything).
		Return(activities.ParsePDFOutput{}, errors.New("no extractable text found in PDF"))

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{PaperID: "p-1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "failed", out)
}

func TestPaperIngestWorkflowReadyIsNoOpWithoutForce(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("GetPaperActivity", mock.Anything, mock.Anything).
		Return(activities.GetPaperOutput{Paper: models.Paper{PaperID: "p-1", Status: models.StatusReady, ChunkCount: 12, DocName: "doc-p1"}}, nil)

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{PaperID: "p-1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "ready", out)
	env.AssertNotCalled(t, "DownloadPDFActivity", mock.Anything, mock.Anything)
}

func TestPaperIngestWorkflowForceReingestsReadyPaper(t *testing.T) {
	env := newIngestEnv(t)
	env.OnActivity("GetPaperActivity", mock.Anything, mock.Anything).
		Return(activities.GetPaperOutput{Paper: models.Paper{PaperID: "p-1", PDFURL: "https://example.org/p.pdf", Status: models.StatusReady, ChunkCount: 12}}, nil)
	env.OnActivity("UpdatePaperStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("DownloadPDFActivity", mock.Anything, mock.Anything).
		Return(activities.DownloadPDFOutput{Data: []byte("%PDF-")}, nil)
	env.OnActivity("ParsePDFActivity", mock.Anything, mock.Anything).
		Return(activities.ParsePDFOutput{Sections: []activities.SectionItem{{Text: "body"}}}, nil)
	env.OnActivity("ChunkPaperActivity", mock.Anything, mock.Anything).
		Return(activities.ChunkPaperOutput{Chunks: []activities.ChunkItem{{Raw: "body", Text: "body"}}}, nil)

	var ingested bool
	env.OnActivity("IngestChunksActivity", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { ingested = true }).
		Return(activities.IngestChunksOutput{DocName: "doc-p1", ChunkCount: 3}, nil)

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{PaperID: "p-1", Force: true})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "ready", out)
	require.True(t, ingested)
}
