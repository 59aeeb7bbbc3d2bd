package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"citetrail/internal/activities"
	"citetrail/internal/models"
)

const QueryGetIngestStatus = "GetIngestStatus"

// PaperIngestWorkflow drives a single paper through
// pending -> downloading -> parsing -> chunking -> ingesting -> ready.
// Each state is persisted before its step runs so external observers see
// where the pipeline is. Any step failure lands the paper in failed with
// a reason naming the step; only an explicit retry brings it back.
func PaperIngestWorkflow(ctx workflow.Context, input PaperIngestInput) (string, error) {
	status := PaperIngestStatus{
		PaperID:     input.PaperID,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (PaperIngestStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	status.CurrentStep = "load_paper"
	status.Steps[status.CurrentStep] = "processing"
	var paperOut activities.GetPaperOutput
	if err := workflow.ExecuteActivity(ctx, "GetPaperActivity", activities.GetPaperInput{PaperID: input.PaperID}).Get(ctx, &paperOut); err != nil {
		return "", err
	}
	paper := paperOut.Paper
	status.Steps[status.CurrentStep] = "done"

	if paper.Status == models.StatusReady && !input.Force {
		status.CurrentStep = "done"
		status.Status = "ready"
		status.ChunkCount = paper.ChunkCount
		status.DocName = paper.DocName
		return status.Status, nil
	}

	status.CurrentStep = "download"
	status.Steps[status.CurrentStep] = "processing"
	if err := updateStatus(ctx, input.PaperID, models.StatusDownloading, ""); err != nil {
		return "", err
	}
	var downloadOut activities.DownloadPDFOutput
	if err := workflow.ExecuteActivity(ctx, "DownloadPDFActivity", activities.DownloadPDFInput{PaperID: input.PaperID, PDFURL: paper.PDFURL}).Get(ctx, &downloadOut); err != nil {
		return markFailed(ctx, &status, "download failed: "+failureText(err)), nil
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "parse"
	status.Steps[status.CurrentStep] = "processing"
	if err := updateStatus(ctx, input.PaperID, models.StatusParsing, ""); err != nil {
		return "", err
	}
	var parseOut activities.ParsePDFOutput
	if err := workflow.ExecuteActivity(ctx, "ParsePDFActivity", activities.ParsePDFInput{PaperID: input.PaperID, Data: downloadOut.Data}).Get(ctx, &parseOut); err != nil {
		return markFailed(ctx, &status, "parse failed: "+failureText(err)), nil
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "chunk"
	status.Steps[status.CurrentStep] = "processing"
	if err := updateStatus(ctx, input.PaperID, models.StatusChunking, ""); err != nil {
		return "", err
	}
	var chunkOut activities.ChunkPaperOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkPaperActivity", activities.ChunkPaperInput{PaperID: input.PaperID, Sections: parseOut.Sections}).Get(ctx, &chunkOut); err != nil {
		return markFailed(ctx, &status, "chunk failed: "+failureText(err)), nil
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "gateway_ingest"
	status.Steps[status.CurrentStep] = "processing"
	if err := updateStatus(ctx, input.PaperID, models.StatusIngesting, ""); err != nil {
		return "", err
	}
	var ingestOut activities.IngestChunksOutput
	if err := workflow.ExecuteActivity(ctx, "IngestChunksActivity", activities.IngestChunksInput{PaperID: input.PaperID, Chunks: chunkOut.Chunks}).Get(ctx, &ingestOut); err != nil {
		return markFailed(ctx, &status, "gateway ingest failed: "+failureText(err)), nil
	}
	status.Steps[status.CurrentStep] = "done"
	status.DocName = ingestOut.DocName
	status.ChunkCount = ingestOut.ChunkCount

	status.CurrentStep = "mark_ready"
	status.Steps[status.CurrentStep] = "processing"
	if err := updateStatus(ctx, input.PaperID, models.StatusReady, ""); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = "ready"
	return status.Status, nil
}

func updateStatus(ctx workflow.Context, paperID string, st models.IngestionStatus, failReason string) error {
	return workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
		PaperID:    paperID,
		Status:     string(st),
		FailReason: failReason,
	}).Get(ctx, nil)
}

func markFailed(ctx workflow.Context, status *PaperIngestStatus, reason string) string {
	status.Status = "failed"
	status.FailReason = reason
	status.Steps[status.CurrentStep] = "failed"
	_ = updateStatus(ctx, status.PaperID, models.StatusFailed, reason)
	return status.Status
}

// failureText unwraps the activity's own message from Temporal's error
// chain so fail reasons stay readable for humans.
func failureText(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return err.Error()
}
