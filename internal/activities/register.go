package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.GetPaperActivity)
	w.RegisterActivity(a.UpdatePaperStatusActivity)
	w.RegisterActivity(a.DownloadPDFActivity)
	w.RegisterActivity(a.ParsePDFActivity)
	w.RegisterActivity(a.ChunkPaperActivity)
	w.RegisterActivity(a.IngestChunksActivity)
}
