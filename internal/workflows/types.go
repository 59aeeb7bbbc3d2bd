package workflows

type PaperIngestInput struct {
	PaperID string `json:"paper_id"`
	Force   bool   `json:"force"`
}

// PaperIngestStatus is the live view exposed through the workflow query
// handler; the database holds the durable copy.
type PaperIngestStatus struct {
	PaperID     string            `json:"paper_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Steps       map[string]string `json:"steps"`
	DocName     string            `json:"doc_name,omitempty"`
	ChunkCount  int               `json:"chunk_count"`
}
