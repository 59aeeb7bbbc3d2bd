package activities

import "citetrail/internal/models"

type GetPaperInput struct {
	PaperID string `json:"paper_id"`
}

type GetPaperOutput struct {
	Paper models.Paper `json:"paper"`
}

type UpdatePaperStatusInput struct {
	PaperID    string `json:"paper_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type DownloadPDFInput struct {
	PaperID string `json:"paper_id"`
	PDFURL  string `json:"pdf_url"`
}

type DownloadPDFOutput struct {
	Data   []byte `json:"data"`
	SHA256 string `json:"sha256"`
}

type SectionItem struct {
	Label string `json:"label,omitempty"`
	Page  int    `json:"page,omitempty"`
	Text  string `json:"text"`
}

type ParsePDFInput struct {
	PaperID string `json:"paper_id"`
	Data    []byte `json:"data"`
}

type ParsePDFOutput struct {
	Sections []SectionItem `json:"sections"`
}

type ChunkItem struct {
	OrderIndex int    `json:"order_index"`
	Section    string `json:"section,omitempty"`
	Page       *int   `json:"page,omitempty"`
	Raw        string `json:"raw"`
	Text       string `json:"text"`
	Preview    string `json:"preview,omitempty"`
}

type ChunkPaperInput struct {
	PaperID  string        `json:"paper_id"`
	Sections []SectionItem `json:"sections"`
}

type ChunkPaperOutput struct {
	Chunks []ChunkItem `json:"chunks"`
}

type IngestChunksInput struct {
	PaperID string      `json:"paper_id"`
	Chunks  []ChunkItem `json:"chunks"`
}

type IngestChunksOutput struct {
	DocName    string `json:"doc_name"`
	ChunkCount int    `json:"chunk_count"`
}
