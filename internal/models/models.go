package models

import "time"

// IngestionStatus is the state of a paper in the ingestion pipeline.
// Transitions are linear and driven only by the ingest workflow:
// pending -> downloading -> parsing -> chunking -> ingesting -> ready,
// with any step able to fall to failed. failed returns to pending only
// through an explicit retry.
type IngestionStatus string

const (
	StatusPending     IngestionStatus = "pending"
	StatusDownloading IngestionStatus = "downloading"
	StatusParsing     IngestionStatus = "parsing"
	StatusChunking    IngestionStatus = "chunking"
	StatusIngesting   IngestionStatus = "ingesting"
	StatusReady       IngestionStatus = "ready"
	StatusFailed      IngestionStatus = "failed"
)

// Terminal reports whether s is a resting state the pipeline will not
// advance on its own.
func (s IngestionStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

type Project struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

type Paper struct {
	PaperID    string          `json:"paper_id"`
	ProjectID  string          `json:"project_id"`
	DOI        string          `json:"doi,omitempty"`
	ArxivID    string          `json:"arxiv_id,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	Title      string          `json:"title"`
	Authors    []Author        `json:"authors,omitempty"`
	Year       *int            `json:"year,omitempty"`
	Venue      string          `json:"venue,omitempty"`
	PDFURL     string          `json:"pdf_url,omitempty"`
	DocName    string          `json:"doc_name,omitempty"`
	Status     IngestionStatus `json:"status"`
	FailReason string          `json:"fail_reason,omitempty"`
	ChunkCount int             `json:"chunk_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Chunk points at a span of text whose authoritative copy lives in the
// RAG gateway. GatewayID is an opaque token and is never parsed; the
// local section/page/preview exist so citations can be displayed without
// a gateway round trip.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	PaperID    string    `json:"paper_id"`
	GatewayID  string    `json:"gateway_id"`
	DocName    string    `json:"doc_name"`
	Section    string    `json:"section,omitempty"`
	Page       *int      `json:"page,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// Synthesis is the immutable record of one RAG query round trip.
// ChunkIDs and Scores are parallel arrays in the gateway's rank order.
type Synthesis struct {
	SynthesisID    string    `json:"synthesis_id"`
	ProjectID      string    `json:"project_id"`
	Query          string    `json:"query"`
	RewrittenQuery string    `json:"rewritten_query,omitempty"`
	Answer         string    `json:"answer"`
	ChunkIDs       []string  `json:"chunk_ids"`
	Scores         []float64 `json:"scores"`
	CreatedAt      time.Time `json:"created_at"`
}

// Citation links one position in a user's document back to its evidence.
// Paper/chunk/synthesis pointers are weak: the citation is a historical
// record and survives reorganization of the source library. SourceRemoved
// marks a citation whose paper was force-deleted after the fact.
type Citation struct {
	CitationID    string    `json:"citation_id"`
	BlockID       string    `json:"block_id"`
	PaperID       string    `json:"paper_id,omitempty"`
	ChunkID       string    `json:"chunk_id,omitempty"`
	SynthesisID   string    `json:"synthesis_id,omitempty"`
	InText        string    `json:"in_text"`
	Locator       string    `json:"locator,omitempty"`
	Quote         string    `json:"quote,omitempty"`
	OffsetStart   *int      `json:"offset_start,omitempty"`
	OffsetEnd     *int      `json:"offset_end,omitempty"`
	SourceRemoved bool      `json:"source_removed"`
	CreatedAt     time.Time `json:"created_at"`
}
