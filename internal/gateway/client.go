// Package gateway is the client for the external RAG service that holds
// the only authoritative copy of ingested chunk text. Identifiers it
// returns are opaque tokens; nothing in this repository parses them.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"citetrail/internal/faults"
)

// QueryMode selects the gateway's retrieval strategy.
type QueryMode string

const (
	ModeLocal  QueryMode = "local"
	ModeGlobal QueryMode = "global"
	ModeHybrid QueryMode = "hybrid"
	ModeNaive  QueryMode = "naive"
	ModeMix    QueryMode = "mix"
	ModeBypass QueryMode = "bypass"
)

// ValidMode reports whether m is one of the gateway's retrieval modes.
func ValidMode(m QueryMode) bool {
	switch m {
	case ModeLocal, ModeGlobal, ModeHybrid, ModeNaive, ModeMix, ModeBypass:
		return true
	}
	return false
}

// Hit is one retrieved chunk in gateway rank order.
type Hit struct {
	GatewayChunkID string  `json:"gateway_chunk_id"`
	Content        string  `json:"content"`
	Score          float64 `json:"score"`
}

// IngestResult reports the gateway's identifiers for an accepted batch.
// ChunkIDs parallels the submitted texts; the ids are opaque and are not
// guaranteed unique across documents.
type IngestResult struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// Client abstracts the RAG gateway so tests and the provenance verifier
// can substitute fakes.
type Client interface {
	Ingest(ctx context.Context, texts []string, documentName string) (IngestResult, error)
	Query(ctx context.Context, text string, mode QueryMode) ([]Hit, error)
	DocumentText(ctx context.Context, documentName string) (string, error)
	DeleteDocument(ctx context.Context, documentName string) error
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	client  *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 4
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type ingestRequest struct {
	DocumentName string   `json:"document_name"`
	Texts        []string `json:"texts"`
}

// Ingest submits chunk texts under a deterministic document name so a
// repeat ingestion of the same paper is detectable by the gateway.
func (c *HTTPClient) Ingest(ctx context.Context, texts []string, documentName string) (IngestResult, error) {
	var out IngestResult
	if err := c.post(ctx, "/documents/text", ingestRequest{DocumentName: documentName, Texts: texts}, &out); err != nil {
		return IngestResult{}, fmt.Errorf("gateway ingest %q: %w", documentName, err)
	}
	if out.DocumentID == "" {
		return IngestResult{}, fmt.Errorf("gateway ingest %q returned empty document id: %w", documentName, faults.ErrRejectedInput)
	}
	if len(out.ChunkIDs) != len(texts) {
		return IngestResult{}, fmt.Errorf("gateway ingest %q returned %d chunk ids for %d texts: %w",
			documentName, len(out.ChunkIDs), len(texts), faults.ErrRejectedInput)
	}
	return out, nil
}

type queryRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

type queryResponse struct {
	Chunks []Hit `json:"chunks"`
}

func (c *HTTPClient) Query(ctx context.Context, text string, mode QueryMode) ([]Hit, error) {
	if !ValidMode(mode) {
		return nil, faults.Newf(faults.KindValidation, "unknown query mode %q", mode)
	}
	var out queryResponse
	if err := c.post(ctx, "/query", queryRequest{Query: text, Mode: string(mode)}, &out); err != nil {
		return nil, fmt.Errorf("gateway query: %w", err)
	}
	return out.Chunks, nil
}

type documentResponse struct {
	Text string `json:"text"`
}

// DocumentText fetches the authoritative text of a document. Quote
// verification uses this, never the truncated local preview.
func (c *HTTPClient) DocumentText(ctx context.Context, documentName string) (string, error) {
	endpoint := c.baseURL + "/documents/" + url.PathEscape(documentName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build document request: %w", err)
	}
	var out documentResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("gateway document %q: %w", documentName, err)
	}
	return out.Text, nil
}

func (c *HTTPClient) DeleteDocument(ctx context.Context, documentName string) error {
	endpoint := c.baseURL + "/documents/" + url.PathEscape(documentName)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("gateway delete %q: %w", documentName, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("gateway rate limit: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are the retryable class.
		return faults.New(faults.KindUpstream, fmt.Errorf("gateway request: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("gateway status %d: %w", code, faults.ErrUpstreamUnavailable)
	default:
		return fmt.Errorf("gateway status %d: %w", code, faults.ErrRejectedInput)
	}
}
