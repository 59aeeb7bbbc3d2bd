// Package papersearch queries an external paper-metadata source
// (Semantic Scholar style) for candidate papers to add to a project.
package papersearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"citetrail/internal/faults"
	"citetrail/internal/models"
)

// Result is one search hit from the metadata source, before the user
// decides to add it as a paper.
type Result struct {
	ExternalID string          `json:"external_id"`
	DOI        string          `json:"doi,omitempty"`
	ArxivID    string          `json:"arxiv_id,omitempty"`
	Title      string          `json:"title"`
	Authors    []models.Author `json:"authors,omitempty"`
	Abstract   string          `json:"abstract,omitempty"`
	Year       *int            `json:"year,omitempty"`
	Venue      string          `json:"venue,omitempty"`
	PDFURL     string          `json:"pdf_url,omitempty"`
}

type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
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
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type searchResponse struct {
	Data []searchPaper `json:"data"`
}

type searchPaper struct {
	PaperID     string `json:"paperId"`
	Title       string `json:"title"`
	Abstract    string `json:"abstract"`
	Year        *int   `json:"year"`
	Venue       string `json:"venue"`
	ExternalIDs struct {
		DOI   string `json:"DOI"`
		Arxiv string `json:"ArXiv"`
	} `json:"externalIds"`
	OpenAccessPDF struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
	Authors []struct {
		Name        string `json:"name"`
		Affiliation string `json:"affiliation"`
	} `json:"authors"`
}

func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("paper search rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("fields", "title,abstract,year,venue,externalIds,openAccessPdf,authors")
	endpoint := c.baseURL + "/paper/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUpstream, fmt.Errorf("paper search request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("paper search status %d: %w", resp.StatusCode, faults.ErrUpstreamUnavailable)
	default:
		return nil, fmt.Errorf("paper search status %d: %w", resp.StatusCode, faults.ErrRejectedInput)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]Result, 0, len(payload.Data))
	for _, p := range payload.Data {
		r := Result{
			ExternalID: p.PaperID,
			DOI:        p.ExternalIDs.DOI,
			ArxivID:    p.ExternalIDs.Arxiv,
			Title:      p.Title,
			Abstract:   p.Abstract,
			Year:       p.Year,
			Venue:      p.Venue,
			PDFURL:     p.OpenAccessPDF.URL,
		}
		for _, a := range p.Authors {
			r.Authors = append(r.Authors, models.Author{Name: a.Name, Affiliation: a.Affiliation})
		}
		out = append(out, r)
	}
	return out, nil
}
