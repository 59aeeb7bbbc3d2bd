package papersearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"citetrail/internal/faults"
	"citetrail/internal/models"
	"citetrail/internal/util"
)

// CrossrefClient searches the Crossref works API. Crossref issues no API
// keys; cfg.APIKey is used as the polite-pool mailto contact when set.
type CrossrefClient struct {
	baseURL string
	mailto  string
	limiter *rate.Limiter
	client  *http.Client
}

func NewCrossrefClient(cfg Config) *CrossrefClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	return &CrossrefClient{
		baseURL: cfg.BaseURL,
		mailto:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type crossrefResponse struct {
	Message struct {
		Items []crossrefWork `json:"items"`
	} `json:"message"`
}

type crossrefWork struct {
	DOI            string   `json:"DOI"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Abstract       string   `json:"abstract"`
	Issued         struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Link []struct {
		URL         string `json:"URL"`
		ContentType string `json:"content-type"`
	} `json:"link"`
}

// Crossref abstracts arrive as JATS XML fragments.
var jatsTagRe = regexp.MustCompile(`<[^>]+>`)

func (c *CrossrefClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("crossref rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("rows", strconv.Itoa(limit))
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}
	endpoint := c.baseURL + "/works?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build crossref request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUpstream, fmt.Errorf("crossref request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("crossref status %d: %w", resp.StatusCode, faults.ErrUpstreamUnavailable)
	default:
		return nil, fmt.Errorf("crossref status %d: %w", resp.StatusCode, faults.ErrRejectedInput)
	}

	var payload crossrefResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode crossref response: %w", err)
	}

	out := make([]Result, 0, len(payload.Message.Items))
	for _, w := range payload.Message.Items {
		if len(w.Title) == 0 || w.Title[0] == "" {
			continue
		}
		r := Result{
			ExternalID: w.DOI,
			DOI:        w.DOI,
			Title:      w.Title[0],
			Abstract:   util.NormalizeSpace(jatsTagRe.ReplaceAllString(w.Abstract, " ")),
		}
		if len(w.ContainerTitle) > 0 {
			r.Venue = w.ContainerTitle[0]
		}
		if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
			y := w.Issued.DateParts[0][0]
			r.Year = &y
		}
		for _, a := range w.Author {
			name := strings.TrimSpace(a.Given + " " + a.Family)
			if name != "" {
				r.Authors = append(r.Authors, models.Author{Name: name})
			}
		}
		for _, l := range w.Link {
			if l.ContentType == "application/pdf" {
				r.PDFURL = l.URL
				break
			}
		}
		out = append(out, r)
	}
	return out, nil
}
