package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"citetrail/internal/faults"
)

// Fetcher downloads PDF bytes from a paper's pdf_url.
type Fetcher interface {
	Fetch(ctx context.Context, pdfURL string) ([]byte, error)
}

type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

var pdfMagic = []byte("%PDF-")

func (f *HTTPFetcher) Fetch(ctx context.Context, pdfURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build pdf request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUpstream, fmt.Errorf("fetch pdf: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("pdf fetch status %d: %w", resp.StatusCode, faults.ErrUpstreamUnavailable)
	default:
		return nil, faults.Newf(faults.KindUnparsable, "pdf fetch status %d for %s", resp.StatusCode, pdfURL)
	}

	// Some hosts serve PDFs with a generic content type, so the magic
	// bytes are the real check; an HTML error page fails here.
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		return nil, fmt.Errorf("content type %q: %w", ct, faults.ErrNotPDF)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, faults.New(faults.KindUpstream, fmt.Errorf("read pdf body: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return nil, faults.Newf(faults.KindUnparsable, "pdf exceeds %d byte limit", f.maxBytes)
	}
	if !bytes.HasPrefix(body, pdfMagic) {
		return nil, fmt.Errorf("missing %%PDF header: %w", faults.ErrNotPDF)
	}
	return body, nil
}
