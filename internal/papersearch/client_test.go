package papersearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"citetrail/internal/faults"
)

const samplePayload = `{
  "data": [
    {
      "paperId": "abc123",
      "title": "Attention Is All You Need",
      "abstract": "We propose the Transformer.",
      "year": 2017,
      "venue": "NeurIPS",
      "externalIds": {"DOI": "10.5555/3295222", "ArXiv": "1706.03762"},
      "openAccessPdf": {"url": "https://example.org/1706.03762.pdf"},
      "authors": [{"name": "Ashish Vaswani"}, {"name": "Noam Shazeer"}]
    }
  ]
}`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/paper/search", r.URL.Path)
		require.Equal(t, "transformers", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, RPS: 100})
	results, err := c.Search(context.Background(), "transformers", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	require.Equal(t, "abc123", r.ExternalID)
	require.Equal(t, "10.5555/3295222", r.DOI)
	require.Equal(t, "1706.03762", r.ArxivID)
	require.Equal(t, "Attention Is All You Need", r.Title)
	require.NotNil(t, r.Year)
	require.Equal(t, 2017, *r.Year)
	require.Equal(t, "https://example.org/1706.03762.pdf", r.PDFURL)
	require.Len(t, r.Authors, 2)
}

func TestSearchRateLimitedUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, RPS: 100})
	_, err := c.Search(context.Background(), "q", 5)
	require.ErrorIs(t, err, faults.ErrUpstreamUnavailable)
}
