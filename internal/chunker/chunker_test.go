package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"citetrail/internal/models"
	"citetrail/internal/pdf"
)

func testPaper() models.Paper {
	year := 2020
	return models.Paper{
		PaperID: "11111111-2222-3333-4444-555555555555",
		DOI:     "10.1000/xyz123",
		Title:   "Deep Retrieval for Science",
		Year:    &year,
	}
}

func TestChunkPaperOrdersAndFolds(t *testing.T) {
	c := New(Config{MaxTokens: 512, MinTokens: 5})
	sections := []pdf.Section{
		{Label: "abstract", Page: 1, Text: "We study retrieval. It works well."},
		{Label: "methods", Page: 3, Text: "We train a model on papers. Evaluation follows."},
	}
	chunks := c.ChunkPaper(testPaper(), sections)
	require.Len(t, chunks, 2)

	for i, ch := range chunks {
		require.Equal(t, i, ch.OrderIndex)
		require.True(t, strings.HasPrefix(ch.Text, "["), "folded header missing: %q", ch.Text)
		require.Contains(t, ch.Text, "Source: Deep Retrieval for Science")
	}
	require.Equal(t, "abstract", chunks[0].Section)
	require.Equal(t, "methods", chunks[1].Section)
	require.NotNil(t, chunks[1].Page)
	require.Equal(t, 3, *chunks[1].Page)
}

func TestChunkPaperSplitsLargeSections(t *testing.T) {
	c := New(Config{MaxTokens: 50, MinTokens: 2, OverlapTokens: 5})
	long := strings.Repeat("This sentence pads out the section body with words. ", 30)
	chunks := c.ChunkPaper(testPaper(), []pdf.Section{{Label: "results", Page: 5, Text: long}})
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		require.LessOrEqual(t, len(ch.Raw)/4, 50+10, "chunk exceeds budget: %d chars", len(ch.Raw))
	}
}

func TestChunkPaperEmptyTextYieldsNothing(t *testing.T) {
	c := New(Config{})
	chunks := c.ChunkPaper(testPaper(), []pdf.Section{{Label: "body", Page: 1, Text: "\x00\x01  "}})
	require.Empty(t, chunks)
}

func TestFoldRecoverRoundTrip(t *testing.T) {
	c := New(Config{MaxTokens: 512, MinTokens: 1})
	chunks := c.ChunkPaper(testPaper(), []pdf.Section{
		{Label: "discussion", Page: 7, Text: "The findings generalize across domains."},
	})
	require.Len(t, chunks, 1)

	h, rest, ok := RecoverHeader(chunks[0].Text)
	require.True(t, ok)
	require.Equal(t, "discussion", h.Section)
	require.NotNil(t, h.Page)
	require.Equal(t, 7, *h.Page)
	require.Equal(t, "Deep Retrieval for Science", h.Source)
	require.Equal(t, chunks[0].Raw, rest)
}

func TestRecoverHeaderAbsent(t *testing.T) {
	_, rest, ok := RecoverHeader("plain content without a header")
	require.False(t, ok)
	require.Equal(t, "plain content without a header", rest)
}

func TestDocNameDeterministic(t *testing.T) {
	p := testPaper()
	name1 := DocName(p)
	name2 := DocName(p)
	require.Equal(t, name1, name2)
	require.Contains(t, name1, "10.1000_xyz123")
	require.Contains(t, name1, "deep-retrieval-for-science")

	// DOI wins over the internal id; without any external identity the
	// internal id anchors the name.
	p.DOI = ""
	p.ArxivID = ""
	p.ExternalID = ""
	require.Contains(t, DocName(p), "11111111-2222-3333-4444-555555555555")
}
