// Package chunker splits parsed papers into bounded spans for gateway
// ingestion. Section and page metadata are folded into the submitted
// text because the gateway has no structured metadata channel; the fold
// format is a local convention and only the recovered data is contract.
package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"citetrail/internal/models"
	"citetrail/internal/pdf"
	"citetrail/internal/util"
)

type Config struct {
	MaxTokens     int
	MinTokens     int
	OverlapTokens int
	PreviewChars  int
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.MinTokens <= 0 {
		c.MinTokens = 50
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		c.OverlapTokens = 0
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = 280
	}
	return c
}

// Chunk is one ingestion-ready span. Text carries the folded metadata
// header; Raw is the content without it. OrderIndex scopes the chunk
// within its paper.
type Chunk struct {
	OrderIndex int
	Section    string
	Page       *int
	Raw        string
	Text       string
	Preview    string
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// estimateTokens uses the ~4 chars per token heuristic; exact counts do
// not matter for chunk sizing.
func estimateTokens(s string) int {
	return len(s) / 4
}

// ChunkPaper converts parsed sections into ordered chunks. Returns nil
// when nothing chunkable remains after sanitization; the caller treats
// that as a pipeline failure rather than an empty success.
func (c *Chunker) ChunkPaper(paper models.Paper, sections []pdf.Section) []Chunk {
	out := make([]Chunk, 0, len(sections))
	for _, sec := range sections {
		text := util.SanitizeText(sec.Text)
		if text == "" {
			continue
		}
		for _, part := range c.splitText(text) {
			if estimateTokens(part) < c.cfg.MinTokens && len(out) > 0 {
				// Glue trailing fragments onto the previous chunk of the
				// same section instead of emitting noise chunks.
				prev := &out[len(out)-1]
				if prev.Section == sec.Label {
					prev.Raw = prev.Raw + " " + part
					prev.Text = fold(paper, sec) + prev.Raw
					prev.Preview = util.Preview(prev.Raw, c.cfg.PreviewChars)
					continue
				}
			}
			page := sec.Page
			ch := Chunk{
				OrderIndex: len(out),
				Section:    sec.Label,
				Page:       &page,
				Raw:        part,
				Text:       fold(paper, sec) + part,
				Preview:    util.Preview(part, c.cfg.PreviewChars),
			}
			out = append(out, ch)
		}
	}
	return out
}

// splitText cuts a section into spans of at most MaxTokens, breaking on
// sentence boundaries with OverlapTokens of trailing context carried
// into the next span.
func (c *Chunker) splitText(text string) []string {
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	sentences := splitSentences(text)
	out := make([]string, 0, 8)
	var b strings.Builder
	for i := 0; i < len(sentences); i++ {
		s := sentences[i]
		if b.Len() > 0 && estimateTokens(b.String())+estimateTokens(s) > c.cfg.MaxTokens {
			chunk := strings.TrimSpace(b.String())
			out = append(out, chunk)
			b.Reset()
			b.WriteString(overlapTail(chunk, c.cfg.OverlapTokens))
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s)
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

func splitSentences(s string) []string {
	out := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			x := strings.TrimSpace(b.String())
			if x != "" {
				out = append(out, x)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

func overlapTail(chunk string, overlapTokens int) string {
	if overlapTokens <= 0 {
		return ""
	}
	runes := []rune(chunk)
	want := overlapTokens * 4
	if len(runes) <= want {
		return chunk
	}
	tail := string(runes[len(runes)-want:])
	// Start the overlap at a word boundary.
	if idx := strings.IndexRune(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}

// fold builds the bracketed metadata header embedded in gateway text.
func fold(paper models.Paper, sec pdf.Section) string {
	parts := make([]string, 0, 4)
	if paper.Title != "" {
		parts = append(parts, "Source: "+paper.Title)
	}
	if paper.Year != nil {
		parts = append(parts, "Year: "+strconv.Itoa(*paper.Year))
	}
	if sec.Label != "" {
		parts = append(parts, "Section: "+sec.Label)
	}
	if sec.Page > 0 {
		parts = append(parts, "Page: "+strconv.Itoa(sec.Page))
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " | ") + "]\n\n"
}

var headerRe = regexp.MustCompile(`^\[([^\]\n]+)\]\s*`)

// RecoveredHeader is the metadata parsed back out of folded gateway
// text. Only Section and Page are contractual.
type RecoveredHeader struct {
	Source  string
	Section string
	Page    *int
}

// RecoverHeader parses a folded metadata header off the front of gateway
// text, returning the header, the remaining content, and whether a
// header was present. Recovery is best-effort: malformed headers leave
// the text untouched.
func RecoverHeader(text string) (RecoveredHeader, string, bool) {
	m := headerRe.FindStringSubmatch(text)
	if m == nil {
		return RecoveredHeader{}, text, false
	}
	var h RecoveredHeader
	for _, field := range strings.Split(m[1], "|") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Source":
			h.Source = value
		case "Section":
			h.Section = value
		case "Page":
			if n, err := strconv.Atoi(value); err == nil {
				h.Page = &n
			}
		}
	}
	return h, text[len(m[0]):], true
}

var docNameUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// DocName derives the deterministic gateway document name from paper
// identity so a repeat ingestion of the same paper is detectable. The
// canonical external id wins over the internal one.
func DocName(p models.Paper) string {
	id := p.DOI
	if id == "" {
		id = p.ArxivID
	}
	if id == "" {
		id = p.ExternalID
	}
	if id == "" {
		id = p.PaperID
	}
	slug := docNameUnsafe.ReplaceAllString(strings.ToLower(p.Title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	id = docNameUnsafe.ReplaceAllString(strings.ToLower(id), "_")
	if slug == "" {
		return id
	}
	return fmt.Sprintf("%s__%s", id, slug)
}
