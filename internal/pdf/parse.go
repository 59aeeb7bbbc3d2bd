package pdf

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"citetrail/internal/faults"
	"citetrail/internal/util"
)

// Section is a labeled span of extracted text with the page it starts on.
type Section struct {
	Label string
	Page  int
	Text  string
}

// Parser converts PDF bytes into ordered sections.
type Parser interface {
	Parse(data []byte) ([]Section, error)
}

type TextParser struct{}

func NewTextParser() *TextParser {
	return &TextParser{}
}

// canonical section labels recognized from headings. Anything between
// recognized headings inherits the preceding label; text before the
// first heading is labeled "front".
var knownHeadings = map[string]string{
	"abstract":               "abstract",
	"introduction":           "introduction",
	"background":             "background",
	"related work":           "related_work",
	"methods":                "methods",
	"method":                 "methods",
	"methodology":            "methods",
	"materials and methods":  "methods",
	"experiments":            "experiments",
	"evaluation":             "experiments",
	"results":                "results",
	"results and discussion": "results",
	"discussion":             "discussion",
	"conclusion":             "conclusion",
	"conclusions":            "conclusion",
	"acknowledgments":        "acknowledgments",
	"acknowledgements":       "acknowledgments",
	"references":             "references",
	"bibliography":           "references",
	"appendix":               "appendix",
}

// Parse extracts per-page text and splits it into labeled sections using
// heading heuristics. A structurally valid PDF with zero extractable
// text is a parse failure, not an empty success.
func (p *TextParser) Parse(data []byte) ([]Section, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", faults.ErrUnparsablePDF)
	}

	sections := make([]Section, 0, 16)
	current := Section{Label: "front", Page: 1}

	flush := func() {
		text := util.SanitizeText(current.Text)
		if text != "" {
			current.Text = text
			sections = append(sections, current)
		}
	}

	total := reader.NumPage()
	extractedAny := false
	for pageNum := 1; pageNum <= total; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single damaged page does not fail the paper.
			continue
		}
		if strings.TrimSpace(text) != "" {
			extractedAny = true
		}

		for _, line := range strings.Split(text, "\n") {
			if label, ok := matchHeading(line); ok {
				flush()
				current = Section{Label: label, Page: pageNum}
				continue
			}
			current.Text += line + "\n"
		}
	}
	flush()

	if !extractedAny || len(sections) == 0 {
		return nil, fmt.Errorf("parse pdf: %w", faults.ErrNoExtractableText)
	}
	return sections, nil
}

// headingNumberRe strips numbering like "3.", "IV." or "2)" ahead of the
// heading word without eating the word's own leading letters.
var headingNumberRe = regexp.MustCompile(`^(?:\d+|[IVXLCivxlc]+)[.)]?\s+`)

func matchHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > 60 {
		return "", false
	}
	trimmed = headingNumberRe.ReplaceAllString(trimmed, "")
	key := strings.ToLower(strings.TrimRight(trimmed, ".:"))
	label, ok := knownHeadings[key]
	return label, ok
}
