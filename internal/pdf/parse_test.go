package pdf

import "testing"

func TestMatchHeading(t *testing.T) {
	cases := map[string]string{
		"Abstract":              "abstract",
		"1. Introduction":       "introduction",
		"3 METHODS":             "methods",
		"IV. Results":           "results",
		"Materials and Methods": "methods",
		"References":            "references",
		"Conclusions:":          "conclusion",
	}
	for line, want := range cases {
		got, ok := matchHeading(line)
		if !ok || got != want {
			t.Fatalf("matchHeading(%q): got %q ok=%v, want %q", line, got, ok, want)
		}
	}
}

func TestMatchHeadingRejectsProse(t *testing.T) {
	prose := "The methods described in this section build on prior work in the field of information retrieval."
	if _, ok := matchHeading(prose); ok {
		t.Fatalf("long prose line must not match a heading")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := NewTextParser()
	if _, err := p.Parse([]byte("this is not a pdf")); err == nil {
		t.Fatalf("expected parse failure for non-PDF bytes")
	}
}
