package util

import (
	"strings"
	"unicode"
)

// SanitizeText removes bytes and control characters that Postgres text
// columns reject (especially NUL / 0x00 from some PDF extractors).
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")

	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

// Preview produces a bounded, display-only excerpt. It is advisory: the
// authoritative chunk text lives in the gateway and previews must never
// be used for quote verification.
func Preview(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 280
	}
	s = NormalizeSpace(SanitizeText(s))

	out := make([]rune, 0, len(s))
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			continue
		}
		out = append(out, r)
	}
	trimmed := strings.TrimSpace(string(out))
	runes := []rune(trimmed)
	if len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return trimmed
}

// NormalizeSpace collapses all whitespace runs to single spaces. Quote
// containment checks compare normalized forms so line wrapping in the
// gateway copy does not produce false negatives.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
