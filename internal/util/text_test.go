package util

import (
	"strings"
	"testing"
)

func TestSanitizeText(t *testing.T) {
	in := "Hello\x00 world\x01\n\ttabbed"
	out := SanitizeText(in)
	if strings.ContainsRune(out, 0) {
		t.Fatalf("NUL byte survived sanitize: %q", out)
	}
	if !strings.Contains(out, "world") {
		t.Fatalf("content lost in sanitize: %q", out)
	}
}

func TestPreviewBounded(t *testing.T) {
	long := strings.Repeat("evidence ", 100)
	out := Preview(long, 50)
	if len([]rune(out)) > 53 {
		t.Fatalf("preview exceeds bound: %d runes", len([]rune(out)))
	}
	if !strings.HasSuffix(out, "...") {
		t.Fatalf("truncated preview should end with ellipsis: %q", out)
	}
}

func TestNormalizeSpace(t *testing.T) {
	if got := NormalizeSpace("a\n b\t\tc  d"); got != "a b c d" {
		t.Fatalf("normalize: got %q", got)
	}
}
