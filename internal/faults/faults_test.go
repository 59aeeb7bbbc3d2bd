package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfSentinels(t *testing.T) {
	cases := map[error]Kind{
		ErrDuplicateOrder:      KindValidation,
		ErrInvalidPaper:        KindValidation,
		ErrPaperChunkMismatch:  KindValidation,
		ErrRejectedInput:       KindValidation,
		ErrUnknownChunk:        KindUnknownRef,
		ErrUnknownReference:    KindUnknownRef,
		ErrUpstreamUnavailable: KindUpstream,
		ErrNoExtractableText:   KindUnparsable,
		ErrUnparsablePDF:       KindUnparsable,
	}
	for err, want := range cases {
		if got := KindOf(err); got != want {
			t.Fatalf("KindOf(%v): got %s want %s", err, got, want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("register chunk: %w", ErrDuplicateOrder)
	if got := KindOf(err); got != KindValidation {
		t.Fatalf("wrapped sentinel: got %s want %s", got, KindValidation)
	}
	err = New(KindUpstream, fmt.Errorf("gateway ingest: status 503"))
	if !Retryable(err) {
		t.Fatalf("upstream error should be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Fatalf("unclassified error must not be retryable")
	}
}
