package faults

import (
	"errors"
	"fmt"
)

// Kind partitions failures by how callers should react: validation and
// unknown-reference errors are caller bugs and must not be retried,
// upstream errors are safe to retry with backoff, unparsable content is
// terminal until a human forces a retry.
type Kind string

const (
	KindValidation Kind = "validation"
	KindUnknownRef Kind = "unknown_reference"
	KindUpstream   Kind = "upstream"
	KindUnparsable Kind = "unparsable"
)

var (
	ErrDuplicateOrder     = errors.New("chunk order index already registered for paper")
	ErrInvalidPaper       = errors.New("paper does not exist or is not accepting chunks")
	ErrUnknownChunk       = errors.New("chunk id does not resolve to a registered chunk")
	ErrPaperChunkMismatch = errors.New("chunk belongs to a different paper than the citation")
	ErrUnknownReference   = errors.New("referenced record not found")
	ErrPaperCited         = errors.New("paper has live citations and cannot be deleted")

	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrRejectedInput       = errors.New("upstream rejected input")

	ErrNoExtractableText = errors.New("no extractable text found in PDF")
	ErrUnparsablePDF     = errors.New("could not parse PDF")
	ErrNotPDF            = errors.New("fetched content is not a PDF")
)

// Error attaches a Kind to an underlying cause so transports can map it
// without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of err. Sentinels carry an implicit kind so a
// bare wrapped sentinel still classifies correctly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrDuplicateOrder),
		errors.Is(err, ErrInvalidPaper),
		errors.Is(err, ErrPaperChunkMismatch),
		errors.Is(err, ErrPaperCited),
		errors.Is(err, ErrRejectedInput):
		return KindValidation
	case errors.Is(err, ErrUnknownChunk),
		errors.Is(err, ErrUnknownReference):
		return KindUnknownRef
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstream
	case errors.Is(err, ErrNoExtractableText),
		errors.Is(err, ErrUnparsablePDF),
		errors.Is(err, ErrNotPDF):
		return KindUnparsable
	}
	return ""
}

// Retryable reports whether a caller may safely retry the failed call.
func Retryable(err error) bool {
	return KindOf(err) == KindUpstream
}
