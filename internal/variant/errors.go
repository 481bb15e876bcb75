package variant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/transform"
)

var (
	// ErrNoMatch is matched by *NoMatchError.
	ErrNoMatch = errors.New("no matching variant")
	// ErrAmbiguousMatch is matched by *AmbiguousMatchError.
	ErrAmbiguousMatch = errors.New("ambiguous variant selection")
)

// NoMatchError reports that no root variant, directly or through a chain,
// yields the requested attributes.
type NoMatchError struct {
	Requested  attr.Set
	Candidates []attr.Set
}

func (e *NoMatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no variant matches %s", e.Requested)
	if len(e.Candidates) > 0 {
		b.WriteString("; candidates:")
		for _, c := range e.Candidates {
			b.WriteString(" ")
			b.WriteString(c.String())
		}
	}
	return b.String()
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// AmbiguousMatchError reports several chains of the same minimal depth.
type AmbiguousMatchError struct {
	Requested attr.Set
	Matches   []transform.TransformedVariant
}

func (e *AmbiguousMatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "found %d variants matching %s at the same depth:", len(e.Matches), e.Requested)
	for _, m := range e.Matches {
		b.WriteString("\n  - ")
		b.WriteString(m.String())
	}
	return b.String()
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrAmbiguousMatch }
