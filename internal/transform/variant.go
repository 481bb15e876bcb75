package transform

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/transmute/internal/attr"
)

// Variant is a root artifact set offered by a producer. An empty Producer
// marks an external producer whose files never change.
type Variant struct {
	Name       string
	Attributes attr.Set
	Files      []string
	Producer   string
}

// Mutable reports whether the variant is produced by the local build.
func (v *Variant) Mutable() bool { return v.Producer != "" }

func (v *Variant) String() string {
	return fmt.Sprintf("variant %s %s", v.Name, v.Attributes)
}

// Subject returns the initial transformation subject for the variant.
func (v *Variant) Subject() Subject {
	return NewSubject(v.Name, v.Producer, v.Files)
}

// VariantDefinition is one hop of a transformed variant: the chain so far and
// the attributes it yields. Previous is nil on the first hop.
type VariantDefinition struct {
	Chain      *Chain
	Attributes attr.Set
	Previous   *VariantDefinition
}

// Extend returns the definition reached by applying step.
func (d *VariantDefinition) Extend(step *Step, attributes attr.Set) *VariantDefinition {
	var prev *Chain
	if d != nil {
		prev = d.Chain
	}
	return &VariantDefinition{
		Chain:      prev.Append(step),
		Attributes: attributes,
		Previous:   d,
	}
}

// TransformedVariant pairs a root variant with the definition that reaches the
// requested attributes. A nil Definition is a direct match.
type TransformedVariant struct {
	Root       *Variant
	Definition *VariantDefinition
}

// Chain returns the transform chain, nil for a direct match.
func (t TransformedVariant) Chain() *Chain {
	if t.Definition == nil {
		return nil
	}
	return t.Definition.Chain
}

// Depth is the chain length.
func (t TransformedVariant) Depth() int { return t.Chain().Len() }

// Attributes are the attributes of the final variant.
func (t TransformedVariant) Attributes() attr.Set {
	if t.Definition == nil {
		return t.Root.Attributes
	}
	return t.Definition.Attributes
}

func (t TransformedVariant) String() string {
	if t.Definition == nil {
		return t.Root.String()
	}
	return fmt.Sprintf("%s via %s -> %s", t.Root, t.Chain().DisplayName(), t.Definition.Attributes)
}

// Subject is the payload flowing through a chain: either a non-empty file list
// or a captured failure.
type Subject struct {
	name     string
	producer string
	files    []string
	failure  error
}

// NewSubject builds a successful subject.
func NewSubject(name, producer string, files []string) Subject {
	out := make([]string, len(files))
	copy(out, files)
	return Subject{name: name, producer: producer, files: out}
}

// FailedSubject builds a failed subject.
func FailedSubject(name, producer string, failure error) Subject {
	return Subject{name: name, producer: producer, failure: failure}
}

// Name is the subject's display name.
func (s Subject) Name() string { return s.name }

// Producer is the local producer of the root variant; empty for external.
func (s Subject) Producer() string { return s.producer }

// Mutable reports whether the subject derives from a locally produced variant.
func (s Subject) Mutable() bool { return s.producer != "" }

// Files returns a copy of the files, nil when failed.
func (s Subject) Files() []string {
	if s.failure != nil {
		return nil
	}
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}

// Failure returns the captured failure or nil.
func (s Subject) Failure() error { return s.failure }

// Failed reports whether the subject carries a failure.
func (s Subject) Failed() bool { return s.failure != nil }

// WithFiles derives the next subject after step produced files.
func (s Subject) WithFiles(step *Step, files []string) Subject {
	return NewSubject(s.next(step), s.producer, files)
}

// WithFailure derives a failed subject after step.
func (s Subject) WithFailure(step *Step, failure error) Subject {
	return FailedSubject(s.next(step), s.producer, failure)
}

// Single narrows the subject to one of its files.
func (s Subject) Single(file string) Subject {
	return NewSubject(filepath.Base(file), s.producer, []string{file})
}

func (s Subject) next(step *Step) string {
	if step == nil {
		return s.name
	}
	return s.name + " (" + step.Name() + ")"
}

func (s Subject) String() string {
	if s.failure != nil {
		return fmt.Sprintf("%s: failed: %v", s.name, s.failure)
	}
	return fmt.Sprintf("%s [%s]", s.name, strings.Join(s.files, ", "))
}
