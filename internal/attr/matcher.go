package attr

//go:generate mockgen -destination=mocks/mock_schema.go -package=mocks github.com/mattjoyce/transmute/internal/attr Schema

// Schema decides attribute compatibility. The rules themselves belong to the
// caller; the matcher only consults them.
type Schema interface {
	// IsCompatible reports whether source can satisfy target. When
	// allowIncomplete is set, source is a partial candidate that only has to be
	// extendable toward target.
	IsCompatible(source, target Set, allowIncomplete bool) bool
}

// Matcher adapts a Schema for the variant search.
type Matcher struct {
	schema Schema
}

// NewMatcher returns a matcher that delegates to schema.
func NewMatcher(schema Schema) *Matcher {
	return &Matcher{schema: schema}
}

// Matches reports whether source matches target. Two empty sets always match
// without consulting the schema.
func (m *Matcher) Matches(source, target Set, allowIncomplete bool) bool {
	if source.IsEmpty() && target.IsEmpty() {
		return true
	}
	return m.schema.IsCompatible(source, target, allowIncomplete)
}

// ExactSchema treats attributes as compatible when values are raw-equal.
//
// Complete matches need every target attribute present in source. Incomplete
// matches only need the attributes source does carry to agree. Source
// attributes that target does not name are ignored either way.
type ExactSchema struct{}

var _ Schema = ExactSchema{}

func (ExactSchema) IsCompatible(source, target Set, allowIncomplete bool) bool {
	for _, name := range target.names {
		want := target.values[name]
		got, ok := source.values[name]
		if !ok {
			if allowIncomplete {
				continue
			}
			return false
		}
		if !got.RawEquals(want) {
			return false
		}
	}
	return true
}
