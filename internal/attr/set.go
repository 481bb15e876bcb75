// Package attr models attribute sets and the matcher that consults an
// attribute schema to decide compatibility between them.
package attr

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Set is an immutable mapping from attribute name to a typed value.
//
// The zero Set is empty and ready to use.
type Set struct {
	names  []string
	values map[string]cty.Value
}

// Empty is the attribute set with no entries.
var Empty = Set{}

// New builds a Set from values. Null and unknown values are rejected, as are
// non-primitive types: attribute values compare by type and value only.
func New(values map[string]cty.Value) (Set, error) {
	if len(values) == 0 {
		return Empty, nil
	}

	s := Set{
		names:  make([]string, 0, len(values)),
		values: make(map[string]cty.Value, len(values)),
	}
	for name, v := range values {
		if strings.TrimSpace(name) == "" {
			return Set{}, fmt.Errorf("attribute name is empty")
		}
		if v.IsNull() || !v.IsKnown() {
			return Set{}, fmt.Errorf("attribute %q has no value", name)
		}
		if !v.Type().IsPrimitiveType() {
			return Set{}, fmt.Errorf("attribute %q must be a string, number or bool, got %s", name, v.Type().FriendlyName())
		}
		s.names = append(s.names, name)
		s.values[name] = v
	}
	sort.Strings(s.names)
	return s, nil
}

// MustNew is like New but panics on invalid input. Intended for literals.
func MustNew(values map[string]cty.Value) Set {
	s, err := New(values)
	if err != nil {
		panic(err)
	}
	return s
}

// FromStrings builds a Set of string-valued attributes.
func FromStrings(values map[string]string) Set {
	m := make(map[string]cty.Value, len(values))
	for k, v := range values {
		m[k] = cty.StringVal(v)
	}
	return MustNew(m)
}

// Parse reads "k=v,k2=v2". Values that look like booleans or numbers are typed
// accordingly, matching how the same literal reads in a catalogue file.
func Parse(spec string) (Set, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Empty, nil
	}

	m := make(map[string]cty.Value)
	for _, pair := range strings.Split(spec, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return Set{}, fmt.Errorf("invalid attribute %q (want name=value)", pair)
		}
		if _, dup := m[k]; dup {
			return Set{}, fmt.Errorf("duplicate attribute %q", k)
		}
		m[k] = literal(strings.TrimSpace(v))
	}
	return New(m)
}

func literal(raw string) cty.Value {
	switch raw {
	case "true":
		return cty.True
	case "false":
		return cty.False
	}
	if f, _, err := big.ParseFloat(raw, 10, 512, big.ToNearestEven); err == nil {
		return cty.NumberVal(f)
	}
	return cty.StringVal(raw)
}

// Len reports the number of attributes.
func (s Set) Len() int { return len(s.names) }

// IsEmpty reports whether the set has no attributes.
func (s Set) IsEmpty() bool { return len(s.names) == 0 }

// Names returns attribute names in sorted order.
func (s Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Get returns the value for name.
func (s Set) Get(name string) (cty.Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// With returns a new set holding the receiver's entries overridden by other's.
func (s Set) With(other Set) Set {
	if other.IsEmpty() {
		return s
	}
	if s.IsEmpty() {
		return other
	}

	merged := make(map[string]cty.Value, len(s.values)+len(other.values))
	for k, v := range s.values {
		merged[k] = v
	}
	for k, v := range other.values {
		merged[k] = v
	}
	return MustNew(merged)
}

// Equal reports whether both sets hold the same names with raw-equal values.
func (s Set) Equal(other Set) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for i, name := range s.names {
		if other.names[i] != name {
			return false
		}
		if !s.values[name].RawEquals(other.values[name]) {
			return false
		}
	}
	return true
}

// String renders the set canonically, e.g. {artifactType=zip, minified=true}.
func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(FormatValue(s.values[name]))
	}
	b.WriteByte('}')
	return b.String()
}

// Key renders the set with value types, e.g. "a:string=1;b:number=2". Unlike
// String it distinguishes "1" from 1.
func (s Set) Key() string {
	var b strings.Builder
	for _, name := range s.names {
		v := s.values[name]
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(v.Type().FriendlyName())
		b.WriteByte('=')
		b.WriteString(strconv.Quote(FormatValue(v)))
		b.WriteByte(';')
	}
	return b.String()
}

// FormatValue renders a primitive cty value without quoting.
func FormatValue(v cty.Value) string {
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Number:
		return v.AsBigFloat().Text('f', -1)
	case cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	default:
		return v.GoString()
	}
}
