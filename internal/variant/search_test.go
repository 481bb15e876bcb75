package variant

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/attr/mocks"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

var noop = transform.ActionFunc(func(context.Context, transform.Request, transform.Outputs) error { return nil })

func attrs(kv map[string]string) attr.Set { return attr.FromStrings(kv) }

func step(name string, from, to map[string]string) *transform.Step {
	return transform.MustStep(transform.StepConfig{
		Name:       name,
		ActionName: "identity",
		Action:     noop,
		From:       attrs(from),
		To:         attrs(to),
	})
}

func newSearch() *Search {
	return NewSearch(attr.NewMatcher(attr.ExactSchema{}), 0)
}

func TestFindMatchesMinimalDepth(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	t1 := step("t1", map[string]string{"a": "1"}, map[string]string{"a": "2"})
	t2 := step("t2", map[string]string{"a": "1"}, map[string]string{"a": "3"})
	roots := []*transform.Variant{root}
	steps := []*transform.Step{t1, t2}

	t.Run("one step", func(t *testing.T) {
		matches := newSearch().FindMatches(attrs(map[string]string{"a": "2"}), roots, steps)
		require.Len(t, matches, 1)
		assert.Same(t, root, matches[0].Root)
		assert.Equal(t, 1, matches[0].Depth())
		assert.Same(t, t1, matches[0].Chain().Last())
	})

	t.Run("direct", func(t *testing.T) {
		matches := newSearch().FindMatches(attrs(map[string]string{"a": "1"}), roots, steps)
		require.Len(t, matches, 1)
		assert.Nil(t, matches[0].Definition)
		assert.Nil(t, matches[0].Chain())
	})
}

func TestFindMatchesTwoHops(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"type": "zip"})}
	unzip := step("unzip", map[string]string{"type": "zip"}, map[string]string{"type": "dir"})
	minify := step("minify", map[string]string{"type": "dir"}, map[string]string{"minified": "true"})
	// Distractor leading nowhere.
	rename := step("rename", map[string]string{"type": "zip"}, map[string]string{"type": "jar"})

	matches := newSearch().FindMatches(
		attrs(map[string]string{"type": "dir", "minified": "true"}),
		[]*transform.Variant{root},
		[]*transform.Step{unzip, minify, rename},
	)
	require.Len(t, matches, 1)
	assert.Equal(t, "unzip -> minify", matches[0].Chain().DisplayName())
	assert.Equal(t, 2, matches[0].Depth())
	assert.Equal(t, "{minified=true, type=dir}", matches[0].Attributes().String())
	require.NotNil(t, matches[0].Definition.Previous)
	assert.Equal(t, "{type=dir}", matches[0].Definition.Previous.Attributes.String())
}

func TestFindMatchesPrefersShallow(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	direct := step("direct", map[string]string{"a": "1"}, map[string]string{"a": "3"})
	hop1 := step("hop1", map[string]string{"a": "1"}, map[string]string{"a": "2"})
	hop2 := step("hop2", map[string]string{"a": "2"}, map[string]string{"a": "3"})

	matches := newSearch().FindMatches(attrs(map[string]string{"a": "3"}),
		[]*transform.Variant{root}, []*transform.Step{hop1, hop2, direct})
	require.Len(t, matches, 1)
	assert.Same(t, direct, matches[0].Chain().Last())
}

func TestSelectAmbiguous(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	x := step("x", map[string]string{"a": "1"}, map[string]string{"b": "1"})
	y := step("y", map[string]string{"a": "1"}, map[string]string{"b": "1"})

	_, err := newSearch().Select(attrs(map[string]string{"b": "1"}),
		[]*transform.Variant{root}, []*transform.Step{x, y})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))

	var amb *AmbiguousMatchError
	require.True(t, errors.As(err, &amb))
	assert.Len(t, amb.Matches, 2)
	assert.Contains(t, err.Error(), "via x")
	assert.Contains(t, err.Error(), "via y")
}

func TestSelectAmbiguousRoots(t *testing.T) {
	a := &transform.Variant{Name: "a", Attributes: attrs(map[string]string{"k": "v"})}
	b := &transform.Variant{Name: "b", Attributes: attrs(map[string]string{"k": "v", "extra": "1"})}

	_, err := newSearch().Select(attrs(map[string]string{"k": "v"}), []*transform.Variant{a, b}, nil)
	assert.ErrorIs(t, err, ErrAmbiguousMatch)
}

func TestSelectNoMatch(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	t1 := step("t1", map[string]string{"a": "1"}, map[string]string{"a": "2"})

	_, err := newSearch().Select(attrs(map[string]string{"a": "9"}),
		[]*transform.Variant{root}, []*transform.Step{t1})
	require.Error(t, err)

	var nm *NoMatchError
	require.True(t, errors.As(err, &nm))
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Len(t, nm.Candidates, 1)
	assert.Contains(t, err.Error(), "{a=9}")
}

func TestSearchTerminatesOnCycles(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	fwd := step("fwd", map[string]string{"a": "1"}, map[string]string{"a": "2"})
	back := step("back", map[string]string{"a": "2"}, map[string]string{"a": "1"})

	matches := newSearch().FindMatches(attrs(map[string]string{"a": "9"}),
		[]*transform.Variant{root}, []*transform.Step{fwd, back})
	assert.Empty(t, matches)
}

func TestMaxDepthBoundsSearch(t *testing.T) {
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	s1 := step("s1", map[string]string{"a": "1"}, map[string]string{"a": "2"})
	s2 := step("s2", map[string]string{"a": "2"}, map[string]string{"a": "3"})
	roots := []*transform.Variant{root}
	steps := []*transform.Step{s1, s2}
	target := attrs(map[string]string{"a": "3"})

	limited := NewSearch(attr.NewMatcher(attr.ExactSchema{}), 1)
	assert.Empty(t, limited.FindMatches(target, roots, steps))
	assert.Len(t, newSearch().FindMatches(target, roots, steps), 1)
}

func TestSearchConsultsSchema(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	schema := mocks.NewMockSchema(ctrl)
	root := &transform.Variant{Name: "lib", Attributes: attrs(map[string]string{"a": "1"})}
	requested := attrs(map[string]string{"a": "1"})

	schema.EXPECT().IsCompatible(root.Attributes, requested, false).Return(true)

	matches := NewSearch(attr.NewMatcher(schema), 0).FindMatches(requested, []*transform.Variant{root}, nil)
	assert.Len(t, matches, 1)
}

func TestMatchResultAggregation(t *testing.T) {
	var r matchResult
	a := transform.TransformedVariant{Root: &transform.Variant{Name: "a"}}
	b := transform.TransformedVariant{Root: &transform.Variant{Name: "b"}}
	c := transform.TransformedVariant{Root: &transform.Variant{Name: "c"}}

	r.add(2, a)
	r.add(3, b)
	assert.Len(t, r.matches, 1)
	r.add(2, b)
	assert.Len(t, r.matches, 2)
	r.add(1, c)
	require.Len(t, r.matches, 1)
	assert.Equal(t, 1, r.minDepth)
	assert.Equal(t, "c", r.matches[0].Root.Name)
}
