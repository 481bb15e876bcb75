package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/mattjoyce/transmute/internal/attr"
)

var noop = ActionFunc(func(context.Context, Request, Outputs) error { return nil })

func testStep(t *testing.T, name string) *Step {
	t.Helper()
	s, err := NewStep(StepConfig{
		Name:       name,
		ActionName: "identity",
		Action:     noop,
		From:       attr.FromStrings(map[string]string{"a": "1"}),
		To:         attr.FromStrings(map[string]string{"a": "2"}),
	})
	require.NoError(t, err)
	return s
}

func TestNewStepValidation(t *testing.T) {
	_, err := NewStep(StepConfig{ActionName: "identity", Action: noop})
	assert.Error(t, err)
	_, err = NewStep(StepConfig{Name: "x", Action: noop})
	assert.Error(t, err)
	_, err = NewStep(StepConfig{Name: "x", ActionName: "identity"})
	assert.Error(t, err)
}

func TestStepIdentityAndSecondaryHash(t *testing.T) {
	mk := func(name string, strip int) *Step {
		return MustStep(StepConfig{
			Name:       name,
			ActionName: "unzip",
			Action:     noop,
			Parameters: map[string]cty.Value{"strip": cty.NumberIntVal(int64(strip)), "mode": cty.StringVal("fast")},
		})
	}

	a, b := mk("unzip", 1), mk("unzip", 1)
	assert.Equal(t, a.Identity(), b.Identity())
	assert.Equal(t, a.SecondaryInputHash(), b.SecondaryInputHash())
	assert.Equal(t, `{"mode":"fast","strip":1}`, a.Config())

	c := mk("unzip", 2)
	assert.NotEqual(t, a.Identity(), c.Identity())
	assert.NotEqual(t, a.SecondaryInputHash(), c.SecondaryInputHash())

	// Same implementation and configuration registered twice under distinct
	// names are distinct steps that share a secondary hash.
	d := mk("unzip-again", 1)
	assert.NotEqual(t, a.Identity(), d.Identity())
	assert.Equal(t, a.SecondaryInputHash(), d.SecondaryInputHash())

	empty := MustStep(StepConfig{Name: "id", ActionName: "identity", Action: noop})
	assert.Equal(t, "{}", empty.Config())
}

func TestRequestParameters(t *testing.T) {
	req := Request{Parameters: map[string]cty.Value{
		"strip":  cty.NumberIntVal(2),
		"half":   cty.NumberFloatVal(1.5),
		"name":   cty.StringVal("out"),
		"strict": cty.True,
	}}

	n, err := req.Int("strip", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = req.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = req.Int("half", 0)
	assert.Error(t, err)
	_, err = req.Int("name", 0)
	assert.Error(t, err)

	s, err := req.String("name", "")
	require.NoError(t, err)
	assert.Equal(t, "out", s)
	_, err = req.String("strip", "")
	assert.Error(t, err)

	b, err := req.Bool("strict", false)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestChainEndsWith(t *testing.T) {
	s1, s2, s3 := testStep(t, "s1"), testStep(t, "s2"), testStep(t, "s3")
	full := NewChain(s1, s2, s3)

	assert.Equal(t, 3, full.Len())
	assert.True(t, full.EndsWith(NewChain(s2, s3)))
	assert.True(t, full.EndsWith(NewChain(s3)))
	assert.True(t, full.EndsWith(full))
	assert.False(t, full.EndsWith(NewChain(s1, s3)))
	assert.False(t, NewChain(s2, s3).EndsWith(full))
}

func TestChainSharesPrefix(t *testing.T) {
	s1, s2, s3 := testStep(t, "s1"), testStep(t, "s2"), testStep(t, "s3")
	prefix := NewChain(s1, s2)
	a := prefix.Append(s3)
	b := prefix.Append(s1)

	assert.Same(t, prefix, a.Init())
	assert.Same(t, prefix, b.Init())
	assert.Equal(t, []*Step{s1, s2, s3}, a.Steps())
	assert.Equal(t, "s1 -> s2 -> s3", a.DisplayName())
	assert.Equal(t, 2, prefix.Len(), "prefix is not modified by Append")
	assert.Nil(t, NewChain())
	assert.Equal(t, 0, (*Chain)(nil).Len())
}

func TestVariantDefinitionExtend(t *testing.T) {
	s1, s2 := testStep(t, "s1"), testStep(t, "s2")
	attrs1 := attr.FromStrings(map[string]string{"a": "2"})
	attrs2 := attr.FromStrings(map[string]string{"a": "3"})

	var root *VariantDefinition
	d1 := root.Extend(s1, attrs1)
	d2 := d1.Extend(s2, attrs2)

	assert.Nil(t, d1.Previous)
	assert.Same(t, d1, d2.Previous)
	assert.Same(t, d1.Chain, d2.Chain.Init())
	assert.Equal(t, 2, TransformedVariant{Definition: d2}.Depth())

	v := &Variant{Name: "lib", Attributes: attr.FromStrings(map[string]string{"a": "1"})}
	direct := TransformedVariant{Root: v}
	assert.Nil(t, direct.Chain())
	assert.Equal(t, 0, direct.Depth())
	assert.True(t, direct.Attributes().Equal(v.Attributes))
}

func TestSubject(t *testing.T) {
	step := testStep(t, "unzip")
	files := []string{"/a.zip", "/b.zip"}
	s := NewSubject("lib", ":lib", files)
	files[0] = "/mutated"

	assert.Equal(t, []string{"/a.zip", "/b.zip"}, s.Files())
	assert.True(t, s.Mutable())

	next := s.WithFiles(step, []string{"/out/a"})
	assert.Equal(t, "lib (unzip)", next.Name())
	assert.Equal(t, ":lib", next.Producer())

	boom := errors.New("boom")
	failed := s.WithFailure(step, boom)
	assert.True(t, failed.Failed())
	assert.Nil(t, failed.Files())
	assert.ErrorIs(t, failed.Failure(), boom)

	one := s.Single("/b.zip")
	assert.Equal(t, "b.zip", one.Name())
	assert.Equal(t, []string{"/b.zip"}, one.Files())
}
