package catalogue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/mattjoyce/transmute/internal/actions"
	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/graph"
	"github.com/mattjoyce/transmute/internal/log"
)

var _ graph.DependencyProvider = (*Catalogue)(nil)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

const sample = `
transform "unzip" {
  action     = "unzip"
  from       = { artifactType = "zip" }
  to         = { artifactType = "directory" }
  parameters = { strip = 1 }
}

transform "link" {
  action = "copy"
  from   = { artifactType = "directory", linked = false }
  to     = { linked = true }
  requires_dependencies = true
}

variant "lib" {
  files        = ["build/lib.zip", "/abs/other.zip"]
  attributes   = { artifactType = "zip", version = 2 }
  producer     = ":lib"
  dependencies = ["deps/base.jar"]
}

variant "external" {
  files      = ["ext.zip"]
  attributes = { artifactType = "zip" }
}
`

func writeCatalogue(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transforms.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeCatalogue(t, sample)
	dir := filepath.Dir(path)

	c, err := Load(path, actions.Builtins())
	require.NoError(t, err)
	assert.Equal(t, path, c.Path)

	require.Len(t, c.Steps, 2)
	unzip := c.Steps[0]
	assert.Equal(t, "unzip", unzip.Name())
	assert.Equal(t, "unzip", unzip.ActionName())
	assert.True(t, unzip.From().Equal(attr.FromStrings(map[string]string{"artifactType": "zip"})))
	assert.True(t, unzip.To().Equal(attr.FromStrings(map[string]string{"artifactType": "directory"})))
	strip, ok := unzip.Parameters()["strip"]
	require.True(t, ok)
	assert.True(t, strip.RawEquals(cty.NumberIntVal(1)))
	assert.False(t, unzip.RequiresDependencies())

	link, ok := c.Step("link")
	require.True(t, ok)
	assert.True(t, link.RequiresDependencies())
	linked, _ := link.From().Get("linked")
	assert.True(t, linked.RawEquals(cty.False), "bool attributes keep their type")

	require.Len(t, c.Variants, 2)
	lib, ok := c.Variant("lib")
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(dir, "build", "lib.zip"), "/abs/other.zip"}, lib.Files)
	assert.Equal(t, ":lib", lib.Producer)
	assert.True(t, lib.Mutable())
	version, _ := lib.Attributes.Get("version")
	assert.True(t, version.RawEquals(cty.NumberIntVal(2)), "number attributes keep their type")

	ext, _ := c.Variant("external")
	assert.False(t, ext.Mutable())

	_, ok = c.Variant("missing")
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "syntax error",
			src:  `transform "x" {`,
			want: "failed to parse",
		},
		{
			name: "unknown action",
			src:  `transform "x" { action = "teleport" }`,
			want: "Unknown action",
		},
		{
			name: "missing action",
			src:  `transform "x" { }`,
			want: "action",
		},
		{
			name: "duplicate transform",
			src:  "transform \"x\" { action = \"copy\" }\ntransform \"x\" { action = \"identity\" }",
			want: "Duplicate transform",
		},
		{
			name: "duplicate variant",
			src:  "variant \"v\" { files = [\"a\"] }\nvariant \"v\" { files = [\"b\"] }",
			want: "Duplicate variant",
		},
		{
			name: "nested attribute value",
			src:  `transform "x" { action = "copy" ` + "\n" + `from = { a = ["list"] } }`,
			want: "must be a string, number or bool",
		},
		{
			name: "null attribute value",
			src:  `variant "v" { ` + "\n" + `files = ["a"]` + "\n" + `attributes = { a = null } }`,
			want: "must be a string, number or bool",
		},
		{
			name: "attributes not an object",
			src:  `variant "v" { ` + "\n" + `files = ["a"]` + "\n" + `attributes = "zip" }`,
			want: "must be an object",
		},
		{
			name: "variant without files",
			src:  `variant "v" { files = [] }`,
			want: "Variant has no files",
		},
		{
			name: "unknown block",
			src:  `pipeline "p" { }`,
			want: "pipeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCatalogue(t, tt.src), actions.Builtins())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadErrorsCarryDiagnostics(t *testing.T) {
	_, err := Load(writeCatalogue(t, `transform "x" { action = "teleport" }`), actions.Builtins())
	require.Error(t, err)

	var diags hcl.Diagnostics
	require.True(t, errors.As(err, &diags))
	require.Len(t, diags, 1)
	assert.Equal(t, 1, diags[0].Subject.Start.Line)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"), actions.Builtins())
	assert.Error(t, err)
}

func TestDependencies(t *testing.T) {
	path := writeCatalogue(t, sample)
	c, err := Load(path, actions.Builtins())
	require.NoError(t, err)

	link, _ := c.Step("link")
	lib, _ := c.Variant("lib")
	ext, _ := c.Variant("external")

	_, err = c.Dependencies(context.Background(), link, lib)
	assert.Error(t, err, "declared dependency does not exist yet")

	dep := filepath.Join(filepath.Dir(path), "deps", "base.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(dep), 0o755))
	require.NoError(t, os.WriteFile(dep, []byte("jar"), 0o644))

	files, err := c.Dependencies(context.Background(), link, lib)
	require.NoError(t, err)
	assert.Equal(t, []string{dep}, files)

	files, err = c.Dependencies(context.Background(), link, ext)
	require.NoError(t, err)
	assert.Empty(t, files)
}
