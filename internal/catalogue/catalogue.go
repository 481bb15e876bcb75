// Package catalogue loads transform steps and root variants from an HCL file.
//
//	transform "unzip" {
//	  action     = "unzip"
//	  from       = { artifactType = "zip" }
//	  to         = { artifactType = "directory" }
//	  parameters = { strip = 1 }
//	}
//
//	variant "lib" {
//	  files      = ["build/lib.zip"]
//	  attributes = { artifactType = "zip" }
//	  producer   = ":lib"
//	}
package catalogue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

// ActionLookup resolves action names; *actions.Registry implements it.
type ActionLookup interface {
	Get(name string) (transform.Action, bool)
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "transform", LabelNames: []string{"name"}},
		{Type: "variant", LabelNames: []string{"name"}},
	},
}

type transformBlock struct {
	Name                 string
	DeclRange            hcl.Range
	Action               string         `hcl:"action"`
	From                 hcl.Expression `hcl:"from,optional"`
	To                   hcl.Expression `hcl:"to,optional"`
	Parameters           hcl.Expression `hcl:"parameters,optional"`
	RequiresDependencies *bool          `hcl:"requires_dependencies,optional"`
}

type variantBlock struct {
	Name         string
	DeclRange    hcl.Range
	Files        []string       `hcl:"files"`
	Attributes   hcl.Expression `hcl:"attributes,optional"`
	Producer     string         `hcl:"producer,optional"`
	Dependencies []string       `hcl:"dependencies,optional"`
}

// Catalogue is the loaded content of one catalogue file.
type Catalogue struct {
	Path     string
	Steps    []*transform.Step
	Variants []*transform.Variant

	dependencies map[string][]string
}

// Load parses the catalogue at path. Relative file paths resolve against the
// catalogue's directory. Every problem found is reported as HCL diagnostics.
func Load(path string, actions ActionLookup) (*Catalogue, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalogue path %q: %w", path, err)
	}
	src, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse(src, absPath, actions)
}

// Parse decodes catalogue source; filename is used for diagnostics and as the
// base for relative paths.
func Parse(src []byte, filename string, actions ActionLookup) (*Catalogue, error) {
	logger := log.WithComponent("catalogue")

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse catalogue %s: %w", filename, diags)
	}

	transforms, variants, diags := decodeBlocks(file.Body)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode catalogue %s: %w", filename, diags)
	}

	c := &Catalogue{Path: filename, dependencies: make(map[string][]string)}
	baseDir := filepath.Dir(filename)

	seenSteps := make(map[string]hcl.Range)
	for _, tb := range transforms {
		if prev, dup := seenSteps[tb.Name]; dup {
			diags = diags.Append(duplicate("transform", tb.Name, tb.DeclRange, prev))
			continue
		}
		seenSteps[tb.Name] = tb.DeclRange

		step, stepDiags := buildStep(tb, actions)
		diags = diags.Extend(stepDiags)
		if step != nil {
			c.Steps = append(c.Steps, step)
		}
	}

	seenVariants := make(map[string]hcl.Range)
	for _, vb := range variants {
		if prev, dup := seenVariants[vb.Name]; dup {
			diags = diags.Append(duplicate("variant", vb.Name, vb.DeclRange, prev))
			continue
		}
		seenVariants[vb.Name] = vb.DeclRange

		v, varDiags := buildVariant(vb, baseDir)
		diags = diags.Extend(varDiags)
		if v == nil {
			continue
		}
		c.Variants = append(c.Variants, v)
		if len(vb.Dependencies) > 0 {
			c.dependencies[vb.Name] = resolveAll(baseDir, vb.Dependencies)
		}
	}

	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid catalogue %s: %w", filename, diags)
	}

	logger.Debug("catalogue loaded", "path", filename, "steps", len(c.Steps), "variants", len(c.Variants))
	return c, nil
}

func decodeBlocks(body hcl.Body) ([]*transformBlock, []*variantBlock, hcl.Diagnostics) {
	content, diags := body.Content(rootSchema)
	if diags.HasErrors() {
		return nil, nil, diags
	}

	var transforms []*transformBlock
	var variants []*variantBlock
	for _, block := range content.Blocks {
		switch block.Type {
		case "transform":
			tb := &transformBlock{Name: block.Labels[0], DeclRange: block.DefRange}
			diags = diags.Extend(gohcl.DecodeBody(block.Body, nil, tb))
			transforms = append(transforms, tb)
		case "variant":
			vb := &variantBlock{Name: block.Labels[0], DeclRange: block.DefRange}
			diags = diags.Extend(gohcl.DecodeBody(block.Body, nil, vb))
			variants = append(variants, vb)
		}
	}
	return transforms, variants, diags
}

func buildStep(tb *transformBlock, actions ActionLookup) (*transform.Step, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	action, ok := actions.Get(tb.Action)
	if !ok {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown action",
			Detail:   fmt.Sprintf("transform %q names action %q, which is not registered.", tb.Name, tb.Action),
			Subject:  tb.DeclRange.Ptr(),
		})
	}

	from, d := attributeSet(tb.From, "from")
	diags = diags.Extend(d)
	to, d := attributeSet(tb.To, "to")
	diags = diags.Extend(d)
	params, d := primitiveObject(tb.Parameters, "parameters")
	diags = diags.Extend(d)

	if diags.HasErrors() {
		return nil, diags
	}

	step, err := transform.NewStep(transform.StepConfig{
		Name:                 tb.Name,
		ActionName:           tb.Action,
		Action:               action,
		Parameters:           params,
		From:                 from,
		To:                   to,
		RequiresDependencies: tb.RequiresDependencies != nil && *tb.RequiresDependencies,
	})
	if err != nil {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid transform",
			Detail:   err.Error(),
			Subject:  tb.DeclRange.Ptr(),
		})
	}
	return step, diags
}

func buildVariant(vb *variantBlock, baseDir string) (*transform.Variant, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	if len(vb.Files) == 0 {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Variant has no files",
			Detail:   fmt.Sprintf("variant %q must list at least one file.", vb.Name),
			Subject:  vb.DeclRange.Ptr(),
		})
	}
	attrs, d := attributeSet(vb.Attributes, "attributes")
	diags = diags.Extend(d)
	if diags.HasErrors() {
		return nil, diags
	}
	return &transform.Variant{
		Name:       vb.Name,
		Attributes: attrs,
		Files:      resolveAll(baseDir, vb.Files),
		Producer:   vb.Producer,
	}, diags
}

func attributeSet(expr hcl.Expression, field string) (attr.Set, hcl.Diagnostics) {
	values, diags := primitiveObject(expr, field)
	if diags.HasErrors() || len(values) == 0 {
		return attr.Empty, diags
	}
	set, err := attr.New(values)
	if err != nil {
		return attr.Empty, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid attributes",
			Detail:   fmt.Sprintf("%s: %s", field, err),
			Subject:  expr.Range().Ptr(),
		})
	}
	return set, diags
}

// primitiveObject evaluates expr as an object whose values are strings,
// numbers or bools. An absent expression yields nil.
func primitiveObject(expr hcl.Expression, field string) (map[string]cty.Value, hcl.Diagnostics) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid " + field,
			Detail:   fmt.Sprintf("%s must be an object, got %s.", field, ty.FriendlyName()),
			Subject:  expr.Range().Ptr(),
		})
	}

	out := make(map[string]cty.Value, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		name := k.AsString()
		if v.IsNull() || !v.Type().IsPrimitiveType() {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid " + field + " value",
				Detail:   fmt.Sprintf("%s.%s must be a string, number or bool, got %s.", field, name, v.Type().FriendlyName()),
				Subject:  expr.Range().Ptr(),
			})
			continue
		}
		out[name] = v
	}
	return out, diags
}

func duplicate(kind, name string, at, prev hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Duplicate " + kind,
		Detail:   fmt.Sprintf("%s %q was already declared at %s.", kind, name, prev),
		Subject:  at.Ptr(),
	}
}

func resolveAll(baseDir string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		out[i] = filepath.Clean(p)
	}
	return out
}

// Variant looks up a root variant by name.
func (c *Catalogue) Variant(name string) (*transform.Variant, bool) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// Step looks up a step by name.
func (c *Catalogue) Step(name string) (*transform.Step, bool) {
	for _, s := range c.Steps {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Dependencies returns the upstream files declared on root's variant block.
// Every file must exist.
func (c *Catalogue) Dependencies(_ context.Context, step *transform.Step, root *transform.Variant) ([]string, error) {
	files := c.dependencies[root.Name]
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("dependency of %s for step %s: %w", root.Name, step.Name(), err)
		}
	}
	out := make([]string, len(files))
	copy(out, files)
	return out, nil
}
