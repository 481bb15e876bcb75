// Package transform holds the immutable data model shared by the search, the
// cache and the execution graph: steps, chains, variants and subjects.
package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/fingerprint"
)

// Action implements a step. It reads req.Input, writes into req.OutputDir and
// registers every produced location on out.
type Action interface {
	Transform(ctx context.Context, req Request, out Outputs) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, req Request, out Outputs) error

func (f ActionFunc) Transform(ctx context.Context, req Request, out Outputs) error {
	return f(ctx, req, out)
}

// Outputs collects the locations produced by one action invocation. Relative
// paths resolve against the output directory.
type Outputs interface {
	File(path string)
	Dir(path string)
}

// Request is the input handed to an Action.
type Request struct {
	Step         string
	Input        string
	OutputDir    string
	Dependencies []string
	Parameters   map[string]cty.Value
}

// String returns a string parameter or def when unset.
func (r Request) String(name, def string) (string, error) {
	v, ok := r.Parameters[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	if v.Type() != cty.String {
		return "", fmt.Errorf("parameter %q must be a string, got %s", name, v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

// Int returns an integer parameter or def when unset.
func (r Request) Int(name string, def int) (int, error) {
	v, ok := r.Parameters[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("parameter %q must be a number, got %s", name, v.Type().FriendlyName())
	}
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return 0, fmt.Errorf("parameter %q must be a whole number", name)
	}
	i, _ := bf.Int64()
	return int(i), nil
}

// Bool returns a boolean parameter or def when unset.
func (r Request) Bool(name string, def bool) (bool, error) {
	v, ok := r.Parameters[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	if v.Type() != cty.Bool {
		return false, fmt.Errorf("parameter %q must be a bool, got %s", name, v.Type().FriendlyName())
	}
	return v.True(), nil
}

// StepConfig describes a step registration.
type StepConfig struct {
	Name                 string
	ActionName           string
	Action               Action
	Parameters           map[string]cty.Value
	From                 attr.Set
	To                   attr.Set
	RequiresDependencies bool
}

// Step is a registered transformation. It is immutable once built.
type Step struct {
	name                 string
	actionName           string
	action               Action
	params               map[string]cty.Value
	config               string
	from                 attr.Set
	to                   attr.Set
	requiresDependencies bool
	identity             string
	secondaryHash        string
}

// NewStep validates cfg and derives the step's identity and secondary-input
// hash.
func NewStep(cfg StepConfig) (*Step, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("step name is required")
	}
	if cfg.ActionName == "" {
		return nil, fmt.Errorf("step %q: action name is required", cfg.Name)
	}
	if cfg.Action == nil {
		return nil, fmt.Errorf("step %q: action %q is nil", cfg.Name, cfg.ActionName)
	}

	config, err := canonicalParameters(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", cfg.Name, err)
	}

	params := make(map[string]cty.Value, len(cfg.Parameters))
	for k, v := range cfg.Parameters {
		params[k] = v
	}

	return &Step{
		name:                 cfg.Name,
		actionName:           cfg.ActionName,
		action:               cfg.Action,
		params:               params,
		config:               config,
		from:                 cfg.From,
		to:                   cfg.To,
		requiresDependencies: cfg.RequiresDependencies,
		identity:             fingerprint.Combine("step", cfg.Name, cfg.ActionName, config, cfg.From.Key(), cfg.To.Key()),
		secondaryHash:        fingerprint.Combine(cfg.ActionName, config),
	}, nil
}

// MustStep is NewStep for fixtures; it panics on error.
func MustStep(cfg StepConfig) *Step {
	s, err := NewStep(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func canonicalParameters(params map[string]cty.Value) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	for k, v := range params {
		if !v.IsWhollyKnown() {
			return "", fmt.Errorf("parameter %q is not known", k)
		}
	}
	obj := cty.ObjectVal(params)
	raw, err := ctyjson.Marshal(obj, obj.Type())
	if err != nil {
		return "", fmt.Errorf("serialize parameters: %w", err)
	}
	return string(raw), nil
}

func (s *Step) Name() string                     { return s.name }
func (s *Step) ActionName() string               { return s.actionName }
func (s *Step) Action() Action                   { return s.action }
func (s *Step) From() attr.Set                   { return s.from }
func (s *Step) To() attr.Set                     { return s.to }
func (s *Step) RequiresDependencies() bool       { return s.requiresDependencies }
func (s *Step) Config() string                   { return s.config }
func (s *Step) Identity() string                 { return s.identity }
func (s *Step) SecondaryInputHash() string       { return s.secondaryHash }
func (s *Step) Parameters() map[string]cty.Value { return copyParams(s.params) }

// Request builds the action request for one input.
func (s *Step) Request(input, outputDir string, deps []string) Request {
	return Request{
		Step:         s.name,
		Input:        input,
		OutputDir:    outputDir,
		Dependencies: deps,
		Parameters:   copyParams(s.params),
	}
}

// DisplayName renders the step for diagnostics.
func (s *Step) DisplayName() string {
	return fmt.Sprintf("%s (%s)", s.name, s.actionName)
}

func (s *Step) String() string { return s.name }

func copyParams(in map[string]cty.Value) map[string]cty.Value {
	out := make(map[string]cty.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
