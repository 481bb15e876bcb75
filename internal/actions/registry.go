// Package actions provides the step implementations a catalogue can name: the
// built-in file actions and external plugin executables.
package actions

import (
	"fmt"
	"sort"

	"github.com/mattjoyce/transmute/internal/plugin"
	"github.com/mattjoyce/transmute/internal/transform"
)

// Registry maps action names to implementations.
type Registry struct {
	actions map[string]transform.Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]transform.Action)}
}

// Builtins returns a registry holding identity, copy, unzip and gunzip.
func Builtins() *Registry {
	r := NewRegistry()
	for name, a := range map[string]transform.Action{
		"identity": transform.ActionFunc(Identity),
		"copy":     transform.ActionFunc(Copy),
		"unzip":    transform.ActionFunc(Unzip),
		"gunzip":   transform.ActionFunc(Gunzip),
	} {
		// Names are distinct.
		_ = r.Register(name, a)
	}
	return r
}

// Register adds an action. Names are unique.
func (r *Registry) Register(name string, a transform.Action) error {
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if a == nil {
		return fmt.Errorf("action %q is nil", name)
	}
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.actions[name] = a
	return nil
}

// RegisterPlugins adds one action per discovered plugin.
func (r *Registry) RegisterPlugins(plugins *plugin.Registry) error {
	for _, name := range plugins.Names() {
		p, _ := plugins.Get(name)
		if err := r.Register(name, NewPluginAction(p)); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.Path, err)
		}
	}
	return nil
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (transform.Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
