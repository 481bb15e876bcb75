// Package plugin discovers external action executables. Each plugin lives in
// its own directory with a manifest.yaml naming the entrypoint; the entrypoint
// speaks the JSON protocol in internal/protocol.
package plugin

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds one invocation when the manifest sets none.
const DefaultTimeout = 10 * time.Minute

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Protocol    int            `yaml:"protocol"`
	Entrypoint  string         `yaml:"entrypoint"`
	Description string         `yaml:"description,omitempty"`
	Timeout     string         `yaml:"timeout,omitempty"`
	Parameters  *ParameterKeys `yaml:"parameters,omitempty"`
}

// ParameterKeys declares the step parameters a plugin understands.
type ParameterKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// Plugin represents a discovered and validated plugin.
type Plugin struct {
	Name        string        // Action name from manifest
	Path        string        // Absolute path to plugin directory
	Entrypoint  string        // Absolute path to entrypoint executable
	Protocol    int           // Protocol version
	Version     string        // Plugin version
	Description string        // Human-readable description
	Timeout     time.Duration // Per-invocation limit
	Parameters  *ParameterKeys
}

// CheckParameters reports missing required or undeclared parameters. A plugin
// without a parameters block accepts anything.
func (p *Plugin) CheckParameters(names []string) error {
	if p.Parameters == nil {
		return nil
	}
	given := make(map[string]bool, len(names))
	for _, n := range names {
		given[n] = true
	}

	var missing []string
	for _, req := range p.Parameters.Required {
		if !given[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("plugin %s: missing required parameters: %s", p.Name, strings.Join(missing, ", "))
	}

	known := make(map[string]bool)
	for _, k := range p.Parameters.Required {
		known[k] = true
	}
	for _, k := range p.Parameters.Optional {
		known[k] = true
	}
	for _, n := range names {
		if !known[n] {
			return fmt.Errorf("plugin %s: unknown parameter %q", p.Name, n)
		}
	}
	return nil
}
