package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/transmute/internal/protocol"
)

const manifestFilename = "manifest.yaml"

// namePattern constrains plugin names to usable catalogue action names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Registry holds discovered plugins indexed by name.
type Registry struct {
	plugins map[string]*Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
	}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Add registers a plugin in the registry.
func (r *Registry) Add(plugin *Plugin) error {
	if _, exists := r.plugins[plugin.Name]; exists {
		return fmt.Errorf("plugin %q already registered", plugin.Name)
	}
	r.plugins[plugin.Name] = plugin
	return nil
}

// Discover scans one plugin root.
func Discover(pluginsDir string, logger func(level, msg string, args ...any)) (*Registry, error) {
	return DiscoverMany([]string{pluginsDir}, logger)
}

// DiscoverMany scans plugin roots in order for manifest.yaml files. A plugin
// name found in an earlier root shadows later ones. Invalid plugins are logged
// and skipped; a missing root is an error.
func DiscoverMany(pluginRoots []string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	roots, err := resolveRoots(pluginRoots)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, root := range roots {
		if err := registry.scan(root, logger); err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}
	return registry, nil
}

// resolveRoots makes roots absolute, checks they are directories and drops
// blanks and repeats.
func resolveRoots(pluginRoots []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(pluginRoots))
	for _, root := range pluginRoots {
		if root = strings.TrimSpace(root); root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("plugin root does not exist: %s", abs)
		case err != nil:
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", abs, err)
		case !info.IsDir():
			return nil, fmt.Errorf("plugin root is not a directory: %s", abs)
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}
	return out, nil
}

func (r *Registry) scan(root string, logger func(level, msg string, args ...any)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		dir := filepath.Dir(path)
		p, err := loadPlugin(dir, root)
		if err != nil {
			logger("warn", "failed to load plugin", "root", root, "path", dir, "error", err.Error())
			return nil
		}
		if existing, ok := r.Get(p.Name); ok {
			logger("warn", "duplicate plugin ignored (keeping first discovered)",
				"plugin", p.Name, "ignored_path", p.Path, "kept_path", existing.Path)
			return nil
		}
		r.plugins[p.Name] = p
		logger("info", "loaded plugin", "plugin", p.Name, "path", p.Path, "version", p.Version, "timeout", p.Timeout.String())
		return nil
	})
}

// loadPlugin reads and validates a single plugin.
func loadPlugin(pluginPath, pluginsDir string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	timeout := DefaultTimeout
	if manifest.Timeout != "" {
		// validateManifest already parsed it once.
		timeout, _ = time.ParseDuration(manifest.Timeout)
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrust(entrypointPath, pluginPath, pluginsDir); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Plugin{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Description: manifest.Description,
		Timeout:     timeout,
		Parameters:  manifest.Parameters,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("invalid name %q: must match %s", m.Name, namePattern)
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != protocol.Version {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, protocol.Version)
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	// Check for path traversal in entrypoint
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	if m.Timeout != "" {
		d, err := time.ParseDuration(m.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", m.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", m.Timeout)
		}
	}

	return nil
}

// validateTrust enforces that the entrypoint is an executable inside its
// plugin directory, under the plugin root, in a directory that is not
// world-writable.
func validateTrust(entrypointPath, pluginPath, pluginsDir string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(pluginsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin root symlink %s: %w", pluginsDir, err)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin root %s", resolvedEntrypoint, resolvedRoot)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}
