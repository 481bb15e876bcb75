package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DefaultFilename is looked up when a directory is given to Load.
const DefaultFilename = "transmute.yaml"

// Load reads, defaults, resolves and validates a configuration file. A
// directory argument loads transmute.yaml inside it.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnverified is Load without catalogue integrity verification, for
// regenerating checksums.
func LoadUnverified(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFilename)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFilename, absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	if err := cfg.ResolvePaths(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if verify && cfg.Integrity.Verify {
		if err := VerifyCatalogue(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// FromDefaults returns validated defaults with paths resolved against baseDir.
func FromDefaults(baseDir string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.ResolvePaths(baseDir); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile parses a single config file after environment interpolation.
// Unknown keys are rejected.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}

	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = defaults.Cache.Dir
	}
	if cfg.Cache.ImmutableRetention == 0 {
		cfg.Cache.ImmutableRetention = defaults.Cache.ImmutableRetention
	}
	if cfg.Cache.InvocationRetention == 0 {
		cfg.Cache.InvocationRetention = defaults.Cache.InvocationRetention
	}
	if cfg.Execution.Workers == 0 {
		cfg.Execution.Workers = defaults.Execution.Workers
	}
	if cfg.Catalogue == "" {
		cfg.Catalogue = defaults.Catalogue
	}

	return cfg
}

// ResolvePaths expands "~/" and makes every path absolute against baseDir.
// An empty history path defaults to history.db inside the cache directory.
func (c *Config) ResolvePaths(baseDir string) error {
	var err error
	if c.Cache.Dir, err = resolvePath(baseDir, c.Cache.Dir); err != nil {
		return fmt.Errorf("cache.dir: %w", err)
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.Cache.Dir, "history.db")
	} else if c.History.Path, err = resolvePath(baseDir, c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	if c.Catalogue, err = resolvePath(baseDir, c.Catalogue); err != nil {
		return fmt.Errorf("catalogue: %w", err)
	}
	for i, dir := range c.PluginDirs {
		if c.PluginDirs[i], err = resolvePath(baseDir, dir); err != nil {
			return fmt.Errorf("plugin_dirs[%d]: %w", i, err)
		}
	}
	return nil
}

func resolvePath(baseDir, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Clean(p), nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// Left in place; validation reports it.
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", cfg.Log.Format)
	}

	if cfg.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if cfg.Cache.ImmutableRetention < 0 {
		return fmt.Errorf("cache.immutable_retention must not be negative")
	}
	if cfg.Cache.InvocationRetention < 0 {
		return fmt.Errorf("cache.invocation_retention must not be negative")
	}
	if cfg.Search.MaxDepth < 0 {
		return fmt.Errorf("search.max_depth must be >= 0 (got %d)", cfg.Search.MaxDepth)
	}
	if cfg.Execution.Workers < 1 {
		return fmt.Errorf("execution.workers must be >= 1 (got %d)", cfg.Execution.Workers)
	}
	if cfg.Catalogue == "" {
		return fmt.Errorf("catalogue is required")
	}

	for field, value := range map[string]string{
		"cache.dir":    cfg.Cache.Dir,
		"history.path": cfg.History.Path,
		"catalogue":    cfg.Catalogue,
	} {
		if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}
	for i, dir := range cfg.PluginDirs {
		if m := envVarPattern.FindStringSubmatch(dir); len(m) > 1 {
			return fmt.Errorf("plugin_dirs[%d]: environment variable ${%s} is not set", i, m[1])
		}
	}

	return nil
}
