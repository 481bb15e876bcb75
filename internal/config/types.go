package config

import "time"

// Config represents the complete transmute configuration.
type Config struct {
	Log        LogConfig       `yaml:"log"`
	Cache      CacheConfig     `yaml:"cache"`
	History    HistoryConfig   `yaml:"history"`
	Search     SearchConfig    `yaml:"search"`
	Execution  ExecutionConfig `yaml:"execution"`
	Catalogue  string          `yaml:"catalogue"`
	PluginDirs []string        `yaml:"plugin_dirs,omitempty"`
	Integrity  IntegrityConfig `yaml:"integrity,omitempty"`

	// SourcePath is the absolute path of the loaded file; empty for defaults.
	SourcePath string `yaml:"-"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig defines where transform workspaces live and how long unused
// immutable workspaces are kept.
type CacheConfig struct {
	Dir                 string        `yaml:"dir"`
	ImmutableRetention  time.Duration `yaml:"immutable_retention"`
	InvocationRetention time.Duration `yaml:"invocation_retention"`
}

// HistoryConfig defines the execution history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// SearchConfig bounds the variant search. MaxDepth 0 means one more than the
// number of registered steps.
type SearchConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// ExecutionConfig defines scheduler settings.
type ExecutionConfig struct {
	Workers int `yaml:"workers"`
}

// IntegrityConfig enables checksum verification of the catalogue against a
// .checksums manifest next to the config file.
type IntegrityConfig struct {
	Verify bool `yaml:"verify"`
}

// Defaults returns a Config with default settings. Paths are unresolved.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Dir:                 "~/.cache/transmute",
			ImmutableRetention:  30 * 24 * time.Hour,
			InvocationRetention: 7 * 24 * time.Hour,
		},
		Execution: ExecutionConfig{
			Workers: 4,
		},
		Catalogue: "./transforms.hcl",
	}
}
