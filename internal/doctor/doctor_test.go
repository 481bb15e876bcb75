package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/transmute/internal/config"
	"github.com/mattjoyce/transmute/internal/plugin"
)

const validCatalogue = `
transform "unzip" {
  action = "unzip"
  from   = { type = "zip" }
  to     = { type = "directory" }
}

variant "app" {
  files      = ["app.zip"]
  attributes = { type = "zip" }
}

variant "local" {
  files      = ["build/local.zip"]
  attributes = { type = "zip" }
  producer   = ":local"
}
`

func validConfig(t *testing.T, catalogue string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transforms.hcl")
	if err := os.WriteFile(path, []byte(catalogue), 0o644); err != nil {
		t.Fatalf("write catalogue: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.zip"), []byte("zip"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return &config.Config{
		Cache: config.CacheConfig{
			Dir:                 filepath.Join(dir, "cache"),
			ImmutableRetention:  time.Hour,
			InvocationRetention: time.Hour,
		},
		History:   config.HistoryConfig{Path: filepath.Join(dir, "cache", "history.db")},
		Execution: config.ExecutionConfig{Workers: 1},
		Catalogue: path,
	}
}

func newDoctor(cfg *config.Config, registry *plugin.Registry) *Doctor {
	d := New(cfg, registry)
	d.detect = func(string) error { return nil }
	return d
}

func hasIssue(issues []Issue, category, substr string) bool {
	for _, i := range issues {
		if i.Category == category && strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t, validCatalogue), nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_NetworkFilesystem(t *testing.T) {
	t.Parallel()
	d := New(validConfig(t, validCatalogue), nil)
	d.detect = func(path string) error { return errors.New("nfs is not supported") }
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "cache", "nfs is not supported") {
		t.Fatalf("expected cache error, got %v", r.Errors)
	}
}

func TestValidate_MissingCacheDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validCatalogue)
	cfg.Cache.Dir = ""
	r := newDoctor(cfg, nil).Validate()
	if r.Valid || !hasIssue(r.Errors, "cache", "cache.dir is required") {
		t.Fatalf("expected cache.dir error, got %v", r.Errors)
	}
}

func TestValidate_MissingPluginDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validCatalogue)
	cfg.PluginDirs = []string{filepath.Join(t.TempDir(), "nope")}
	r := newDoctor(cfg, nil).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if len(r.Errors) != 1 || r.Errors[0].Field != "plugin_dirs[0]" {
		t.Fatalf("unexpected errors: %v", r.Errors)
	}
}

func TestValidate_CatalogueDiagnostics(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, `
transform "a" {
  action = "nope"
}

variant "v" {
  files = []
}
`)
	r := newDoctor(cfg, nil).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "catalogue", "Unknown action") {
		t.Fatalf("expected unknown action error, got %v", r.Errors)
	}
	if !hasIssue(r.Errors, "catalogue", "Variant has no files") {
		t.Fatalf("expected empty variant error, got %v", r.Errors)
	}
	for _, e := range r.Errors {
		if !strings.Contains(e.Field, "transforms.hcl:") {
			t.Fatalf("expected source range in field, got %q", e.Field)
		}
	}
}

func TestValidate_MissingCatalogue(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, validCatalogue)
	cfg.Catalogue = filepath.Join(t.TempDir(), "missing.hcl")
	r := newDoctor(cfg, nil).Validate()
	if r.Valid || len(r.Errors) != 1 || r.Errors[0].Field != "catalogue" {
		t.Fatalf("expected one catalogue error, got %v", r.Errors)
	}
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t, `
transform "anything" {
  action = "identity"
  to     = { seen = true }
}

transform "noop" {
  action = "copy"
  from   = { type = "zip" }
}

variant "ghost" {
  files      = ["ghost.zip"]
  attributes = { type = "zip" }
}
`)
	cfg.Cache.ImmutableRetention = 0
	registry := plugin.NewRegistry()
	if err := registry.Add(&plugin.Plugin{Name: "checksum", Protocol: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	r := newDoctor(cfg, registry).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	for _, want := range []struct{ category, substr string }{
		{"artifacts", "ghost.zip does not exist"},
		{"transforms", "empty from"},
		{"transforms", "empty to"},
		{"unused", `plugin "checksum"`},
		{"cache", "never pruned"},
	} {
		if !hasIssue(r.Warnings, want.category, want.substr) {
			t.Errorf("missing warning [%s] %q in %v", want.category, want.substr, r.Warnings)
		}
	}
}

func TestValidate_PluginShadowsBuiltin(t *testing.T) {
	t.Parallel()
	registry := plugin.NewRegistry()
	if err := registry.Add(&plugin.Plugin{Name: "unzip", Protocol: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	r := newDoctor(validConfig(t, validCatalogue), registry).Validate()
	if r.Valid || !hasIssue(r.Errors, "plugins", "unzip") {
		t.Fatalf("expected plugin conflict error, got %v", r.Errors)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("unexpected output %q", out)
	}

	out = FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "plugins", Field: "plugin_dirs[0]", Message: "missing"}},
		Warnings: []Issue{{Category: "cache", Message: "zero"}},
	})
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"  ERROR [plugins] plugin_dirs[0]: missing",
		"  WARN  [cache] zero",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("unexpected JSON %s", out)
	}
}
