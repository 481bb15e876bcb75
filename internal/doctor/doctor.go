// Package doctor validates transmute configuration, catalogue and plugin setup.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"

	"github.com/mattjoyce/transmute/internal/actions"
	"github.com/mattjoyce/transmute/internal/catalogue"
	"github.com/mattjoyce/transmute/internal/config"
	"github.com/mattjoyce/transmute/internal/plugin"
	"github.com/mattjoyce/transmute/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered plugins.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry

	// detect reports filesystem problems for a path.
	detect func(path string) error
	cat    *catalogue.Catalogue
}

// New creates a Doctor from a loaded config and plugin registry. registry may
// be nil when no plugin directories are configured.
func New(cfg *config.Config, registry *plugin.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry, detect: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCache(r)
	d.validatePluginDirs(r)
	d.validateCatalogue(r)
	d.warnMissingArtifacts(r)
	d.warnDegenerateSteps(r)
	d.warnUnusedPlugins(r)
	d.warnRetention(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCache checks that workspaces and history live on a local
// filesystem.
func (d *Doctor) validateCache(r *Result) {
	if d.cfg.Cache.Dir == "" {
		d.addError(r, "cache", "cache.dir", "cache.dir is required")
		return
	}
	if err := d.detect(d.cfg.Cache.Dir); err != nil {
		d.addError(r, "cache", "cache.dir", err.Error())
	}
	if d.cfg.History.Path != "" && filepath.Dir(d.cfg.History.Path) != d.cfg.Cache.Dir {
		if err := d.detect(d.cfg.History.Path); err != nil {
			d.addError(r, "cache", "history.path", err.Error())
		}
	}
}

// validatePluginDirs checks that configured plugin roots exist.
func (d *Doctor) validatePluginDirs(r *Result) {
	for i, dir := range d.cfg.PluginDirs {
		field := fmt.Sprintf("plugin_dirs[%d]", i)
		info, err := os.Stat(dir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			d.addError(r, "plugins", field, fmt.Sprintf("plugin directory %s does not exist", dir))
		case err != nil:
			d.addError(r, "plugins", field, err.Error())
		case !info.IsDir():
			d.addError(r, "plugins", field, fmt.Sprintf("%s is not a directory", dir))
		}
	}
}

// validateCatalogue loads the catalogue with built-in and discovered actions
// and reports each diagnostic separately.
func (d *Doctor) validateCatalogue(r *Result) {
	registry := actions.Builtins()
	if d.registry != nil {
		if err := registry.RegisterPlugins(d.registry); err != nil {
			d.addError(r, "plugins", "", err.Error())
			return
		}
	}

	cat, err := catalogue.Load(d.cfg.Catalogue, registry)
	if err == nil {
		d.cat = cat
		return
	}

	var diags hcl.Diagnostics
	if !errors.As(err, &diags) {
		d.addError(r, "catalogue", "catalogue", err.Error())
		return
	}
	for _, diag := range diags {
		if diag.Severity != hcl.DiagError {
			continue
		}
		field := ""
		if diag.Subject != nil {
			field = diag.Subject.String()
		}
		msg := diag.Summary
		if diag.Detail != "" {
			msg += ": " + diag.Detail
		}
		d.addError(r, "catalogue", field, msg)
	}
}

// warnMissingArtifacts warns about external variant files that do not exist.
// Files of locally produced variants may legitimately be absent until built.
func (d *Doctor) warnMissingArtifacts(r *Result) {
	if d.cat == nil {
		return
	}
	for _, v := range d.cat.Variants {
		if v.Mutable() {
			continue
		}
		for _, f := range v.Files {
			if _, err := os.Stat(f); err != nil {
				d.addWarning(r, "artifacts", "variant."+v.Name,
					fmt.Sprintf("artifact %s does not exist", f))
			}
		}
	}
}

// warnDegenerateSteps warns about steps that apply to every variant or change
// nothing.
func (d *Doctor) warnDegenerateSteps(r *Result) {
	if d.cat == nil {
		return
	}
	for _, s := range d.cat.Steps {
		field := "transform." + s.Name()
		if s.From().IsEmpty() {
			d.addWarning(r, "transforms", field, "empty from applies the step to every variant")
		}
		if s.To().IsEmpty() {
			d.addWarning(r, "transforms", field, "empty to leaves attributes unchanged; the step is never selected")
		}
	}
}

// warnUnusedPlugins warns about discovered plugins no step references.
func (d *Doctor) warnUnusedPlugins(r *Result) {
	if d.registry == nil || d.cat == nil {
		return
	}
	used := make(map[string]bool)
	for _, s := range d.cat.Steps {
		used[s.ActionName()] = true
	}
	for _, name := range d.registry.Names() {
		if !used[name] {
			d.addWarning(r, "unused", "",
				fmt.Sprintf("plugin %q discovered but not referenced by any transform", name))
		}
	}
}

func (d *Doctor) warnRetention(r *Result) {
	if d.cfg.Cache.ImmutableRetention == 0 {
		d.addWarning(r, "cache", "cache.immutable_retention", "retention is zero; immutable workspaces are never pruned")
	}
	if d.cfg.Cache.InvocationRetention == 0 {
		d.addWarning(r, "cache", "cache.invocation_retention", "retention is zero; the transform log grows without bound")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range sortedIssues(r.Errors) {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range sortedIssues(r.Warnings) {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// sortedIssues orders issues by category, keeping discovery order within one.
func sortedIssues(issues []Issue) []Issue {
	out := append([]Issue(nil), issues...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
