package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/transmute/internal/catalogue"
	"github.com/mattjoyce/transmute/internal/config"
	"github.com/mattjoyce/transmute/internal/history"
)

// DefaultLimit bounds the invocation list when Options.Limit is zero.
const DefaultLimit = 20

// InvocationSource lists recorded invocations, newest first.
type InvocationSource interface {
	RecentInvocations(ctx context.Context, buildID string, limit int) ([]history.Invocation, error)
}

// Options selects what the report covers.
type Options struct {
	// BuildID restricts invocations to one build. Empty means all builds.
	BuildID string
	Limit   int
}

// Report is the structured JSON representation of a catalogue report.
type Report struct {
	Catalogue   string       `json:"catalogue"`
	Checksum    string       `json:"checksum"`
	Steps       []Step       `json:"steps"`
	Variants    []Variant    `json:"variants"`
	BuildID     string       `json:"build_id,omitempty"`
	Summary     Summary      `json:"summary"`
	Invocations []Invocation `json:"invocations"`
}

// Step describes one registered transform.
type Step struct {
	Name                 string `json:"name"`
	Action               string `json:"action"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Config               string `json:"config,omitempty"`
	RequiresDependencies bool   `json:"requires_dependencies"`
	Identity             string `json:"identity"`
}

// Variant describes one root variant.
type Variant struct {
	Name       string   `json:"name"`
	Attributes string   `json:"attributes"`
	Producer   string   `json:"producer,omitempty"`
	Files      []string `json:"files"`
}

// Summary counts the listed invocations.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
}

// Invocation is one entry of the transform log.
type Invocation struct {
	ID         string    `json:"id"`
	BuildID    string    `json:"build_id"`
	Store      string    `json:"store"`
	Step       string    `json:"step"`
	Input      string    `json:"input"`
	Identity   string    `json:"identity"`
	Status     string    `json:"status"`
	Cached     bool      `json:"cached"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// BuildReport renders a terminal-friendly report of the catalogue and the
// most recent invocations.
func BuildReport(ctx context.Context, cat *catalogue.Catalogue, src InvocationSource, opts Options) (string, error) {
	report, err := gatherReportData(ctx, cat, src, opts)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Catalogue Report\n")
	fmt.Fprintf(&out, "Catalogue   : %s\n", report.Catalogue)
	fmt.Fprintf(&out, "BLAKE3      : %s\n", report.Checksum)
	fmt.Fprintf(&out, "Steps       : %d\n", len(report.Steps))
	fmt.Fprintf(&out, "Variants    : %d\n", len(report.Variants))
	fmt.Fprintf(&out, "\n")

	for _, s := range report.Steps {
		fmt.Fprintf(&out, "transform %s\n", s.Name)
		fmt.Fprintf(&out, "    action     : %s\n", s.Action)
		fmt.Fprintf(&out, "    from       : %s\n", s.From)
		fmt.Fprintf(&out, "    to         : %s\n", s.To)
		if s.Config != "" {
			fmt.Fprintf(&out, "    parameters : %s\n", s.Config)
		}
		if s.RequiresDependencies {
			fmt.Fprintf(&out, "    deps       : required\n")
		}
		fmt.Fprintf(&out, "    identity   : %s\n", s.Identity)
		fmt.Fprintf(&out, "\n")
	}

	for _, v := range report.Variants {
		fmt.Fprintf(&out, "variant %s\n", v.Name)
		fmt.Fprintf(&out, "    attributes : %s\n", v.Attributes)
		if v.Producer != "" {
			fmt.Fprintf(&out, "    producer   : %s\n", v.Producer)
		} else {
			fmt.Fprintf(&out, "    producer   : <external>\n")
		}
		fmt.Fprintf(&out, "    files      :\n")
		for _, f := range v.Files {
			fmt.Fprintf(&out, "      - %s\n", f)
		}
		fmt.Fprintf(&out, "\n")
	}

	scope := "all builds"
	if report.BuildID != "" {
		scope = "build " + report.BuildID
	}
	fmt.Fprintf(&out, "Invocations (%s)\n", scope)
	fmt.Fprintf(&out, "Total       : %d\n", report.Summary.Total)
	fmt.Fprintf(&out, "Succeeded   : %d\n", report.Summary.Succeeded)
	fmt.Fprintf(&out, "Failed      : %d\n", report.Summary.Failed)
	fmt.Fprintf(&out, "Cached      : %d\n", report.Summary.Cached)
	if len(report.Invocations) > 0 {
		fmt.Fprintf(&out, "\n")
	}
	for _, inv := range report.Invocations {
		cached := ""
		if inv.Cached {
			cached = ", cached"
		}
		fmt.Fprintf(&out, "[%s] %s %s (%s, %s%s, %dms)\n",
			inv.StartedAt.UTC().Format(time.RFC3339), inv.Step, inv.Input, inv.Store, inv.Status, cached, inv.DurationMS)
		if inv.Error != "" {
			fmt.Fprintf(&out, "    error      : %s\n", inv.Error)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, cat *catalogue.Catalogue, src InvocationSource, opts Options) (string, error) {
	report, err := gatherReportData(ctx, cat, src, opts)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, cat *catalogue.Catalogue, src InvocationSource, opts Options) (*Report, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalogue is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	checksum, err := config.ComputeBlake3Hash(cat.Path)
	if err != nil {
		return nil, fmt.Errorf("hash catalogue: %w", err)
	}

	report := &Report{
		Catalogue:   cat.Path,
		Checksum:    checksum,
		Steps:       make([]Step, 0, len(cat.Steps)),
		Variants:    make([]Variant, 0, len(cat.Variants)),
		BuildID:     opts.BuildID,
		Invocations: make([]Invocation, 0),
	}
	for _, s := range cat.Steps {
		cfg := s.Config()
		if cfg == "{}" {
			cfg = ""
		}
		report.Steps = append(report.Steps, Step{
			Name:                 s.Name(),
			Action:               s.ActionName(),
			From:                 s.From().String(),
			To:                   s.To().String(),
			Config:               cfg,
			RequiresDependencies: s.RequiresDependencies(),
			Identity:             s.Identity(),
		})
	}
	for _, v := range cat.Variants {
		report.Variants = append(report.Variants, Variant{
			Name:       v.Name,
			Attributes: v.Attributes.String(),
			Producer:   v.Producer,
			Files:      append([]string(nil), v.Files...),
		})
	}

	if src == nil {
		return report, nil
	}
	invs, err := src.RecentInvocations(ctx, opts.BuildID, limit)
	if err != nil {
		return nil, fmt.Errorf("load invocations: %w", err)
	}
	for _, inv := range invs {
		report.Summary.Total++
		switch inv.Status {
		case history.StatusSucceeded:
			report.Summary.Succeeded++
		case history.StatusFailed:
			report.Summary.Failed++
		}
		if inv.Cached {
			report.Summary.Cached++
		}
		report.Invocations = append(report.Invocations, Invocation{
			ID:         inv.ID,
			BuildID:    inv.BuildID,
			Store:      inv.Store,
			Step:       inv.Step,
			Input:      inv.Input,
			Identity:   inv.Identity,
			Status:     inv.Status,
			Cached:     inv.Cached,
			Error:      inv.Error,
			StartedAt:  inv.StartedAt,
			DurationMS: inv.Duration().Milliseconds(),
		})
	}
	return report, nil
}
