package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/config"
	"github.com/mattjoyce/transmute/internal/doctor"
	"github.com/mattjoyce/transmute/internal/engine"
	"github.com/mattjoyce/transmute/internal/events"
	"github.com/mattjoyce/transmute/internal/inspect"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/plugin"
	"github.com/mattjoyce/transmute/internal/transform"
	"github.com/mattjoyce/transmute/internal/variant"
)

// requestFlags are shared by select and run.
type requestFlags struct {
	configPath string
	variants   string
	jsonOut    bool
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&r.variants, "variant", "", "Comma-separated root variants to search (default: all)")
	fs.BoolVar(&r.jsonOut, "json", false, "Output in JSON")
}

func (r *requestFlags) variantNames() []string {
	var names []string
	for _, n := range strings.Split(r.variants, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// parseRequest joins positional attribute specs and parses them.
func parseRequest(positional []string) (attr.Set, error) {
	if len(positional) == 0 {
		return attr.Set{}, errors.New("requested attributes are required")
	}
	return attr.Parse(strings.Join(positional, ","))
}

type chainJSON struct {
	Root       string   `json:"root"`
	Steps      []string `json:"steps"`
	Attributes string   `json:"attributes"`
	Files      []string `json:"files"`
}

func describeChain(tv transform.TransformedVariant) chainJSON {
	out := chainJSON{
		Root:       tv.Root.Name,
		Steps:      make([]string, 0, tv.Depth()),
		Attributes: tv.Attributes().String(),
		Files:      tv.Root.Files,
	}
	for _, s := range tv.Chain().Steps() {
		out.Steps = append(out.Steps, s.Name())
	}
	return out
}

func printChain(tv transform.TransformedVariant) {
	c := describeChain(tv)
	steps := "<none>"
	if len(c.Steps) > 0 {
		steps = strings.Join(c.Steps, " -> ")
	}
	fmt.Printf("Variant     : %s\n", c.Root)
	fmt.Printf("Chain       : %s\n", steps)
	fmt.Printf("Attributes  : %s\n", c.Attributes)
}

// printSelectionError explains a failed selection on stderr.
func printSelectionError(err error) {
	var noMatch *variant.NoMatchError
	var ambiguous *variant.AmbiguousMatchError
	switch {
	case errors.As(err, &noMatch):
		fmt.Fprintf(os.Stderr, "No variant matches %s\n", noMatch.Requested)
		for _, c := range noMatch.Candidates {
			fmt.Fprintf(os.Stderr, "  candidate: %s\n", c)
		}
	case errors.As(err, &ambiguous):
		fmt.Fprintf(os.Stderr, "Ambiguous request %s, %d chains of equal length:\n", ambiguous.Requested, len(ambiguous.Matches))
		for _, m := range ambiguous.Matches {
			fmt.Fprintf(os.Stderr, "  %s\n", m)
		}
		fmt.Fprintln(os.Stderr, "Narrow the request or restrict roots with --variant.")
	default:
		fmt.Fprintf(os.Stderr, "Selection failed: %v\n", err)
	}
}

func runSelect(args []string) int {
	var rf requestFlags
	var all bool
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	rf.register(fs)
	fs.BoolVar(&all, "all", false, "List every minimum-depth candidate")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	requested, err := parseRequest(positional)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(rf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	setupLogging(cfg)

	e, err := engine.Open(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open engine: %v\n", err)
		return 1
	}
	defer e.Close()

	var chosen []transform.TransformedVariant
	if all {
		chosen, err = e.Candidates(requested, rf.variantNames())
		if err == nil && len(chosen) == 0 {
			fmt.Fprintf(os.Stderr, "No variant matches %s\n", requested)
			return 1
		}
	} else {
		var tv transform.TransformedVariant
		tv, err = e.Select(requested, rf.variantNames())
		chosen = []transform.TransformedVariant{tv}
	}
	if err != nil {
		printSelectionError(err)
		return 1
	}

	if rf.jsonOut {
		out := make([]chainJSON, 0, len(chosen))
		for _, tv := range chosen {
			out = append(out, describeChain(tv))
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	for i, tv := range chosen {
		if i > 0 {
			fmt.Println()
		}
		printChain(tv)
	}
	return 0
}

type failureJSON struct {
	Node   string `json:"node"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type runJSON struct {
	BuildID    string        `json:"build_id"`
	Chain      chainJSON     `json:"chain"`
	Outputs    []string      `json:"outputs"`
	Executions int           `json:"executions"`
	Failures   []failureJSON `json:"failures,omitempty"`
}

func runRun(args []string) int {
	var rf requestFlags
	var workers int
	var buildID string
	var showEvents bool
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	rf.register(fs)
	fs.IntVar(&workers, "workers", 0, "Concurrent steps (default: execution.workers)")
	fs.StringVar(&buildID, "build-id", "", "Build id recorded in history (default: random)")
	fs.BoolVar(&showEvents, "events", false, "Print node events to stderr as they finish")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	requested, err := parseRequest(positional)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if workers < 0 {
		fmt.Fprintln(os.Stderr, "Error: --workers must be positive")
		return 1
	}

	cfg, err := loadConfig(rf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if workers > 0 {
		cfg.Execution.Workers = workers
	}
	setupLogging(cfg)
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []engine.Option
	if buildID != "" {
		opts = append(opts, engine.WithBuildID(buildID))
	}
	e, err := engine.Open(ctx, cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open engine: %v\n", err)
		return 1
	}
	defer e.Close()
	logger.Info("transmute run", "version", version, "build_id", e.BuildID(), "requested", requested.String())

	if showEvents {
		sub, unsubscribe := e.Events.Subscribe()
		printed := make(map[int64]bool)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range sub {
				printed[ev.ID] = true
				printEvent(ev)
			}
		}()
		defer func() {
			unsubscribe()
			<-done
			// The subscription drops events when the printer falls behind;
			// recover those still held by the hub's buffer.
			for _, ev := range e.Events.SnapshotSince(0) {
				if !printed[ev.ID] {
					printEvent(ev)
				}
			}
		}()
	}

	out, err := e.Run(ctx, requested, rf.variantNames())
	if err != nil {
		var noMatch *variant.NoMatchError
		var ambiguous *variant.AmbiguousMatchError
		if errors.As(err, &noMatch) || errors.As(err, &ambiguous) {
			printSelectionError(err)
		} else {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		}
		return 1
	}

	var failures []failureJSON
	for _, n := range out.Report.Failures() {
		f := failureJSON{Node: n.Name, Status: string(n.Status)}
		if err := n.Subject.Failure(); err != nil {
			f.Error = err.Error()
		}
		failures = append(failures, f)
	}

	if rf.jsonOut {
		data, _ := json.MarshalIndent(runJSON{
			BuildID:    e.BuildID(),
			Chain:      describeChain(out.Variant),
			Outputs:    nonNil(out.Files()),
			Executions: out.Executions(),
			Failures:   failures,
		}, "", "  ")
		fmt.Println(string(data))
	} else {
		printChain(out.Variant)
		fmt.Printf("Build       : %s\n", e.BuildID())
		fmt.Printf("Executed    : %d step(s)\n", out.Executions())
		for _, f := range out.Files() {
			fmt.Println(f)
		}
		for _, f := range failures {
			if f.Error != "" {
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", strings.ToUpper(f.Status), f.Node, f.Error)
			} else {
				fmt.Fprintf(os.Stderr, "%s %s\n", strings.ToUpper(f.Status), f.Node)
			}
		}
	}

	if out.Failed() {
		return 2
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func printEvent(ev events.Event) {
	switch ev.Type {
	case events.NodeFinished:
		var p events.NodePayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		if p.Error != "" {
			fmt.Fprintf(os.Stderr, "[%s] %-9s %s: %s\n", ev.At.Format(time.TimeOnly), p.Status, p.Name, p.Error)
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] %-9s %s\n", ev.At.Format(time.TimeOnly), p.Status, p.Name)
	case events.TransformStarted:
		var p events.TransformPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] executing %s on %s (%s)\n", ev.At.Format(time.TimeOnly), p.Step, filepath.Base(p.Input), p.Store)
	}
}

func runInspect(args []string) int {
	var configPath, buildID string
	var limit int
	var jsonOut bool

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&buildID, "build", "", "Only list invocations of this build")
	fs.IntVar(&limit, "limit", inspect.DefaultLimit, "Maximum invocations to list")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	setupLogging(cfg)

	ctx := context.Background()
	e, err := engine.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open engine: %v\n", err)
		return 1
	}
	defer e.Close()

	opts := inspect.Options{BuildID: buildID, Limit: limit}
	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(ctx, e.Catalogue, e.History, opts)
		report += "\n"
	} else {
		report, err = inspect.BuildReport(ctx, e.Catalogue, e.History, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

type pruneJSON struct {
	Removed     []string `json:"removed"`
	Skipped     []string `json:"skipped,omitempty"`
	Staging     int      `json:"staging_dirs"`
	Invocations int64    `json:"invocations"`
}

func runCachePrune(args []string) int {
	var configPath string
	var olderThan time.Duration
	var jsonOut bool

	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.DurationVar(&olderThan, "older-than", 0, "Override cache.immutable_retention")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if olderThan < 0 {
		fmt.Fprintln(os.Stderr, "Error: --older-than must not be negative")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if olderThan > 0 {
		cfg.Cache.ImmutableRetention = olderThan
	}
	setupLogging(cfg)

	ctx := context.Background()
	e, err := engine.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open engine: %v\n", err)
		return 1
	}
	defer e.Close()

	report, err := e.Prune(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(pruneJSON{
			Removed:     nonNil(report.Workspaces.Removed),
			Skipped:     report.Workspaces.Skipped,
			Staging:     report.Workspaces.Staging,
			Invocations: report.Invocations,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("Removed workspaces : %d\n", len(report.Workspaces.Removed))
	fmt.Printf("Skipped (in use)   : %d\n", len(report.Workspaces.Skipped))
	fmt.Printf("Staging dirs       : %d\n", report.Workspaces.Staging)
	fmt.Printf("Invocation records : %d\n", report.Invocations)
	return 0
}

func runCatalogueHashUpdate(args []string) int {
	var configPath string
	var verbose, verboseShort bool

	fs := flag.NewFlagSet("hash-update", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigWith(configPath, config.LoadUnverified)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.SourcePath == "" {
		fmt.Fprintln(os.Stderr, "Error: hash-update needs a config file; none was found")
		return 1
	}

	dir := filepath.Dir(cfg.SourcePath)
	manifest, err := config.WriteChecksums(dir, []string{cfg.Catalogue})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update checksums in %s: %v\n", dir, err)
		return 1
	}

	if verbose || verboseShort {
		for file, hash := range manifest.Hashes {
			fmt.Printf("  HASH %s %s\n", hash, file)
		}
	}
	fmt.Printf("Updated %s\n", filepath.Join(dir, config.ChecksumsFilename))
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	var registry *plugin.Registry
	var existing []string
	for _, dir := range cfg.PluginDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			existing = append(existing, dir)
		}
	}
	if len(existing) > 0 {
		registry, err = plugin.DiscoverMany(existing, func(level, msg string, args ...any) {})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Plugin discovery error: %v\n", err)
			return 1
		}
	}

	doc := doctor.New(cfg, registry)
	result := doc.Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}
