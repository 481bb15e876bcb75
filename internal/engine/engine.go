// Package engine wires the catalogue, variant search, execution graph and
// caches into one build session.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/transmute/internal/actions"
	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/cache"
	"github.com/mattjoyce/transmute/internal/catalogue"
	"github.com/mattjoyce/transmute/internal/chain"
	"github.com/mattjoyce/transmute/internal/config"
	"github.com/mattjoyce/transmute/internal/events"
	"github.com/mattjoyce/transmute/internal/graph"
	"github.com/mattjoyce/transmute/internal/history"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/plugin"
	"github.com/mattjoyce/transmute/internal/storage"
	"github.com/mattjoyce/transmute/internal/transform"
	"github.com/mattjoyce/transmute/internal/variant"
)

const eventBuffer = 256

// Engine is one build session. It is safe for concurrent Run calls; nodes
// and in-flight results are shared between them.
type Engine struct {
	cfg     *config.Config
	buildID string
	logger  *slog.Logger

	Catalogue *catalogue.Catalogue
	Actions   *actions.Registry
	History   *history.Store
	Events    *events.Hub

	db         *sql.DB
	immutables *cache.IdentityCache
	mutables   *cache.IdentityCache
	immutable  *cache.ImmutableStore
	mutable    *cache.MutableStore
	search     *variant.Search
	registry   *graph.Registry
	scheduler  *graph.Scheduler
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	buildID string
	actions *actions.Registry
}

// WithBuildID fixes the build id instead of generating one.
func WithBuildID(id string) Option {
	return func(o *openOptions) { o.buildID = id }
}

// WithActions replaces the built-in action registry. Plugins from the
// configured plugin directories are still added to it.
func WithActions(r *actions.Registry) Option {
	return func(o *openOptions) { o.actions = r }
}

// Open loads the catalogue named by cfg and prepares the caches under
// cfg.Cache.Dir.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buildID == "" {
		o.buildID = uuid.NewString()
	}
	if o.actions == nil {
		o.actions = actions.Builtins()
	}

	logger := log.WithComponent("engine").With("build_id", o.buildID)

	if len(cfg.PluginDirs) > 0 {
		plugins, err := plugin.DiscoverMany(cfg.PluginDirs, pluginLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("plugin discovery: %w", err)
		}
		if err := o.actions.RegisterPlugins(plugins); err != nil {
			return nil, err
		}
		logger.Info("plugin discovery complete", "count", len(plugins.Names()))
	}

	if err := ensureCacheDir(cfg); err != nil {
		return nil, err
	}

	cat, err := catalogue.Load(cfg.Catalogue, o.actions)
	if err != nil {
		return nil, err
	}
	logger.Debug("catalogue loaded", "path", cat.Path, "steps", len(cat.Steps), "variants", len(cat.Variants))

	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	hist := history.NewStore(db)
	hub := events.NewHub(eventBuffer)

	e := &Engine{
		cfg:        cfg,
		buildID:    o.buildID,
		logger:     logger,
		Catalogue:  cat,
		Actions:    o.actions,
		History:    hist,
		Events:     hub,
		db:         db,
		immutables: cache.NewIdentityCache(),
		mutables:   cache.NewIdentityCache(),
		search:     variant.NewSearch(attr.NewMatcher(attr.ExactSchema{}), cfg.Search.MaxDepth),
		scheduler:  graph.NewScheduler(graph.WithEvents(hub)),
	}

	storeOpts := cache.Options{BuildID: o.buildID, Events: hub, Log: hist}
	e.immutable, err = cache.NewImmutableStore(filepath.Join(cfg.Cache.Dir, "immutable"), e.immutables, hist, storeOpts)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.mutable, err = cache.NewMutableStore(filepath.Join(cfg.Cache.Dir, "mutable"), e.mutables, hist, storeOpts)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	executor := chain.NewExecutor(e.immutable, e.mutable)
	e.registry = graph.NewRegistry(executor, graph.WithDependencyProvider(cat))
	return e, nil
}

// BuildID identifies this session in history and events.
func (e *Engine) BuildID() string { return e.buildID }

// Roots returns the named catalogue variants, or all of them when names is
// empty.
func (e *Engine) Roots(names []string) ([]*transform.Variant, error) {
	if len(names) == 0 {
		return e.Catalogue.Variants, nil
	}
	roots := make([]*transform.Variant, 0, len(names))
	for _, name := range names {
		v, ok := e.Catalogue.Variant(name)
		if !ok {
			return nil, fmt.Errorf("unknown variant %q", name)
		}
		roots = append(roots, v)
	}
	return roots, nil
}

// Candidates lists every minimum-depth chain producing requested.
func (e *Engine) Candidates(requested attr.Set, names []string) ([]transform.TransformedVariant, error) {
	roots, err := e.Roots(names)
	if err != nil {
		return nil, err
	}
	return e.search.FindMatches(requested, roots, e.Catalogue.Steps), nil
}

// Select resolves requested to exactly one transformed variant.
func (e *Engine) Select(requested attr.Set, names []string) (transform.TransformedVariant, error) {
	roots, err := e.Roots(names)
	if err != nil {
		return transform.TransformedVariant{}, err
	}
	return e.search.Select(requested, roots, e.Catalogue.Steps)
}

// Outcome is the result of Run.
type Outcome struct {
	Variant transform.TransformedVariant
	Report  graph.RunReport
	// Results holds one subject per root file, in root order.
	Results []transform.Subject
}

// Executions counts the step invocations this run physically ran. Results
// reused from a cache or from a concurrent run are not counted.
func (o Outcome) Executions() int { return o.Report.Executions() }

// Files returns every output file of the successful results.
func (o Outcome) Files() []string {
	var files []string
	for _, s := range o.Results {
		if !s.Failed() {
			files = append(files, s.Files()...)
		}
	}
	return files
}

// Failed reports whether any root file failed to transform.
func (o Outcome) Failed() bool {
	for _, s := range o.Results {
		if s.Failed() {
			return true
		}
	}
	return false
}

// Err joins the failures of all results.
func (o Outcome) Err() error {
	var errs []error
	for _, s := range o.Results {
		if s.Failed() {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), s.Failure()))
		}
	}
	return errors.Join(errs...)
}

// Run selects the variant matching requested and materializes it. Step
// failures are reported in the outcome; the error covers selection and
// infrastructure problems.
func (e *Engine) Run(ctx context.Context, requested attr.Set, names []string) (Outcome, error) {
	tv, err := e.Select(requested, names)
	if err != nil {
		return Outcome{}, err
	}
	return e.Materialize(ctx, tv)
}

// Materialize executes tv's chain for every file of its root variant.
func (e *Engine) Materialize(ctx context.Context, tv transform.TransformedVariant) (Outcome, error) {
	nodes, err := e.registry.Expand(tv)
	if err != nil {
		return Outcome{}, err
	}

	started := time.Now()
	e.logger.Info("materializing variant", "variant", tv.String(), "files", len(nodes))
	report, err := e.scheduler.Run(ctx, nodes, e.cfg.Execution.Workers)
	if err != nil {
		return Outcome{Variant: tv, Report: report}, err
	}

	out := Outcome{Variant: tv, Report: report}
	for _, n := range nodes {
		res, _ := n.Result()
		out.Results = append(out.Results, res)
	}
	e.logger.Info("variant materialized", "variant", tv.String(), "failed", out.Failed(),
		"executions", out.Executions(), "nodes", e.registry.Len(), "memoized", e.immutables.Len()+e.mutables.Len(),
		"duration", time.Since(started))
	return out, nil
}

// PruneReport summarizes Prune.
type PruneReport struct {
	Workspaces  cache.PruneReport
	Invocations int64
}

// Prune evicts immutable workspaces and invocation records older than the
// configured retention windows. A zero window keeps everything.
func (e *Engine) Prune(ctx context.Context) (PruneReport, error) {
	var report PruneReport
	if e.cfg.Cache.ImmutableRetention > 0 {
		ws, err := e.immutable.Prune(ctx, e.cfg.Cache.ImmutableRetention)
		report.Workspaces = ws
		if err != nil {
			return report, fmt.Errorf("prune workspaces: %w", err)
		}
	}
	n, err := e.History.PruneInvocations(ctx, e.cfg.Cache.InvocationRetention)
	report.Invocations = n
	if err != nil {
		return report, fmt.Errorf("prune invocations: %w", err)
	}
	return report, nil
}

// Close releases the history database. In-flight results are forgotten.
func (e *Engine) Close() error {
	e.immutables.Close()
	e.mutables.Close()
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func pluginLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	}
}

// ensureCacheDir creates the cache root. Network filesystems are rejected;
// workspace locks are unreliable there.
func ensureCacheDir(cfg *config.Config) error {
	if err := storage.CheckLocalFilesystem(cfg.Cache.Dir); err != nil {
		return err
	}
	return os.MkdirAll(cfg.Cache.Dir, 0o755)
}
