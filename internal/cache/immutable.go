package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/transmute/internal/fingerprint"
	"github.com/mattjoyce/transmute/internal/lock"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/workspace"
)

// ImmutableStore caches steps applied to external artifacts. Workspaces are
// keyed by content and shared across builds and processes. A workspace whose
// outputs were modified after publication is replaced on next use; otherwise
// only Prune removes them.
type ImmutableStore struct {
	root       string
	identities *IdentityCache
	usage      UsageRecorder
	runner
}

var _ Cache = (*ImmutableStore)(nil)

// NewImmutableStore opens the store rooted at root. usage may be nil, in which
// case Prune has nothing to go on.
func NewImmutableStore(root string, identities *IdentityCache, usage UsageRecorder, opts Options) (*ImmutableStore, error) {
	if identities == nil {
		return nil, fmt.Errorf("identity cache is required")
	}
	ws, err := workspace.NewFSManager(filepath.Join(root, "workspaces"))
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	return &ImmutableStore{
		root:       abs,
		identities: identities,
		usage:      usage,
		runner:     newRunner(StoreImmutable, ws, opts),
	}, nil
}

func newRunner(store string, ws workspace.Manager, opts Options) runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("cache")
	}
	buildID := opts.BuildID
	if buildID == "" {
		buildID = uuid.NewString()
	}
	return runner{
		store:   store,
		buildID: buildID,
		events:  opts.Events,
		log:     opts.Log,
		logger:  logger.With("store", store),
		ws:      ws,
		now:     time.Now,
	}
}

// Identity derives the workspace identity for inv. It depends on the input's
// base name and content, never its location, so it is stable across
// checkouts.
func (s *ImmutableStore) Identity(inv Invocation) (string, error) {
	p, err := prepare(inv)
	if err != nil {
		return "", err
	}
	return s.identity(p), nil
}

func (s *ImmutableStore) identity(p prepared) string {
	return fingerprint.Combine(
		StoreImmutable,
		p.inv.Step.Identity(),
		p.inv.Step.SecondaryInputHash(),
		filepath.Base(p.input),
		string(p.snapshot.Kind),
		p.snapshot.Hash,
		p.depsHash,
	)
}

func (s *ImmutableStore) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	started := s.now()
	p, err := prepare(inv)
	if err != nil {
		return Result{}, err
	}
	identity := s.identity(p)

	res, computed, err := s.identities.GetOrCompute(identity, func() (Result, error) {
		if failure := p.missingInput(); failure != nil {
			return Result{Identity: identity, Failure: failure}, nil
		}
		return s.materialize(ctx, identity, p)
	})
	if err != nil {
		return Result{}, err
	}
	if !computed {
		res.Cached = true
	}
	s.record(ctx, p, res, started)
	return res, nil
}

// materialize returns the published workspace for identity, creating it under
// the per-identity file lock if no process has yet.
func (s *ImmutableStore) materialize(ctx context.Context, identity string, p prepared) (Result, error) {
	res, ok, err := s.load(ctx, identity, p)
	if ok || (err != nil && !errors.Is(err, errInconsistentWorkspace)) {
		return s.touched(ctx, identity, p, res, err)
	}

	l, err := lock.Acquire(ctx, s.lockPath(identity))
	if err != nil {
		return Result{}, infraErr("lock workspace", identity, err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			s.logger.Warn("failed to release workspace lock", "identity", identity, "error", err)
		}
	}()

	// Another process may have published or repaired the workspace while we
	// waited.
	publish := s.ws.Publish
	res, ok, err = s.load(ctx, identity, p)
	switch {
	case ok:
		return s.touched(ctx, identity, p, res, nil)
	case errors.Is(err, errInconsistentWorkspace):
		s.logger.Warn("replacing inconsistent workspace", "identity", identity, "step", p.inv.Step.Name(), "error", err)
		publish = s.ws.Replace
	case err != nil:
		return Result{}, err
	}

	res, err = s.execute(ctx, identity, p, filepath.Base(p.input), publish)
	if err != nil {
		if !errors.Is(err, workspace.ErrExists) {
			return Result{}, err
		}
		res, ok, err = s.load(ctx, identity, p)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, infraErr("publish workspace", identity,
				fmt.Errorf("workspace disappeared after a concurrent publish"))
		}
	}
	if res.Failed() {
		return res, nil
	}
	return s.touched(ctx, identity, p, res, nil)
}

func (s *ImmutableStore) touched(ctx context.Context, identity string, p prepared, res Result, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if s.usage != nil {
		if err := s.usage.TouchWorkspace(ctx, identity, p.inv.Step.Name()); err != nil {
			return Result{}, infraErr("record workspace use", identity, err)
		}
	}
	return res, nil
}

func (s *ImmutableStore) lockPath(identity string) string {
	return filepath.Join(s.root, "locks", identity+".lock")
}

// PruneReport summarizes a Prune run.
type PruneReport struct {
	Removed []string
	Skipped []string
	Staging int
}

// Prune removes workspaces the usage recorder reports unused for olderThan,
// plus abandoned staging directories. Workspaces locked by another process
// are skipped.
func (s *ImmutableStore) Prune(ctx context.Context, olderThan time.Duration) (PruneReport, error) {
	var report PruneReport
	if s.usage == nil {
		return report, fmt.Errorf("prune requires a usage recorder")
	}

	stale, err := s.usage.StaleWorkspaces(ctx, olderThan)
	if err != nil {
		return report, infraErr("list stale workspaces", "", err)
	}

	for _, u := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		l, err := lock.TryAcquire(s.lockPath(u.Identity))
		if errors.Is(err, lock.ErrLocked) {
			report.Skipped = append(report.Skipped, u.Identity)
			continue
		}
		if err != nil {
			return report, infraErr("lock workspace", u.Identity, err)
		}

		err = s.ws.Remove(ctx, u.Identity)
		if err == nil {
			err = s.usage.ForgetWorkspace(ctx, u.Identity)
		}
		_ = l.Release()
		if err != nil {
			return report, infraErr("remove workspace", u.Identity, err)
		}
		s.identities.Forget(u.Identity)
		report.Removed = append(report.Removed, u.Identity)
		s.logger.Info("pruned workspace", "identity", u.Identity, "step", u.Step, "last_used", u.LastUsed)
	}

	cleaned, err := s.ws.Cleanup(ctx, olderThan)
	if err != nil {
		return report, infraErr("clean staging directories", "", err)
	}
	report.Staging = cleaned.DeletedDirs
	return report, nil
}
