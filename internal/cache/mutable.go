package cache

import (
	"context"
	"fmt"

	"github.com/mattjoyce/transmute/internal/fingerprint"
	"github.com/mattjoyce/transmute/internal/history"
	"github.com/mattjoyce/transmute/internal/workspace"
)

// MutableStore caches steps applied to artifacts produced by the local build.
// Workspaces live under the build tree and are reused only while the input
// snapshot recorded by the previous execution still matches.
type MutableStore struct {
	identities *IdentityCache
	snapshots  SnapshotStore
	runner
}

var _ Cache = (*MutableStore)(nil)

// NewMutableStore opens the store for one build rooted at buildRoot.
func NewMutableStore(buildRoot string, identities *IdentityCache, snapshots SnapshotStore, opts Options) (*MutableStore, error) {
	if identities == nil {
		return nil, fmt.Errorf("identity cache is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	ws, err := workspace.NewFSManager(buildRoot)
	if err != nil {
		return nil, err
	}
	return &MutableStore{
		identities: identities,
		snapshots:  snapshots,
		runner:     newRunner(StoreMutable, ws, opts),
	}, nil
}

// The identity is location based; content changes are caught by the snapshot.
func (s *MutableStore) identity(p prepared) string {
	return fingerprint.Combine(
		StoreMutable,
		p.inv.Step.Identity(),
		p.inv.Step.SecondaryInputHash(),
		p.input,
		p.depsHash,
	)
}

func (s *MutableStore) Invoke(ctx context.Context, inv Invocation) (Result, error) {
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

func (s *MutableStore) materialize(ctx context.Context, identity string, p prepared) (Result, error) {
	current := history.InputSnapshot{
		Identity:  identity,
		Step:      p.inv.Step.Name(),
		Input:     p.input,
		InputKind: string(p.snapshot.Kind),
		InputHash: p.snapshot.Hash,
		DepsHash:  p.depsHash,
		BuildID:   s.buildID,
	}

	previous, err := s.snapshots.LoadSnapshot(ctx, identity)
	if err != nil {
		return Result{}, infraErr("load input snapshot", identity, err)
	}
	if previous != nil && previous.Matches(current) {
		res, ok, err := s.load(ctx, identity, p)
		if err == nil && ok {
			s.logger.Debug("reusing mutable workspace", "identity", identity, "step", current.Step)
			return res, nil
		}
		// A missing or unreadable workspace under the build tree is rebuilt.
		if err != nil {
			s.logger.Warn("discarding unreadable workspace", "identity", identity, "error", err)
		}
	} else if previous != nil {
		s.logger.Debug("input changed since last execution", "identity", identity, "step", current.Step)
	}

	res, err := s.execute(ctx, identity, p, p.input, s.ws.Replace)
	if err != nil || res.Failed() {
		return res, err
	}
	if err := s.snapshots.StoreSnapshot(ctx, current); err != nil {
		return Result{}, infraErr("store input snapshot", identity, err)
	}
	return res, nil
}
