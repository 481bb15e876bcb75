// Package cache runs a transform step on one input at most once per
// workspace identity and stores the outputs in a workspace directory.
package cache

import (
	"context"
	"time"

	"github.com/mattjoyce/transmute/internal/history"
	"github.com/mattjoyce/transmute/internal/transform"
)

//go:generate mockgen -destination=mocks/mock_history.go -package=mocks github.com/mattjoyce/transmute/internal/cache SnapshotStore,UsageRecorder,InvocationLog

// Store names, as recorded in events and the invocation log.
const (
	StoreImmutable = "immutable"
	StoreMutable   = "mutable"
)

// Cache executes or reuses one step invocation.
type Cache interface {
	// Invoke returns the step's outputs for inv, or a captured failure in
	// Result.Failure. The error return is reserved for infrastructure
	// failures.
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// SnapshotStore persists the input snapshot of each mutable workspace.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, identity string) (*history.InputSnapshot, error)
	StoreSnapshot(ctx context.Context, snap history.InputSnapshot) error
}

// UsageRecorder tracks immutable workspace use for age-based eviction.
type UsageRecorder interface {
	TouchWorkspace(ctx context.Context, identity, step string) error
	StaleWorkspaces(ctx context.Context, olderThan time.Duration) ([]history.WorkspaceUsage, error)
	ForgetWorkspace(ctx context.Context, identity string) error
}

// InvocationLog receives one entry per invocation.
type InvocationLog interface {
	RecordInvocation(ctx context.Context, inv history.Invocation) (string, error)
}

// Invocation is one step applied to one input artifact.
type Invocation struct {
	Step         *transform.Step
	Input        string
	Dependencies []string
}

// Result is the outcome of an invocation.
type Result struct {
	Identity string
	Files    []string
	Failure  error
	// Cached is set when this call did not physically run the step.
	Cached bool
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool { return r.Failure != nil }
