package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"time"
)

// ErrExists is returned by Publish when the final workspace is already present.
var ErrExists = errors.New("workspace already exists")

// Layout names inside a workspace directory.
const (
	OutputDirName   = "o"
	ResultsFileName = "results.yaml"
)

// Workspace is a published cache slot for one step applied to one input.
type Workspace struct {
	Identity string
	Dir      string
}

// OutputDir is where the step writes its outputs.
func (w Workspace) OutputDir() string { return filepath.Join(w.Dir, OutputDirName) }

// ResultsFile is the path of the results record.
func (w Workspace) ResultsFile() string { return filepath.Join(w.Dir, ResultsFileName) }

// Staged is a workspace under construction. It is invisible to Open until
// published.
type Staged struct {
	Workspace
	final string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs workspace lifecycle under one root directory.
type Manager interface {
	// Stage creates an empty staging directory for identity, with its output
	// directory already present.
	Stage(ctx context.Context, identity string) (Staged, error)

	// Publish atomically moves a staged workspace into place. It fails with
	// ErrExists when a workspace for the identity is already published.
	Publish(ctx context.Context, staged Staged) (Workspace, error)

	// Replace publishes staged, discarding any existing workspace.
	Replace(ctx context.Context, staged Staged) (Workspace, error)

	// Discard removes a staged workspace that will not be published.
	Discard(staged Staged) error

	// Open resolves a published workspace. A missing workspace yields an error
	// matching os.ErrNotExist.
	Open(ctx context.Context, identity string) (Workspace, error)

	// Remove deletes a published workspace. Removing a missing one is not an
	// error.
	Remove(ctx context.Context, identity string) error

	// Cleanup removes abandoned staging directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
