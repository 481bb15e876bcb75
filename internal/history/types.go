// Package history records execution history in SQLite: input snapshots for the
// mutable store, usage of immutable workspaces, and a log of step invocations.
package history

import "time"

// Invocation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// InputSnapshot is the fingerprint of a mutable step's inputs when its
// workspace was last produced.
type InputSnapshot struct {
	Identity  string
	Step      string
	Input     string
	InputKind string
	InputHash string
	DepsHash  string
	BuildID   string
	UpdatedAt time.Time
}

// Matches reports whether other observed the same input content and upstream
// dependencies.
func (s InputSnapshot) Matches(other InputSnapshot) bool {
	return s.InputKind == other.InputKind &&
		s.InputHash == other.InputHash &&
		s.DepsHash == other.DepsHash
}

// WorkspaceUsage tracks when an immutable workspace was created and last read.
type WorkspaceUsage struct {
	Identity  string
	Step      string
	CreatedAt time.Time
	LastUsed  time.Time
}

// Invocation is one entry of the transform log.
type Invocation struct {
	ID         string
	BuildID    string
	Identity   string
	Store      string
	Step       string
	Input      string
	Status     string
	Cached     bool
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the invocation.
func (i Invocation) Duration() time.Duration { return i.FinishedAt.Sub(i.StartedAt) }
