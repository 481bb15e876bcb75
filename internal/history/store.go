package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fixed-width UTC timestamps so text comparison in SQL orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// LoadSnapshot returns the recorded snapshot for identity, or nil if none.
func (s *Store) LoadSnapshot(ctx context.Context, identity string) (*InputSnapshot, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is empty")
	}

	var (
		snap    InputSnapshot
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT identity, step, input, input_kind, input_hash, deps_hash, build_id, updated_at
FROM mutable_snapshot WHERE identity = ?;`, identity).Scan(
		&snap.Identity, &snap.Step, &snap.Input, &snap.InputKind,
		&snap.InputHash, &snap.DepsHash, &snap.BuildID, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", identity, err)
	}
	if snap.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse snapshot time for %q: %w", identity, err)
	}
	return &snap, nil
}

// StoreSnapshot upserts the snapshot for snap.Identity.
func (s *Store) StoreSnapshot(ctx context.Context, snap InputSnapshot) error {
	if snap.Identity == "" {
		return fmt.Errorf("identity is empty")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO mutable_snapshot(identity, step, input, input_kind, input_hash, deps_hash, build_id, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET
  step = excluded.step,
  input = excluded.input,
  input_kind = excluded.input_kind,
  input_hash = excluded.input_hash,
  deps_hash = excluded.deps_hash,
  build_id = excluded.build_id,
  updated_at = excluded.updated_at;
`, snap.Identity, snap.Step, snap.Input, snap.InputKind, snap.InputHash, snap.DepsHash, snap.BuildID,
		snap.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert snapshot %q: %w", snap.Identity, err)
	}
	return nil
}

// DeleteSnapshot forgets the snapshot for identity.
func (s *Store) DeleteSnapshot(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM mutable_snapshot WHERE identity = ?;", identity); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", identity, err)
	}
	return nil
}

// TouchWorkspace marks an immutable workspace as used now, creating the usage
// row on first sight.
func (s *Store) TouchWorkspace(ctx context.Context, identity, step string) error {
	if identity == "" {
		return fmt.Errorf("identity is empty")
	}
	now := s.now().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO immutable_workspace(identity, step, created_at, last_used)
VALUES(?, ?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET last_used = excluded.last_used;
`, identity, step, now, now)
	if err != nil {
		return fmt.Errorf("touch workspace %q: %w", identity, err)
	}
	return nil
}

// StaleWorkspaces lists immutable workspaces not used within olderThan,
// oldest first.
func (s *Store) StaleWorkspaces(ctx context.Context, olderThan time.Duration) ([]WorkspaceUsage, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("olderThan must be positive")
	}
	cutoff := s.now().Add(-olderThan).Format(timeLayout)

	rows, err := s.db.QueryContext(ctx, `
SELECT identity, step, created_at, last_used
FROM immutable_workspace
WHERE last_used < ?
ORDER BY last_used ASC;`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale workspaces: %w", err)
	}
	defer rows.Close()

	var out []WorkspaceUsage
	for rows.Next() {
		var (
			u                 WorkspaceUsage
			created, lastUsed string
		)
		if err := rows.Scan(&u.Identity, &u.Step, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan workspace usage: %w", err)
		}
		if u.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %q: %w", u.Identity, err)
		}
		if u.LastUsed, err = time.Parse(timeLayout, lastUsed); err != nil {
			return nil, fmt.Errorf("parse last_used for %q: %w", u.Identity, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace usage: %w", err)
	}
	return out, nil
}

// ForgetWorkspace drops the usage row for identity.
func (s *Store) ForgetWorkspace(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM immutable_workspace WHERE identity = ?;", identity); err != nil {
		return fmt.Errorf("forget workspace %q: %w", identity, err)
	}
	return nil
}

// RecordInvocation appends inv to the transform log and returns its id.
func (s *Store) RecordInvocation(ctx context.Context, inv Invocation) (string, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.FinishedAt.IsZero() {
		inv.FinishedAt = s.now()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = inv.FinishedAt
	}

	var errText any
	if inv.Error != "" {
		errText = inv.Error
	}
	cached := 0
	if inv.Cached {
		cached = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO transform_log(id, build_id, identity, store, step, input, status, cached, error, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, inv.ID, inv.BuildID, inv.Identity, inv.Store, inv.Step, inv.Input, inv.Status, cached, errText,
		inv.StartedAt.UTC().Format(timeLayout), inv.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("record invocation: %w", err)
	}
	return inv.ID, nil
}

// RecentInvocations returns up to limit log entries, newest first. An empty
// buildID lists all builds.
func (s *Store) RecentInvocations(ctx context.Context, buildID string, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, build_id, identity, store, step, input, status, cached, COALESCE(error, ''), started_at, finished_at
FROM transform_log`
	args := []any{}
	if buildID != "" {
		query += " WHERE build_id = ?"
		args = append(args, buildID)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transform log: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var (
			inv               Invocation
			cached            int
			started, finished string
		)
		if err := rows.Scan(&inv.ID, &inv.BuildID, &inv.Identity, &inv.Store, &inv.Step, &inv.Input,
			&inv.Status, &cached, &inv.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan transform log: %w", err)
		}
		inv.Cached = cached != 0
		if inv.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if inv.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transform log: %w", err)
	}
	return out, nil
}

// PruneInvocations deletes log entries older than retention.
func (s *Store) PruneInvocations(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, "DELETE FROM transform_log WHERE finished_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune transform log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
