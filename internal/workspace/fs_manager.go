package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// fsWorkspaceManager manages workspace directories on local disk. Staging
// directories are siblings of the final location so publishing is a single
// rename on the same filesystem.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base directory: %w", err)
	}

	return &fsWorkspaceManager{
		baseDir: abs,
		now:     time.Now,
	}, nil
}

// BaseDir returns the managed root.
func (m *fsWorkspaceManager) BaseDir() string { return m.baseDir }

// Stage creates a fresh staging directory for identity.
func (m *fsWorkspaceManager) Stage(ctx context.Context, identity string) (Staged, error) {
	if err := ctx.Err(); err != nil {
		return Staged{}, err
	}

	final, err := m.workspacePath(identity)
	if err != nil {
		return Staged{}, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("create workspace base directory: %w", err)
	}

	dir, err := os.MkdirTemp(m.baseDir, stagingPrefix+identity+"-")
	if err != nil {
		return Staged{}, fmt.Errorf("stage workspace %q: %w", identity, err)
	}
	if err := os.Mkdir(filepath.Join(dir, OutputDirName), 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return Staged{}, fmt.Errorf("create output directory for %q: %w", identity, err)
	}

	return Staged{Workspace: Workspace{Identity: identity, Dir: dir}, final: final}, nil
}

// Publish renames the staged directory into place.
func (m *fsWorkspaceManager) Publish(ctx context.Context, staged Staged) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if staged.final == "" {
		return Workspace{}, fmt.Errorf("workspace %q was not staged by this manager", staged.Identity)
	}

	if _, err := os.Stat(staged.final); err == nil {
		return Workspace{}, fmt.Errorf("publish workspace %q: %w", staged.Identity, ErrExists)
	} else if !os.IsNotExist(err) {
		return Workspace{}, fmt.Errorf("stat workspace %q: %w", staged.Identity, err)
	}

	if err := os.Rename(staged.Dir, staged.final); err != nil {
		if isExistErr(err) {
			return Workspace{}, fmt.Errorf("publish workspace %q: %w", staged.Identity, ErrExists)
		}
		return Workspace{}, fmt.Errorf("publish workspace %q: %w", staged.Identity, err)
	}
	return Workspace{Identity: staged.Identity, Dir: staged.final}, nil
}

// Replace moves any existing workspace aside, publishes staged, then deletes
// the old copy.
func (m *fsWorkspaceManager) Replace(ctx context.Context, staged Staged) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if staged.final == "" {
		return Workspace{}, fmt.Errorf("workspace %q was not staged by this manager", staged.Identity)
	}

	var trash string
	if _, err := os.Stat(staged.final); err == nil {
		trash = filepath.Join(m.baseDir, fmt.Sprintf("%s%s-%d", trashPrefix, staged.Identity, m.now().UnixNano()))
		if err := os.Rename(staged.final, trash); err != nil {
			return Workspace{}, fmt.Errorf("move aside workspace %q: %w", staged.Identity, err)
		}
	} else if !os.IsNotExist(err) {
		return Workspace{}, fmt.Errorf("stat workspace %q: %w", staged.Identity, err)
	}

	if err := os.Rename(staged.Dir, staged.final); err != nil {
		return Workspace{}, fmt.Errorf("publish workspace %q: %w", staged.Identity, err)
	}
	if trash != "" {
		if err := os.RemoveAll(trash); err != nil {
			return Workspace{}, fmt.Errorf("remove replaced workspace %q: %w", staged.Identity, err)
		}
	}
	return Workspace{Identity: staged.Identity, Dir: staged.final}, nil
}

// Discard removes a staging directory.
func (m *fsWorkspaceManager) Discard(staged Staged) error {
	if staged.Dir == "" || staged.final == "" {
		return nil
	}
	if err := os.RemoveAll(staged.Dir); err != nil {
		return fmt.Errorf("discard staged workspace %q: %w", staged.Identity, err)
	}
	return nil
}

// Open returns an existing published workspace.
func (m *fsWorkspaceManager) Open(ctx context.Context, identity string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(identity)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace %q: %w", identity, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for %q is not a directory", identity)
	}

	return Workspace{Identity: identity, Dir: path}, nil
}

// Remove deletes a published workspace.
func (m *fsWorkspaceManager) Remove(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := m.workspacePath(identity)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace %q: %w", identity, err)
	}
	return nil
}

// Cleanup removes staging and trash directories older than olderThan, based
// on directory modification time. Published workspaces are left alone.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := entry.Name()
		if !entry.IsDir() || !(strings.HasPrefix(name, stagingPrefix) || strings.HasPrefix(name, trashPrefix)) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", name, err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.baseDir, name)); err != nil {
			return report, fmt.Errorf("remove abandoned workspace %q: %w", name, err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(identity string) (string, error) {
	if err := validateIdentity(identity); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, identity), nil
}

func validateIdentity(identity string) error {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" {
		return fmt.Errorf("workspace identity is empty")
	}
	if trimmed != identity || trimmed == "." || trimmed == ".." || strings.HasPrefix(trimmed, ".") {
		return fmt.Errorf("workspace identity %q is invalid", identity)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("workspace identity %q must not contain path separators", identity)
	}
	return nil
}

// rename(2) onto a non-empty directory fails with EEXIST or ENOTEMPTY.
func isExistErr(err error) bool {
	return errors.Is(err, os.ErrExist) || errors.Is(err, syscall.ENOTEMPTY)
}
