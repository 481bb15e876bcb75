// Package lock provides flock(2)-based file locks that serialize work across
// processes sharing a cache directory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned by TryAcquire when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another process")

const pollInterval = 20 * time.Millisecond

// FileLock is an exclusive lock on a file. The holder's PID is written into the
// file for diagnostics. Keep the lock alive by keeping the handle.
type FileLock struct {
	path string
	f    *os.File
}

// TryAcquire takes the lock at lockPath without waiting.
func TryAcquire(lockPath string) (*FileLock, error) {
	f, err := openLockFile(lockPath)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquire %q: %w", lockPath, ErrLocked)
		}
		return nil, fmt.Errorf("acquire %q: %w", lockPath, err)
	}
	return finish(lockPath, f)
}

// Acquire waits for the lock at lockPath until ctx is done. Locks are
// per open file description, so two Acquire calls in the same process
// exclude each other as well.
func Acquire(ctx context.Context, lockPath string) (*FileLock, error) {
	f, err := openLockFile(lockPath)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return finish(lockPath, f)
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("acquire %q: %w", lockPath, err)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("wait for %q: %w", lockPath, ctx.Err())
		case <-ticker.C:
		}
	}
}

func openLockFile(lockPath string) (*os.File, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func finish(lockPath string, f *os.File) (*FileLock, error) {
	l := &FileLock{path: lockPath, f: f}
	if err := f.Truncate(0); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	return l, nil
}

func (l *FileLock) Path() string { return l.path }

// Release unlocks and closes the file. The lock file itself is left in place;
// removing it would race with a waiter that already opened it.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
