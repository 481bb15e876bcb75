package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are filesystem types on which flock(2), rename-publish and
// SQLite locking are unreliable.
var remoteFilesystems = map[string]bool{
	"afpfs":   true,
	"cifs":    true,
	"nfs":     true,
	"smbfs":   true,
	"smb2":    true,
	"webdav":  true,
	"fuse":    true,
	"macfuse": true,
	"osxfuse": true,
}

// CheckLocalFilesystem fails when path, or its nearest existing parent, lives
// on a network or FUSE filesystem.
func CheckLocalFilesystem(path string) error {
	return checkLocal(path, "cache directory", "set cache.dir to a local disk", detectFilesystemType)
}

func validateSQLiteFilesystem(path string) error {
	return checkLocal(path, "history database", "set history.path to a local disk", detectFilesystemType)
}

func checkLocal(path, what, hint string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", what)
	}
	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}
	fsType, err := detector(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("%s %q is on %s; file locking requires a local filesystem (%s)", what, path, fsType, hint)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}
