// Package fingerprint computes BLAKE3 content fingerprints for files, directory
// trees and composite cache keys.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// Kind is the filesystem type observed by a snapshot.
type Kind string

const (
	KindMissing   Kind = "missing"
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Snapshot is the content fingerprint of a single filesystem location.
type Snapshot struct {
	Path string
	Kind Kind
	Hash string
}

// Take snapshots path. A missing path is not an error; it yields KindMissing
// with an empty hash.
func Take(path string) (Snapshot, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return Snapshot{Path: abs, Kind: KindMissing}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("stat %q: %w", abs, err)
	}

	if info.IsDir() {
		hash, err := HashTree(abs)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Path: abs, Kind: KindDirectory, Hash: hash}, nil
	}

	hash, err := HashFile(abs)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: abs, Kind: KindFile, Hash: hash}, nil
}

// HashFile computes the BLAKE3 hash of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashTree hashes a directory by its sorted relative paths, entry kinds and file
// contents. Modification times and permissions do not contribute.
func HashTree(root string) (string, error) {
	type entry struct {
		rel  string
		kind Kind
		hash string
	}
	var entries []entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			entries = append(entries, entry{rel: rel, kind: KindDirectory})
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("unsupported file type for %q (%s)", path, d.Type())
		}
		hash, err := HashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{rel: rel, kind: KindFile, hash: hash})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash tree %q: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	parts := make([]string, 0, len(entries)*3)
	for _, e := range entries {
		parts = append(parts, e.rel, string(e.kind), e.hash)
	}
	return Combine(parts...), nil
}

// Combine hashes parts into a single hex key. Each part is length-prefixed so
// ("ab", "c") and ("a", "bc") produce different keys.
func Combine(parts ...string) string {
	h := blake3.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		_, _ = h.Write(size[:])
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Files fingerprints an ordered list of paths. Order is significant.
func Files(paths []string) (string, error) {
	parts := make([]string, 0, len(paths)*2)
	for _, p := range paths {
		snap, err := Take(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(snap.Kind), snap.Hash)
	}
	return Combine(parts...), nil
}
