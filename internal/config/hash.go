package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFilename is the manifest written next to the config file.
const ChecksumsFilename = ".checksums"

// ChecksumManifest pins the BLAKE3 hash of files, keyed by path relative to
// the manifest's directory.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// WriteChecksums hashes files and writes the manifest into dir. Files must
// live under dir.
func WriteChecksums(dir string, files []string) (*ChecksumManifest, error) {
	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}

	for _, file := range files {
		rel, err := filepath.Rel(dir, file)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%s is not under %s", file, dir)
		}
		hash, err := ComputeBlake3Hash(file)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", file, err)
		}
		manifest.Hashes[filepath.ToSlash(rel)] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ChecksumsFilename), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads the manifest from dir.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumsFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'transmute catalogue hash-update')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	return &manifest, nil
}

// VerifyCatalogue checks the catalogue against the manifest next to the
// config file.
func VerifyCatalogue(cfg *Config) error {
	if cfg.SourcePath == "" {
		return fmt.Errorf("integrity verification needs a config file")
	}
	dir := filepath.Dir(cfg.SourcePath)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(dir, cfg.Catalogue)
	if err != nil {
		return fmt.Errorf("catalogue %s: %w", cfg.Catalogue, err)
	}
	expected, ok := manifest.Hashes[filepath.ToSlash(rel)]
	if !ok {
		return fmt.Errorf("catalogue %s has no hash in checksums (run 'transmute catalogue hash-update')", rel)
	}
	if err := VerifyFileHash(cfg.Catalogue, expected); err != nil {
		return fmt.Errorf("catalogue verification failed: %w\n"+
			"If you edited the catalogue intentionally, run: transmute catalogue hash-update", err)
	}
	return nil
}
