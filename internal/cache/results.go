package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const recordVersion = 1

// Record is the results.yaml document stored in every workspace.
type Record struct {
	Version   int       `yaml:"version"`
	Identity  string    `yaml:"identity"`
	Step      string    `yaml:"step"`
	Input     string    `yaml:"input"`
	InputHash string    `yaml:"input_hash"`
	BuildID   string    `yaml:"build_id,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	Outputs   []string  `yaml:"outputs"`
	// OutputHashes maps each workspace output entry to its kind and BLAKE3
	// hash at publication.
	OutputHashes map[string]string `yaml:"output_hashes,omitempty"`
}

// ReadRecord loads and checks a results record.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("parse results record: %w", err)
	}
	if r.Version != recordVersion {
		return Record{}, fmt.Errorf("results record version %d is not supported", r.Version)
	}
	if r.Identity == "" {
		return Record{}, fmt.Errorf("results record has no identity")
	}
	if r.Outputs == nil {
		r.Outputs = []string{}
	}
	return r, nil
}

func writeRecord(path string, r Record) error {
	r.Version = recordVersion
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal results record: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
