package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattjoyce/transmute/internal/fingerprint"
	"github.com/mattjoyce/transmute/internal/transform"
)

// Prefixes used by results records for paths relative to the output
// directory and to the input artifact.
const (
	outputPrefix = "o/"
	inputPrefix  = "i/"
)

type outputKind int

const (
	kindFile outputKind = iota
	kindDir
)

type registration struct {
	path string
	kind outputKind
}

// outputCollector records the locations an action registers.
type outputCollector struct {
	outputDir string

	mu      sync.Mutex
	entries []registration
}

var _ transform.Outputs = (*outputCollector)(nil)

func newOutputCollector(outputDir string) *outputCollector {
	return &outputCollector{outputDir: outputDir}
}

func (c *outputCollector) File(path string) { c.add(path, kindFile) }

func (c *outputCollector) Dir(path string) { c.add(path, kindDir) }

func (c *outputCollector) add(path string, kind outputKind) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.outputDir, path)
	}
	c.mu.Lock()
	c.entries = append(c.entries, registration{path: filepath.Clean(path), kind: kind})
	c.mu.Unlock()
}

// relativize checks every registered location and returns them as results
// record entries, in registration order. Locations are checked before
// existence, so an illegal location is reported even if the file is there.
func (c *outputCollector) relativize(step, input string) ([]string, error) {
	c.mu.Lock()
	entries := make([]registration, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	records := make([]string, 0, len(entries))
	for _, e := range entries {
		rec, ok := relativeRecord(e.path, c.outputDir, input)
		if !ok {
			return nil, &ValidationError{
				Step:   step,
				Input:  input,
				Output: e.path,
				Err:    fmt.Errorf("%w: must be the input artifact, inside it, or inside the output directory %s", ErrIllegalOutputLocation, c.outputDir),
			}
		}
		records = append(records, rec)
	}

	for _, e := range entries {
		info, err := os.Stat(e.path)
		switch {
		case err != nil:
			return nil, &ValidationError{Step: step, Input: input, Output: e.path, Err: ErrMissingOutput}
		case e.kind == kindFile && !info.Mode().IsRegular():
			return nil, &ValidationError{Step: step, Input: input, Output: e.path, Err: fmt.Errorf("%w: not a regular file", ErrMissingOutput)}
		case e.kind == kindDir && !info.IsDir():
			return nil, &ValidationError{Step: step, Input: input, Output: e.path, Err: fmt.Errorf("%w: not a directory", ErrMissingOutput)}
		}
	}
	return records, nil
}

func relativeRecord(path, outputDir, input string) (string, bool) {
	if rel, ok := within(path, outputDir); ok {
		return outputPrefix + rel, true
	}
	if rel, ok := within(path, input); ok {
		return inputPrefix + rel, true
	}
	return "", false
}

// within reports whether path is root or below it, returning the slash
// separated relative path ("" for root itself).
func within(path, root string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// resolveRecords turns results record entries back into absolute paths.
func resolveRecords(records []string, outputDir, input string) ([]string, error) {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		var base, rel string
		switch {
		case strings.HasPrefix(rec, outputPrefix):
			base, rel = outputDir, strings.TrimPrefix(rec, outputPrefix)
		case strings.HasPrefix(rec, inputPrefix):
			base, rel = input, strings.TrimPrefix(rec, inputPrefix)
		default:
			return nil, fmt.Errorf("unrecognised output entry %q", rec)
		}
		if rel == "" {
			out = append(out, base)
			continue
		}
		full := filepath.Join(base, filepath.FromSlash(rel))
		if _, ok := within(full, base); !ok {
			return nil, fmt.Errorf("output entry %q escapes its root", rec)
		}
		out = append(out, full)
	}
	return out, nil
}

// hashOutputs fingerprints the workspace entries of records. Entries that
// point into the input artifact are not owned by the workspace and are
// skipped.
func hashOutputs(records []string, outputDir string) (map[string]string, error) {
	hashes := make(map[string]string)
	for _, rec := range records {
		rel, ok := strings.CutPrefix(rec, outputPrefix)
		if !ok {
			continue
		}
		snap, err := fingerprint.Take(filepath.Join(outputDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		hashes[rec] = string(snap.Kind) + ":" + snap.Hash
	}
	return hashes, nil
}

// checkOutputs compares the workspace outputs with the hashes recorded at
// publication. A difference wraps errInconsistentWorkspace.
func checkOutputs(rec Record, outputDir string) error {
	current, err := hashOutputs(rec.Outputs, outputDir)
	if err != nil {
		return err
	}
	for _, entry := range rec.Outputs {
		got, owned := current[entry]
		if !owned {
			continue
		}
		if want := rec.OutputHashes[entry]; want != got {
			return fmt.Errorf("%w: %s", errInconsistentWorkspace, entry)
		}
	}
	return nil
}
