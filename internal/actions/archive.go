package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/mattjoyce/transmute/internal/transform"
)

// Unzip extracts a zip archive into <output dir>/<base without .zip>. The
// "strip" parameter drops that many leading path components from each entry;
// entries with no components left are skipped.
func Unzip(ctx context.Context, req transform.Request, out transform.Outputs) error {
	strip, err := req.Int("strip", 0)
	if err != nil {
		return err
	}
	if strip < 0 {
		return fmt.Errorf("parameter \"strip\" must be >= 0, got %d", strip)
	}

	r, err := zip.OpenReader(req.Input)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	name := strings.TrimSuffix(filepath.Base(req.Input), ".zip")
	dest := filepath.Join(req.OutputDir, name)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok, err := entryPath(f.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractEntry(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}

	out.Dir(name)
	return nil
}

// entryPath cleans an archive entry name and applies strip. It rejects names
// that would escape the extraction root.
func entryPath(name string, strip int) (string, bool, error) {
	normalized := strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
	trimmed := strings.TrimSuffix(normalized, "/")
	if trimmed == "" || trimmed == "." {
		return "", false, nil
	}
	clean := path.Clean(trimmed)
	if clean != trimmed || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false, nil
	}
	return strings.Join(parts[strip:], "/"), true, nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Gunzip decompresses a gzip file into the output directory. The output name
// drops a trailing ".gz", or falls back to the name stored in the gzip header.
func Gunzip(ctx context.Context, req transform.Request, out transform.Outputs) error {
	in, err := os.Open(req.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	name := filepath.Base(req.Input)
	switch {
	case strings.HasSuffix(name, ".gz") && len(name) > len(".gz"):
		name = strings.TrimSuffix(name, ".gz")
	case zr.Name != "" && zr.Name == filepath.Base(zr.Name):
		name = zr.Name
	default:
		name += ".out"
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := os.Create(filepath.Join(req.OutputDir, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, zr); err != nil {
		_ = w.Close()
		return fmt.Errorf("decompress %s: %w", req.Input, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	out.File(name)
	return nil
}
