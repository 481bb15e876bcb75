package actions

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mattjoyce/transmute/internal/transform"
)

// Identity registers the input artifact itself as the output.
func Identity(_ context.Context, req transform.Request, out transform.Outputs) error {
	info, err := os.Stat(req.Input)
	if err != nil {
		return err
	}
	if info.IsDir() {
		out.Dir(req.Input)
	} else {
		out.File(req.Input)
	}
	return nil
}

// Copy copies the input file or tree to <output dir>/<base>.
func Copy(ctx context.Context, req transform.Request, out transform.Outputs) error {
	info, err := os.Stat(req.Input)
	if err != nil {
		return err
	}
	base := filepath.Base(req.Input)
	dest := filepath.Join(req.OutputDir, base)

	if !info.IsDir() {
		if err := copyFile(req.Input, dest, info.Mode().Perm()); err != nil {
			return err
		}
		out.File(base)
		return nil
	}

	if err := copyTree(ctx, req.Input, dest); err != nil {
		return err
	}
	out.Dir(base)
	return nil
}

func copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			return fmt.Errorf("copy %s: unsupported file type %s", path, d.Type())
		}
	})
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		_ = f.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return f.Close()
}
