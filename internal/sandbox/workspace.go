// Package sandbox runs verification commands in ephemeral containers
// and shapes their output into boundary-safe results.
package sandbox

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// CopyTree copies src into dst, preserving file modes. VCS metadata is
// skipped; candidate workspaces never need it and copying .git from a
// seeded task would leak history into the sandbox.
func CopyTree(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
	if err != nil {
		return domain.WrapEngineError(domain.ErrWorkspaceCopy.Code, "copy "+src, err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
