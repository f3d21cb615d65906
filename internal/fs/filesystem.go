package fs

import (
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	"pibackup/internal/backup"
)

// TreeCopier copies directory trees on the real filesystem, preserving
// permissions, modification times, symlinks and, where permitted, ownership.
// Devices, pipes and sockets are skipped.
type TreeCopier struct {
	logger backup.Logger
}

// NewTreeCopier creates a TreeCopier.
func NewTreeCopier(logger backup.Logger) *TreeCopier {
	return &TreeCopier{logger: logger}
}

type dirAttrs struct {
	path  string
	perm  iofs.FileMode
	mtime time.Time
}

// CopyTree copies src into dst, which must not exist. On failure the
// partially copied tree is left in place and the error is a
// *backup.CopyError naming the destination path being written.
func (c *TreeCopier) CopyTree(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source is not a directory: %s", src)
	}
	if err := os.Mkdir(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	// Directory modes and mtimes are restored last; writing children changes them.
	dirs := []dirAttrs{{path: dst, perm: srcInfo.Mode().Perm(), mtime: srcInfo.ModTime()}}

	err = filepath.WalkDir(src, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return &backup.CopyError{Path: path, Err: err}
		}
		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &backup.CopyError{Path: path, Err: err}
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return &backup.CopyError{Path: target, Err: err}
		}

		switch mode := info.Mode(); {
		case mode.IsDir():
			if err := os.Mkdir(target, mode.Perm()|0o700); err != nil {
				return &backup.CopyError{Path: target, Err: err}
			}
			dirs = append(dirs, dirAttrs{path: target, perm: mode.Perm(), mtime: info.ModTime()})
		case mode&iofs.ModeSymlink != 0:
			if err := copySymlink(path, target); err != nil {
				return &backup.CopyError{Path: target, Err: err}
			}
		case mode.IsRegular():
			if err := copyFile(path, target, info); err != nil {
				return &backup.CopyError{Path: target, Err: err}
			}
		default:
			c.logger.Warn("skipping special file", "path", path, "mode", mode.String())
			return nil
		}

		if err := preserveOwner(target, info); err != nil {
			c.logger.Debug("ownership not preserved", "path", target, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := os.Chmod(d.path, d.perm); err != nil {
			return &backup.CopyError{Path: d.path, Err: err}
		}
		if err := os.Chtimes(d.path, d.mtime, d.mtime); err != nil {
			return &backup.CopyError{Path: d.path, Err: err}
		}
	}
	return nil
}

func copyFile(src, dst string, info iofs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.Symlink(target, dst); err != nil {
		return err
	}
	return preserveSymlinkTimes(src, dst)
}

// Compile-time checks that the OS adapters satisfy the backup interfaces.
var (
	_ backup.TreeCopier  = (*TreeCopier)(nil)
	_ backup.TreeHasher  = (*TreeHasher)(nil)
	_ backup.RootLocator = (*Locator)(nil)
	_ backup.SpaceProber = (*SpaceProber)(nil)
)
