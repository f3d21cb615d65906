package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"pibackup/internal/backup"
)

// ErrInjected is the I/O error returned by FailingCopier.
var ErrInjected = errors.New("injected I/O error")

// FailingCopier creates the destination, writes one file into it and then
// fails, leaving a partial snapshot behind.
type FailingCopier struct{}

func (FailingCopier) CopyTree(src, dst string) error {
	if err := os.Mkdir(dst, 0o755); err != nil {
		return err
	}
	partial := filepath.Join(dst, "partial.bin")
	if err := os.WriteFile(partial, []byte("partial"), 0o644); err != nil {
		return err
	}
	return &backup.CopyError{Path: partial, Err: ErrInjected}
}

// CorruptingCopier runs Inner and then appends to the file at the relative
// path Corrupt inside the copy, simulating corruption in transit.
type CorruptingCopier struct {
	Inner   backup.TreeCopier
	Corrupt string
}

func (c *CorruptingCopier) CopyTree(src, dst string) error {
	if err := c.Inner.CopyTree(src, dst); err != nil {
		return err
	}
	path := filepath.Join(dst, filepath.FromSlash(c.Corrupt))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return &backup.CopyError{Path: path, Err: err}
	}
	if _, err := f.WriteString("flipped"); err != nil {
		f.Close()
		return &backup.CopyError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &backup.CopyError{Path: path, Err: err}
	}
	return nil
}

// BlockingCopier signals Started and then waits for Release before running
// Inner, holding the job in the running state.
type BlockingCopier struct {
	Inner   backup.TreeCopier
	Started chan struct{}
	Release chan struct{}

	once sync.Once
}

// NewBlockingCopier wraps inner.
func NewBlockingCopier(inner backup.TreeCopier) *BlockingCopier {
	return &BlockingCopier{
		Inner:   inner,
		Started: make(chan struct{}),
		Release: make(chan struct{}),
	}
}

func (c *BlockingCopier) CopyTree(src, dst string) error {
	c.once.Do(func() { close(c.Started) })
	<-c.Release
	return c.Inner.CopyTree(src, dst)
}

// PanickingCopier panics on every call.
type PanickingCopier struct{}

func (PanickingCopier) CopyTree(string, string) error {
	panic("copier exploded")
}
