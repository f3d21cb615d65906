//go:build !linux

package fs

import (
	"errors"
	"runtime"
)

// Unmounter is unsupported outside linux.
type Unmounter struct{}

// NewUnmounter creates an Unmounter.
func NewUnmounter() *Unmounter {
	return &Unmounter{}
}

// Unmount always fails on this platform.
func (Unmounter) Unmount(string) error {
	return errors.New("unmount is not supported on " + runtime.GOOS)
}
