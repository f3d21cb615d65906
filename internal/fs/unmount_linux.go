//go:build linux

package fs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Unmounter detaches filesystems with umount2(2).
type Unmounter struct{}

// NewUnmounter creates an Unmounter.
func NewUnmounter() *Unmounter {
	return &Unmounter{}
}

// Unmount detaches the filesystem mounted at mountPoint. Busy filesystems
// are not forced.
func (Unmounter) Unmount(mountPoint string) error {
	if err := unix.Unmount(mountPoint, 0); err != nil {
		return fmt.Errorf("umount %s: %w", mountPoint, err)
	}
	return nil
}
