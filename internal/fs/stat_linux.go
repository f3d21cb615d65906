//go:build linux

package fs

import (
	"fmt"
	iofs "io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// preserveOwner copies the uid and gid of info onto path. Unprivileged
// processes usually get EPERM, which callers treat as non-fatal.
func preserveOwner(path string, info iofs.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cannot extract owner: expected *syscall.Stat_t, got %T", info.Sys())
	}
	return os.Lchown(path, int(stat.Uid), int(stat.Gid))
}

// preserveSymlinkTimes copies the modification time of the link src onto
// the link dst without following either.
func preserveSymlinkTimes(src, dst string) error {
	var st unix.Stat_t
	if err := unix.Lstat(src, &st); err != nil {
		return err
	}
	ts := []unix.Timespec{st.Atim, st.Mtim}
	return unix.UtimesNanoAt(unix.AT_FDCWD, dst, ts, unix.AT_SYMLINK_NOFOLLOW)
}
