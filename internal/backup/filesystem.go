package backup

// SpaceProber queries live filesystem statistics for a mount point.
type SpaceProber interface {
	// Usage returns the capacity and filesystem type of the filesystem
	// holding path. Stale or vanished mounts return an error.
	Usage(path string) (Capacity, string, error)
}

// RootLocator finds the unique directory holding a role marker file.
type RootLocator interface {
	// Locate searches the mount base recursively for markerName, ignoring
	// matches inside snapshot directories. ok is true only when exactly
	// one match exists; root is then the directory containing it.
	Locate(markerName string) (root string, ok bool, err error)
}

// TreeHasher computes a deterministic content digest of a directory tree.
type TreeHasher interface {
	// HashTree returns the digest of every regular file and symlink under
	// root, keyed by relative path. The result must not depend on the
	// order in which the tree is traversed.
	HashTree(root string) (string, error)

	// Algorithm names the digest, recorded in snapshot metadata.
	Algorithm() string
}

// TreeCopier copies a directory tree.
type TreeCopier interface {
	// CopyTree copies src into dst. dst must not exist; it is created by
	// the copier. On failure after dst was created the partially written dst
	// is left in place and the error is a *CopyError naming the path reached.
	// Any other error means dst was not created by this call.
	CopyTree(src, dst string) error
}

// Unmounter detaches a mounted filesystem.
type Unmounter interface {
	Unmount(mountPoint string) error
}

// CopyError reports where a tree copy stopped.
type CopyError struct {
	Path string
	Err  error
}

func (e *CopyError) Error() string {
	return "copying " + e.Path + ": " + e.Err.Error()
}

func (e *CopyError) Unwrap() error { return e.Err }
