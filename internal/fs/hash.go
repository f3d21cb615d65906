package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/charlievieth/fastwalk"
)

// Supported tree hash algorithms.
const (
	HashSHA256 = "sha256"
	HashXXHash = "xxhash"
)

// TreeHasher digests a directory tree. Every regular file contributes its
// relative path and content digest, every symlink its target and every
// directory its path. Entries are sorted by relative path before they are
// combined, so the digest does not depend on traversal order.
type TreeHasher struct {
	algorithm string
	newHash   func() hash.Hash
	ignore    *IgnoreMatcher
}

// NewTreeHasher creates a TreeHasher for algorithm, skipping entries that
// match exclude.
func NewTreeHasher(algorithm string, exclude []string) (*TreeHasher, error) {
	h := &TreeHasher{algorithm: algorithm, ignore: NewIgnoreMatcher(exclude)}
	switch algorithm {
	case HashSHA256, "":
		h.algorithm = HashSHA256
		h.newHash = sha256.New
	case HashXXHash:
		h.newHash = func() hash.Hash { return xxhash.New() }
	default:
		return nil, fmt.Errorf("unknown hash algorithm: %s", algorithm)
	}
	return h, nil
}

// Algorithm returns the configured digest name.
func (h *TreeHasher) Algorithm() string {
	return h.algorithm
}

type treeEntry struct {
	rel  string
	kind byte
}

// HashTree returns the hex digest of the tree at root.
func (h *TreeHasher) HashTree(root string) (string, error) {
	var (
		mu      sync.Mutex
		entries []treeEntry
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}
		if h.ignore.Match(rel) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		var kind byte
		switch {
		case d.IsDir():
			kind = 'd'
		case d.Type()&iofs.ModeSymlink != 0:
			kind = 'l'
		case d.Type().IsRegular():
			kind = 'f'
		default:
			return nil
		}

		mu.Lock()
		entries = append(entries, treeEntry{rel: filepath.ToSlash(rel), kind: kind})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	tree := h.newHash()
	for _, e := range entries {
		var digest string
		switch e.kind {
		case 'f':
			digest, err = h.hashFile(filepath.Join(root, filepath.FromSlash(e.rel)))
		case 'l':
			digest, err = os.Readlink(filepath.Join(root, filepath.FromSlash(e.rel)))
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(tree, "%c\x00%s\x00%s\n", e.kind, e.rel, digest)
	}

	return hex.EncodeToString(tree.Sum(nil)), nil
}

func (h *TreeHasher) hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fh := h.newHash()
	if _, err := io.Copy(fh, f); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return hex.EncodeToString(fh.Sum(nil)), nil
}
