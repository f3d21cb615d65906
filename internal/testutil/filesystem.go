package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pibackup/internal/backup"
)

// WriteTree creates files under root from a map of slash-separated relative
// paths to contents. A path ending in "/" creates an empty directory.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if rel[len(rel)-1] == '/' {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

// WriteMemTree is WriteTree for an afero filesystem.
func WriteMemTree(t *testing.T, fsys afero.Fs, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if rel[len(rel)-1] == '/' {
			if err := fsys.MkdirAll(path, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", path, err)
			}
			continue
		}
		if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
		}
		if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

// Exists reports whether path exists on fsys.
func Exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// StubProber returns a fixed capacity, or an error for mount points listed in Fail.
type StubProber struct {
	Capacity backup.Capacity
	FSType   string
	Fail     map[string]error
}

func (p *StubProber) Usage(path string) (backup.Capacity, string, error) {
	if err, ok := p.Fail[path]; ok {
		return backup.Capacity{}, "", err
	}
	return p.Capacity, p.FSType, nil
}

// MemLocator finds markers on an afero filesystem, skipping snapshot
// directories the same way the OS locator does.
type MemLocator struct {
	FS     afero.Fs
	Base   string
	Prefix string
}

func (l *MemLocator) Locate(markerName string) (string, bool, error) {
	var matches []string
	err := afero.Walk(l.FS, l.Base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != l.Base && backup.HasSnapshotPrefix(info.Name(), l.Prefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == markerName {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if len(matches) != 1 {
		return "", false, nil
	}
	return filepath.Dir(matches[0]), true, nil
}

// SetModTime sets the modification time of path, failing the test on error.
func SetModTime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
