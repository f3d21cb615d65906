package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pibackup/internal/backup"
	"pibackup/internal/testutil"
)

func TestTreeCopier_CopyTree(t *testing.T) {
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"notes.txt":          "remember the milk",
		"private/secret.txt": "hunter2",
		"empty/":             "",
	})
	if err := os.Chmod(filepath.Join(src, "private", "secret.txt"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(src, "private"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("notes.txt", filepath.Join(src, "latest")); err != nil {
		t.Fatal(err)
	}
	fileTime := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	dirTime := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	testutil.SetModTime(t, filepath.Join(src, "notes.txt"), fileTime)
	testutil.SetModTime(t, filepath.Join(src, "private"), dirTime)

	dst := filepath.Join(t.TempDir(), "backup1")
	if err := NewTreeCopier(backup.NewNopLogger()).CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "notes.txt"))
	if err != nil || string(data) != "remember the milk" {
		t.Errorf("notes.txt = %q, %v", data, err)
	}

	info, err := os.Stat(filepath.Join(dst, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(fileTime) {
		t.Errorf("notes.txt mtime = %v, want %v", info.ModTime(), fileTime)
	}

	info, err = os.Stat(filepath.Join(dst, "private", "secret.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secret.txt mode = %v, want %v", info.Mode().Perm(), os.FileMode(0o600))
	}

	info, err = os.Stat(filepath.Join(dst, "private"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Errorf("private mode = %v, want %v", info.Mode().Perm(), os.FileMode(0o750))
	}
	if !info.ModTime().Equal(dirTime) {
		t.Errorf("private mtime = %v, want %v", info.ModTime(), dirTime)
	}

	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty dir not copied: %v", err)
	}

	target, err := os.Readlink(filepath.Join(dst, "latest"))
	if err != nil || target != "notes.txt" {
		t.Errorf("latest symlink = %q, %v", target, err)
	}
}

func TestTreeCopier_DestinationExists(t *testing.T) {
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})
	dst := t.TempDir()

	if err := NewTreeCopier(backup.NewNopLogger()).CopyTree(src, dst); err == nil {
		t.Fatal("CopyTree() expected error for existing destination")
	}
	if _, err := os.Stat(filepath.Join(dst, "a.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("existing destination was written to")
	}
}

func TestTreeCopier_SourceNotDirectory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "file")
	testutil.WriteTree(t, filepath.Dir(src), map[string]string{"file": "x"})

	err := NewTreeCopier(backup.NewNopLogger()).CopyTree(src, filepath.Join(t.TempDir(), "backup1"))
	if err == nil {
		t.Fatal("CopyTree() expected error for file source")
	}
}

func TestSpaceProber_Usage(t *testing.T) {
	capacity, _, err := NewSpaceProber().Usage(t.TempDir())
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if capacity.Total == 0 {
		t.Error("Total = 0")
	}
	if capacity.Used > capacity.Total {
		t.Errorf("Used %d > Total %d", capacity.Used, capacity.Total)
	}
}

func TestSpaceProber_UsageMissing(t *testing.T) {
	if _, _, err := NewSpaceProber().Usage(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Usage() expected error for missing path")
	}
}
