package backup

import (
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"pgregory.net/rapid"
)

func TestParseSnapshotNumber(t *testing.T) {
	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"backup1", 1, true},
		{"backup10", 10, true},
		{"backup007", 7, true},
		{"backup", 0, false},
		{"backup1a", 0, false},
		{"backup-1", 0, false},
		{"backup１", 0, false}, // fullwidth digit
		{"Backup1", 0, false},
		{"photos", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSnapshotNumber(tt.name, "backup")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseSnapshotNumber(%q) = %d, %v, want %d, %v", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestHasSnapshotPrefix(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"backup1", true},
		{"backup3-old", true},
		{"backup12.bak", true},
		{"backup", false},
		{"backupold", false},
		{"backup-1", false},
		{"photos", false},
	}

	for _, tt := range tests {
		if got := HasSnapshotPrefix(tt.name, "backup"); got != tt.want {
			t.Errorf("HasSnapshotPrefix(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
	if HasSnapshotPrefix("1", "") {
		t.Error("HasSnapshotPrefix with empty prefix = true, want false")
	}
}

func TestNextSnapshotName(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{name: "empty root", names: nil, want: "backup1"},
		{name: "after nine", names: []string{"backup1", "backup2", "backup9"}, want: "backup10"},
		{name: "gaps are not filled", names: []string{"backup1", "backup5"}, want: "backup6"},
		{name: "other entries ignored", names: []string{"photos", "backupX", ".meta_x", "backup3"}, want: "backup4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextSnapshotName(tt.names, "backup"); got != tt.want {
				t.Errorf("NextSnapshotName(%v) = %q, want %q", tt.names, got, tt.want)
			}
		})
	}
}

func TestSortSnapshotNames(t *testing.T) {
	got := SortSnapshotNames([]string{"backup10", "backup2", "notes", "backup1", "backup9"}, "backup")
	want := []string{"backup1", "backup2", "backup9", "backup10"}
	if !slices.Equal(got, want) {
		t.Errorf("SortSnapshotNames() = %v, want %v", got, want)
	}
}

func TestSnapshotNumbering_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numbers := rapid.SliceOfDistinct(rapid.IntRange(1, 1_000_000), rapid.ID[int]).Draw(t, "numbers")
		prefix := rapid.StringMatching(`[a-z_]{1,8}`).Draw(t, "prefix")

		names := make([]string, len(numbers))
		highest := 0
		for i, n := range numbers {
			names[i] = prefix + strconv.Itoa(n)
			highest = max(highest, n)
		}

		next := NextSnapshotName(names, prefix)
		if want := prefix + strconv.Itoa(highest+1); next != want {
			t.Fatalf("NextSnapshotName() = %q, want %q", next, want)
		}
		if slices.Contains(names, next) {
			t.Fatalf("NextSnapshotName() reused %q", next)
		}

		sorted := SortSnapshotNames(names, prefix)
		if len(sorted) != len(names) {
			t.Fatalf("SortSnapshotNames() dropped entries: %d of %d", len(sorted), len(names))
		}
		for i := 1; i < len(sorted); i++ {
			a, _ := ParseSnapshotNumber(sorted[i-1], prefix)
			b, _ := ParseSnapshotNumber(sorted[i], prefix)
			if a >= b {
				t.Fatalf("SortSnapshotNames() out of order at %d: %q before %q", i, sorted[i-1], sorted[i])
			}
		}
	})
}

func TestListSnapshotDirs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, dir := range []string{"/dst/backup1", "/dst/backup2", "/dst/photos"} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// A file named like a snapshot is not a snapshot.
	if err := afero.WriteFile(fsys, "/dst/backup3", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := listSnapshotDirs(fsys, "/dst", "backup")
	if err != nil {
		t.Fatalf("listSnapshotDirs() error = %v", err)
	}
	want := []string{"backup1", "backup2"}
	if !slices.Equal(got, want) {
		t.Errorf("listSnapshotDirs() = %v, want %v", got, want)
	}

	if _, err := listSnapshotDirs(fsys, "/missing", "backup"); err == nil {
		t.Error("listSnapshotDirs() on missing root expected error")
	}
}

func TestWriteMetadata(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/dst/backup1", 0o755); err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	meta := &Metadata{
		StartTime:       start,
		EndTime:         start.Add(time.Minute),
		SourceHash:      "abc",
		DestinationHash: "abc",
		HashMatch:       true,
		Status:          StatusSuccess,
	}

	path, err := writeMetadata(fsys, "/dst/backup1", meta)
	if err != nil {
		t.Fatalf("writeMetadata() error = %v", err)
	}
	if want := "/dst/backup1/.meta_20240115T103000Z.json"; path != want {
		t.Errorf("writeMetadata() path = %q, want %q", path, want)
	}

	entries, err := afero.ReadDir(fsys, "/dst/backup1")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	got, err := readMetadata(fsys, path)
	if err != nil {
		t.Fatalf("readMetadata() error = %v", err)
	}
	if !got.StartTime.Equal(start) || !got.HashMatch || got.SourceHash != "abc" {
		t.Errorf("readMetadata() = %+v, want %+v", got, meta)
	}
}
