package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// MetadataPrefix starts the name of the metadata file kept in every snapshot directory.
const MetadataPrefix = ".meta_"

// Snapshot result statuses recorded in metadata and job history.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Metadata is persisted once per snapshot directory when its job ends.
type Metadata struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	SourceRoot      string    `json:"source_root"`
	SourceHash      string    `json:"source_hash"`
	DestinationHash string    `json:"destination_hash"`
	HashMatch       bool      `json:"hash_match"`
	HashAlgorithm   string    `json:"hash_algorithm,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	PartialPath     string    `json:"partial_path,omitempty"`
}

// ParseSnapshotNumber extracts N from a directory name of the form <prefix><N>.
// Names with anything other than ASCII digits after the prefix are rejected.
func ParseSnapshotNumber(name, prefix string) (int, bool) {
	if prefix == "" || !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	digits := name[len(prefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HasSnapshotPrefix reports whether name starts with prefix followed by at
// least one ASCII digit. It matches renamed snapshots such as backup3-old
// that ParseSnapshotNumber rejects.
func HasSnapshotPrefix(name, prefix string) bool {
	if prefix == "" || len(name) <= len(prefix) || !strings.HasPrefix(name, prefix) {
		return false
	}
	c := name[len(prefix)]
	return c >= '0' && c <= '9'
}

// NextSnapshotName returns <prefix><max+1> over the snapshot names in names,
// or <prefix>1 when there are none. Gaps are never filled.
func NextSnapshotName(names []string, prefix string) string {
	highest := 0
	for _, name := range names {
		if n, ok := ParseSnapshotNumber(name, prefix); ok && n > highest {
			highest = n
		}
	}
	return prefix + strconv.Itoa(highest+1)
}

// SortSnapshotNames orders snapshot names by their numeric suffix, so that
// backup10 follows backup9. Names that are not snapshots are dropped.
func SortSnapshotNames(names []string, prefix string) []string {
	type numbered struct {
		name string
		n    int
	}
	var snaps []numbered
	for _, name := range names {
		if n, ok := ParseSnapshotNumber(name, prefix); ok {
			snaps = append(snaps, numbered{name: name, n: n})
		}
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].n != snaps[j].n {
			return snaps[i].n < snaps[j].n
		}
		return snaps[i].name < snaps[j].name
	})

	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.name
	}
	return out
}

// listSnapshotDirs returns the names of snapshot directories directly under root.
func listSnapshotDirs(fsys afero.Fs, root, prefix string) ([]string, error) {
	entries, err := afero.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := ParseSnapshotNumber(e.Name(), prefix); ok {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func metadataFileName(start time.Time) string {
	return MetadataPrefix + start.UTC().Format("20060102T150405Z") + ".json"
}

// writeMetadata stores meta in dir using a temp file and rename, so readers
// never see a partially written file.
func writeMetadata(fsys afero.Fs, dir string, meta *Metadata) (string, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}

	tmp, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			fsys.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp metadata file: %w", err)
	}

	destPath := filepath.Join(dir, metadataFileName(meta.StartTime))
	if err := fsys.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("renaming metadata file: %w", err)
	}

	success = true
	return destPath, nil
}

func readMetadata(fsys afero.Fs, path string) (*Metadata, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata %s: %w", filepath.Base(path), err)
	}
	return &meta, nil
}
