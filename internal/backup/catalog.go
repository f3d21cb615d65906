package backup

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultFilebrowserPrefix is the URL prefix under which the external file
// browser serves the mount base directory.
const DefaultFilebrowserPrefix = "/files"

// SnapshotEntry is one snapshot directory as listed by the Catalog.
// Entries whose metadata is missing, duplicated or unreadable are still
// listed, with Error set and Metadata nil.
type SnapshotEntry struct {
	Name           string    `json:"name"`
	Number         int       `json:"number"`
	Path           string    `json:"path"`
	FilebrowserURI string    `json:"filebrowser_uri"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// CatalogConfig configures snapshot listing.
type CatalogConfig struct {
	MountBaseDir      string
	SnapshotPrefix    string
	FilebrowserPrefix string
}

// Catalog lists the snapshots under a destination root.
type Catalog struct {
	fs     afero.Fs
	cfg    CatalogConfig
	logger Logger
}

// NewCatalog creates a Catalog reading through fsys.
func NewCatalog(fsys afero.Fs, cfg CatalogConfig, logger Logger) *Catalog {
	if cfg.FilebrowserPrefix == "" {
		cfg.FilebrowserPrefix = DefaultFilebrowserPrefix
	}
	return &Catalog{fs: fsys, cfg: cfg, logger: logger}
}

// List returns the snapshots under destRoot in numeric order.
func (c *Catalog) List(destRoot string) ([]*SnapshotEntry, error) {
	if destRoot == "" {
		return nil, ErrNoDestinationRoot
	}

	names, err := listSnapshotDirs(c.fs, destRoot, c.cfg.SnapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sorted := SortSnapshotNames(names, c.cfg.SnapshotPrefix)
	entries := make([]*SnapshotEntry, 0, len(sorted))
	for _, name := range sorted {
		n, _ := ParseSnapshotNumber(name, c.cfg.SnapshotPrefix)
		dir := filepath.Join(destRoot, name)
		entry := &SnapshotEntry{
			Name:           name,
			Number:         n,
			Path:           dir,
			FilebrowserURI: c.ClientPath(dir),
		}

		meta, err := c.loadMetadata(dir)
		if err != nil {
			c.logger.Warn("snapshot metadata unavailable", "snapshot", name, "error", err)
			entry.Error = err.Error()
		} else {
			entry.Metadata = meta
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ClientPath maps an absolute path below the mount base to the URI the
// external file browser serves it under.
func (c *Catalog) ClientPath(absPath string) string {
	rel, err := filepath.Rel(c.cfg.MountBaseDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path.Join(c.cfg.FilebrowserPrefix, filepath.ToSlash(absPath))
	}
	return path.Join(c.cfg.FilebrowserPrefix, filepath.ToSlash(rel))
}

// loadMetadata reads the single metadata file expected in dir.
func (c *Catalog) loadMetadata(dir string) (*Metadata, error) {
	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var found []string
	for _, e := range entries {
		if e.Mode().IsRegular() && strings.HasPrefix(e.Name(), MetadataPrefix) {
			found = append(found, e.Name())
		}
	}

	switch len(found) {
	case 0:
		return nil, errors.New("no metadata file (incomplete snapshot)")
	case 1:
		return readMetadata(c.fs, filepath.Join(dir, found[0]))
	default:
		return nil, fmt.Errorf("found %d metadata files, expected 1", len(found))
	}
}
