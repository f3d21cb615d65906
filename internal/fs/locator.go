package fs

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sync"

	"github.com/charlievieth/fastwalk"

	"pibackup/internal/backup"
)

// Locator finds role marker files under the mount base. Directories named
// <prefix><digits>... are not descended into, so markers copied into a
// snapshot, or a renamed one, never count as a root.
type Locator struct {
	base   string
	prefix string
	logger backup.Logger
}

// NewLocator creates a Locator searching below base.
func NewLocator(base, snapshotPrefix string, logger backup.Logger) *Locator {
	return &Locator{base: filepath.Clean(base), prefix: snapshotPrefix, logger: logger}
}

// Locate returns the directory holding markerName when exactly one regular
// file with that name exists below the mount base.
func (l *Locator) Locate(markerName string) (string, bool, error) {
	var (
		mu      sync.Mutex
		matches []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, l.base, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			l.logger.Debug("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != l.base {
				return fastwalk.SkipDir
			}
			if path == l.base {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != l.base && backup.HasSnapshotPrefix(d.Name(), l.prefix) {
				if filepath.Dir(path) == l.base {
					l.logger.Warn("mount point named like a snapshot is not searched for markers", "path", path)
				}
				return fastwalk.SkipDir
			}
			return nil
		}
		if d.Name() == markerName && d.Type().IsRegular() {
			mu.Lock()
			matches = append(matches, path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fastwalk.SkipDir) {
		return "", false, fmt.Errorf("searching %s for %s: %w", l.base, markerName, err)
	}

	if len(matches) != 1 {
		if len(matches) > 1 {
			l.logger.Warn("ambiguous role marker", "marker", markerName, "matches", len(matches))
		}
		return "", false, nil
	}
	return filepath.Dir(matches[0]), true, nil
}
