// Package watch detects volumes appearing under or leaving the mount base.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pibackup/internal/backup"
)

// DefaultDebounce collapses the burst of events a single mount produces.
const DefaultDebounce = 500 * time.Millisecond

// MountWatcher calls its trigger when entries under the mount base are
// created, removed or renamed, and additionally every rescan interval.
// Some automounters do not produce inotify events for the mount itself,
// so the periodic rescan is the fallback.
type MountWatcher struct {
	base     string
	debounce time.Duration
	rescan   time.Duration
	trigger  func()
	logger   backup.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMountWatcher creates a MountWatcher. A zero rescan disables periodic
// rescans; a zero debounce uses DefaultDebounce.
func NewMountWatcher(base string, debounce, rescan time.Duration, trigger func(), logger backup.Logger) *MountWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &MountWatcher{
		base:     base,
		debounce: debounce,
		rescan:   rescan,
		trigger:  trigger,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins watching. If the mount base cannot be watched the watcher
// falls back to periodic rescans, and fails only when those are disabled.
func (w *MountWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(w.base); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		if w.rescan <= 0 {
			return fmt.Errorf("watching %s: %w", w.base, err)
		}
		w.logger.Warn("mount base not watchable, using periodic rescan only", "path", w.base, "error", err)
		watcher = nil
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *MountWatcher) run() {
	defer w.wg.Done()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	var tick <-chan time.Time
	if w.rescan > 0 {
		ticker := time.NewTicker(w.rescan)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.logger.Debug("mount base changed", "path", ev.Name, "op", ev.Op.String())
				debounce.Reset(w.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("mount watcher error", "error", err)
		case <-debounce.C:
			w.trigger()
		case <-tick:
			w.trigger()
		}
	}
}

// Stop ends watching and waits for the loop to exit. Safe to call more than once.
func (w *MountWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
