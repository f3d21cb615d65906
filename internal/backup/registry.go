package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"pibackup/internal/syncutil"
)

// RegistryConfig names the mount base and the marker files the registry manages.
type RegistryConfig struct {
	MountBaseDir      string
	SourceMarker      string
	DestinationMarker string
	IdentityMarker    string
}

// Registry discovers the volumes mounted under the mount base directory and
// manages their identity and role marker files. Volumes are rebuilt on every
// pass; the registry itself only remembers the last volume count and the
// derived roots.
type Registry struct {
	fs       afero.Fs
	cfg      RegistryConfig
	prober   SpaceProber
	locator  RootLocator
	notifier Notifier
	logger   Logger

	mu        syncutil.RWMutex
	roots     Roots
	lastCount int
	baseline  bool
}

// NewRegistry creates a Registry. Roots are undefined until RefreshRoots or
// SetRoles is called.
func NewRegistry(fsys afero.Fs, cfg RegistryConfig, prober SpaceProber, locator RootLocator, notifier Notifier, logger Logger) *Registry {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Registry{
		fs:       fsys,
		cfg:      cfg,
		prober:   prober,
		locator:  locator,
		notifier: notifier,
		logger:   logger,
	}
}

// Enumerate inspects every directory directly under the mount base.
// Per-volume failures are recorded in Volume.Error; only a failure to read
// the mount base itself is returned.
func (r *Registry) Enumerate() ([]*Volume, error) {
	entries, err := afero.ReadDir(r.fs, r.cfg.MountBaseDir)
	if err != nil {
		return nil, fmt.Errorf("reading mount base %s: %w", r.cfg.MountBaseDir, err)
	}

	volumes := make([]*Volume, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		volumes = append(volumes, r.inspect(filepath.Join(r.cfg.MountBaseDir, e.Name())))
	}
	return volumes, nil
}

// Volume returns the volume currently mounted under the given name.
func (r *Registry) Volume(name string) (*Volume, error) {
	name = norm.NFC.String(name)
	volumes, err := r.Enumerate()
	if err != nil {
		return nil, err
	}
	for _, v := range volumes {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVolume, name)
}

func (r *Registry) inspect(mountPoint string) *Volume {
	v := &Volume{
		Name:       norm.NFC.String(filepath.Base(mountPoint)),
		MountPoint: mountPoint,
		Connected:  true,
	}

	var problems []string

	id, err := r.identity(mountPoint)
	if err != nil {
		r.logger.Warn("volume identity unavailable", "volume", v.Name, "error", err)
		problems = append(problems, err.Error())
	}
	v.ID = id

	if r.prober != nil {
		capacity, fstype, err := r.prober.Usage(mountPoint)
		if err != nil {
			r.logger.Warn("volume capacity unavailable", "volume", v.Name, "error", err)
			problems = append(problems, fmt.Sprintf("querying capacity: %v", err))
		} else {
			v.Capacity = capacity
			v.FSType = fstype
		}
	}

	v.IsSource = r.exists(filepath.Join(mountPoint, r.cfg.SourceMarker))
	v.IsDestination = r.exists(filepath.Join(mountPoint, r.cfg.DestinationMarker))
	v.Error = strings.Join(problems, "; ")
	return v
}

// identity reads the identity marker of the volume at mountPoint, creating
// and persisting a new one when it is absent.
func (r *Registry) identity(mountPoint string) (string, error) {
	path := filepath.Join(mountPoint, r.cfg.IdentityMarker)

	data, err := afero.ReadFile(r.fs, path)
	if err == nil {
		id, err := uuid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return "", fmt.Errorf("parsing identity marker: %w", err)
		}
		return id.String(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading identity marker: %w", err)
	}

	id := uuid.New()
	if err := afero.WriteFile(r.fs, path, []byte(strings.ReplaceAll(id.String(), "-", "")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing identity marker: %w", err)
	}
	r.logger.Info("volume identity created", "mount_point", mountPoint, "id", id.String())
	return id.String(), nil
}

func (r *Registry) exists(path string) bool {
	_, err := r.fs.Stat(path)
	return err == nil
}

// SetRoles applies a role assignment. The whole assignment is validated,
// and every named volume checked to exist, before any marker is touched.
// Making a volume a destination removes its source marker and vice versa.
// Roots are re-derived afterwards.
func (r *Registry) SetRoles(assignment RoleAssignment) (Roots, error) {
	assignment = assignment.Normalize()
	if err := assignment.Validate(); err != nil {
		return Roots{}, err
	}

	volumes, err := r.Enumerate()
	if err != nil {
		return Roots{}, err
	}
	mounts := make(map[string]string, len(volumes))
	for _, v := range volumes {
		mounts[v.Name] = v.MountPoint
	}
	for _, name := range assignment.Names() {
		if _, ok := mounts[name]; !ok {
			return Roots{}, fmt.Errorf("%w: %s", ErrUnknownVolume, name)
		}
	}

	for _, name := range assignment.Destinations {
		if err := r.assign(mounts[name], r.cfg.DestinationMarker, r.cfg.SourceMarker); err != nil {
			return Roots{}, fmt.Errorf("marking %s as destination: %w", name, err)
		}
		r.logger.Info("volume role set", "volume", name, "role", "destination")
	}
	for _, name := range assignment.Sources {
		if err := r.assign(mounts[name], r.cfg.SourceMarker, r.cfg.DestinationMarker); err != nil {
			return Roots{}, fmt.Errorf("marking %s as source: %w", name, err)
		}
		r.logger.Info("volume role set", "volume", name, "role", "source")
	}
	for _, name := range assignment.Clear {
		if err := r.assign(mounts[name], "", r.cfg.SourceMarker, r.cfg.DestinationMarker); err != nil {
			return Roots{}, fmt.Errorf("clearing roles of %s: %w", name, err)
		}
		r.logger.Info("volume roles cleared", "volume", name)
	}

	return r.RefreshRoots()
}

// assign touches the marker named set (if any) and removes the markers in
// remove. Both operations are idempotent.
func (r *Registry) assign(mountPoint, set string, remove ...string) error {
	if set != "" {
		f, err := r.fs.OpenFile(filepath.Join(mountPoint, set), os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("creating marker %s: %w", set, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing marker %s: %w", set, err)
		}
	}
	for _, name := range remove {
		err := r.fs.Remove(filepath.Join(mountPoint, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing marker %s: %w", name, err)
		}
	}
	return nil
}

// Update re-enumerates the volumes and reports whether the count changed
// since the previous pass. The first pass only records the baseline. When
// the count changed, roots are re-derived and, if notify is set, a
// volumes_changed event is emitted.
func (r *Registry) Update(notify bool) (bool, error) {
	volumes, err := r.Enumerate()
	if err != nil {
		return false, err
	}

	count := len(volumes)
	r.mu.Lock()
	changed := r.baseline && count != r.lastCount
	r.baseline = true
	r.lastCount = count
	r.mu.Unlock()

	if !changed {
		return false, nil
	}

	r.logger.Info("volume topology changed", "count", count)
	if _, err := r.RefreshRoots(); err != nil {
		r.logger.Warn("refreshing roots after topology change", "error", err)
	}
	if notify {
		r.notifier.Emit(EventVolumesChanged, map[string]any{"count": count})
	}
	return true, nil
}

// Roots returns the roots derived by the last RefreshRoots.
func (r *Registry) Roots() Roots {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roots
}

// RefreshRoots re-derives the source and destination roots from the marker
// files currently present. A role whose marker is absent or ambiguous ends
// up undefined.
func (r *Registry) RefreshRoots() (Roots, error) {
	var roots Roots
	var errs []error

	if root, ok, err := r.locator.Locate(r.cfg.SourceMarker); err != nil {
		errs = append(errs, fmt.Errorf("locating source root: %w", err))
	} else if ok {
		roots.Source = root
	}
	if root, ok, err := r.locator.Locate(r.cfg.DestinationMarker); err != nil {
		errs = append(errs, fmt.Errorf("locating destination root: %w", err))
	} else if ok {
		roots.Destination = root
	}

	r.mu.Lock()
	r.roots = roots
	r.mu.Unlock()

	r.logger.Debug("roots derived", "source", roots.Source, "destination", roots.Destination)
	return roots, errors.Join(errs...)
}
