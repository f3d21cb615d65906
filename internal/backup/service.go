package backup

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"pibackup/internal/syncutil"
)

// ServiceDeps are the collaborators of a Service. History, Metrics, Notifier
// and Unmounter may be nil.
type ServiceDeps struct {
	Registry  *Registry
	Catalog   *Catalog
	Engine    *Engine
	Pool      *Pool
	History   JobHistory
	Metrics   Metrics
	Notifier  Notifier
	Unmounter Unmounter
	Clock     Clock
	IDGen     IDGenerator
	Logger    Logger
}

// Service is the single coordinator owning the job slot. It is the only
// component that starts backups, and it enforces that at most one runs.
type Service struct {
	registry  *Registry
	catalog   *Catalog
	engine    *Engine
	pool      *Pool
	history   JobHistory
	metrics   Metrics
	notifier  Notifier
	unmounter Unmounter
	clock     Clock
	idgen     IDGenerator
	logger    Logger

	mu      syncutil.Mutex
	current *Job
	last    *Job
}

// NewService creates a Service from deps.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		registry:  deps.Registry,
		catalog:   deps.Catalog,
		engine:    deps.Engine,
		pool:      deps.Pool,
		history:   deps.History,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		unmounter: deps.Unmounter,
		clock:     deps.Clock,
		idgen:     deps.IDGen,
		logger:    deps.Logger,
	}
	if s.history == nil {
		s.history = NopHistory{}
	}
	if s.metrics == nil {
		s.metrics = NopMetrics{}
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	return s
}

// Init records the volume baseline and derives the initial roots.
func (s *Service) Init() error {
	if _, err := s.registry.Update(false); err != nil {
		return fmt.Errorf("enumerating volumes: %w", err)
	}
	roots, err := s.registry.RefreshRoots()
	if err != nil {
		return fmt.Errorf("deriving roots: %w", err)
	}
	s.logger.Info("service ready", "source", roots.Source, "destination", roots.Destination)
	return nil
}

// RunBackup starts a backup unless one is already running, the roots are
// undefined, or the destination lies inside the source. Checking the slot and submitting the job happen under one lock.
func (s *Service) RunBackup() RunResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.metrics.RunRejected(RunAlreadyRunning)
		return RunResponse{
			Outcome:   RunAlreadyRunning,
			JobID:     s.current.ID,
			StartTime: s.current.StartTime,
			Reason:    ErrJobRunning.Error(),
		}
	}

	roots := s.registry.Roots()
	if !roots.Defined() {
		s.metrics.RunRejected(RunRejected)
		return RunResponse{Outcome: RunRejected, Reason: undefinedRootsReason(roots)}
	}
	if within(roots.Destination, roots.Source) {
		s.logger.Warn("refusing backup", "source", roots.Source, "destination", roots.Destination, "error", ErrDestinationInSource)
		s.metrics.RunRejected(RunRejected)
		return RunResponse{Outcome: RunRejected, Reason: ErrDestinationInSource.Error()}
	}

	job := &Job{
		ID:        s.idgen.New(),
		StartTime: s.clock.Now(),
		Roots:     roots,
	}
	if err := s.pool.Submit(func() { s.execute(job) }); err != nil {
		s.logger.Error("submitting backup job", "error", err)
		s.metrics.RunRejected(RunRejected)
		return RunResponse{Outcome: RunRejected, Reason: err.Error()}
	}

	s.current = job
	s.last = nil
	if err := s.history.RecordStart(job); err != nil {
		s.logger.Warn("recording job start", "job", job.ID, "error", err)
	}
	s.metrics.JobStarted()
	s.notifier.Emit(EventBackupStarted, map[string]any{"job_id": job.ID, "start_time": job.StartTime})

	return RunResponse{Outcome: RunAccepted, JobID: job.ID, StartTime: job.StartTime}
}

func undefinedRootsReason(roots Roots) string {
	var missing []string
	if roots.Source == "" {
		missing = append(missing, "source")
	}
	if roots.Destination == "" {
		missing = append(missing, "destination")
	}
	return fmt.Sprintf("%s: %s", ErrRootsUndefined, strings.Join(missing, " and "))
}

func (s *Service) execute(job *Job) {
	var result *JobResult
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("backup job panicked", "job", job.ID, "panic", fmt.Sprint(r))
			result = &JobResult{
				StartTime: job.StartTime,
				EndTime:   s.clock.Now(),
				Status:    StatusFailed,
				Error:     fmt.Sprintf("job panicked: %v", r),
			}
		}
		s.finish(job, result)
	}()
	result = s.engine.Execute(job, job.Roots)
}

func (s *Service) finish(job *Job, result *JobResult) {
	s.mu.Lock()
	job.EndTime = result.EndTime
	job.Result = result
	s.current = nil
	s.last = job
	if err := s.history.RecordFinish(job); err != nil {
		s.logger.Warn("recording job finish", "job", job.ID, "error", err)
	}
	s.mu.Unlock()

	s.metrics.JobFinished(result)
	s.notifier.Emit(EventBackupFinished, map[string]any{
		"job_id":     job.ID,
		"status":     result.Status,
		"hash_match": result.HashMatch,
		"snapshot":   result.SnapshotName,
	})
}

// JobStatus reports whether the slot is idle, running or holds the result
// of the last job.
func (s *Service) JobStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.current != nil:
		return Status{
			State:     JobRunning,
			JobID:     s.current.ID,
			StartTime: s.current.StartTime,
			Elapsed:   s.clock.Now().Sub(s.current.StartTime),
		}
	case s.last != nil:
		result := *s.last.Result
		return Status{
			State:     JobCompleted,
			JobID:     s.last.ID,
			StartTime: s.last.StartTime,
			Elapsed:   s.last.EndTime.Sub(s.last.StartTime),
			Result:    &result,
		}
	default:
		return Status{State: JobIdle}
	}
}

// ListVolumes enumerates the mounted volumes.
func (s *Service) ListVolumes() ([]*Volume, error) {
	volumes, err := s.registry.Enumerate()
	if err != nil {
		return nil, err
	}
	s.metrics.VolumesObserved(volumes)
	return volumes, nil
}

// SetRoles applies a role assignment and returns the re-derived roots.
// It is refused with ErrJobRunning while a backup runs.
func (s *Service) SetRoles(assignment RoleAssignment) (Roots, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return Roots{}, ErrJobRunning
	}
	return s.registry.SetRoles(assignment)
}

// ListSnapshots lists the snapshots under the current destination root.
func (s *Service) ListSnapshots() ([]*SnapshotEntry, error) {
	return s.catalog.List(s.registry.Roots().Destination)
}

// Roots returns the current source and destination roots.
func (s *Service) Roots() Roots {
	return s.registry.Roots()
}

// RefreshVolumes re-enumerates the volumes on the pool, emitting a
// volumes_changed event on a count change when notify is set.
func (s *Service) RefreshVolumes(notify bool) error {
	return s.pool.Submit(func() {
		if _, err := s.registry.Update(notify); err != nil {
			s.logger.Warn("refreshing volumes", "error", err)
		}
	})
}

// History returns up to limit past jobs, newest first.
func (s *Service) History(limit int) ([]*JobRecord, error) {
	records, err := s.history.ListJobs(limit)
	if err != nil {
		return nil, fmt.Errorf("listing job history: %w", err)
	}
	return records, nil
}

// Eject unmounts the named volume. A volume holding the source or
// destination root cannot be ejected while a backup runs.
func (s *Service) Eject(name string) error {
	if s.unmounter == nil {
		return errors.New("eject is not supported on this host")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vol, err := s.registry.Volume(name)
	if err != nil {
		return err
	}
	if s.current != nil && (within(s.current.Roots.Source, vol.MountPoint) || within(s.current.Roots.Destination, vol.MountPoint)) {
		return ErrJobRunning
	}

	if err := s.unmounter.Unmount(vol.MountPoint); err != nil {
		return fmt.Errorf("unmounting %s: %w", vol.Name, err)
	}
	s.logger.Info("volume ejected", "volume", vol.Name, "mount_point", vol.MountPoint)

	if err := s.RefreshVolumes(true); err != nil {
		s.logger.Warn("scheduling volume refresh", "error", err)
	}
	return nil
}

func within(path, dir string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// WaitIdle blocks until no job is running or timeout elapses, and reports
// whether the slot is idle.
func (s *Service) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.JobStatus().State != JobRunning {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close waits for queued work and stops the pool.
func (s *Service) Close() error {
	return s.pool.Close()
}
