package backup

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Engine executes one snapshot: allocate the next snapshot directory, hash
// the source, copy it, hash the copy and persist metadata. It holds no job
// state; single-flight is the Service's responsibility.
type Engine struct {
	fs     afero.Fs
	copier TreeCopier
	hasher TreeHasher
	clock  Clock
	logger Logger
	prefix string
}

// NewEngine creates an Engine writing snapshots named <prefix><N>.
func NewEngine(fsys afero.Fs, copier TreeCopier, hasher TreeHasher, clock Clock, logger Logger, prefix string) *Engine {
	return &Engine{
		fs:     fsys,
		copier: copier,
		hasher: hasher,
		clock:  clock,
		logger: logger,
		prefix: prefix,
	}
}

// Execute runs the snapshot sequence for job against roots and returns its
// terminal result. It never returns an error: failures are captured in the
// result, and metadata with status failed is written only into a snapshot
// directory this job created. A hash mismatch is recorded, not treated as failure.
func (e *Engine) Execute(job *Job, roots Roots) *JobResult {
	result := &JobResult{
		StartTime:     job.StartTime,
		HashAlgorithm: e.hasher.Algorithm(),
		Status:        StatusSuccess,
	}

	created, err := e.run(roots, result)
	result.EndTime = e.clock.Now()

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		var copyErr *CopyError
		if errors.As(err, &copyErr) {
			result.PartialPath = copyErr.Path
		}
		e.logger.Error("backup failed", "job", job.ID, "snapshot", result.SnapshotName, "error", err)
	}

	if created {
		meta := &Metadata{
			StartTime:       result.StartTime,
			EndTime:         result.EndTime,
			SourceRoot:      roots.Source,
			SourceHash:      result.SourceHash,
			DestinationHash: result.DestinationHash,
			HashMatch:       result.HashMatch,
			HashAlgorithm:   result.HashAlgorithm,
			Status:          result.Status,
			Error:           result.Error,
			PartialPath:     result.PartialPath,
		}
		if _, err := writeMetadata(e.fs, result.SnapshotPath, meta); err != nil {
			e.logger.Error("writing snapshot metadata", "snapshot", result.SnapshotPath, "error", err)
			if result.Status == StatusSuccess {
				result.Status = StatusFailed
				result.Error = err.Error()
			}
		}
	}

	if result.Status == StatusSuccess {
		e.logger.Info("backup complete",
			"job", job.ID,
			"snapshot", result.SnapshotName,
			"hash_match", result.HashMatch,
			"duration", result.EndTime.Sub(result.StartTime).String())
	}
	return result
}

// run reports whether the snapshot directory was created by this job. The
// copier creates it atomically, and any failure after that is a *CopyError.
func (e *Engine) run(roots Roots, result *JobResult) (bool, error) {
	if !roots.Defined() {
		return false, ErrRootsUndefined
	}

	names, err := listSnapshotDirs(e.fs, roots.Destination, e.prefix)
	if err != nil {
		return false, fmt.Errorf("allocating snapshot: %w", err)
	}
	result.SnapshotName = NextSnapshotName(names, e.prefix)
	result.SnapshotPath = filepath.Join(roots.Destination, result.SnapshotName)
	e.logger.Info("backup started", "source", roots.Source, "snapshot", result.SnapshotPath)

	result.SourceHash, err = e.hasher.HashTree(roots.Source)
	if err != nil {
		return false, fmt.Errorf("hashing source: %w", err)
	}

	if err := e.copier.CopyTree(roots.Source, result.SnapshotPath); err != nil {
		var copyErr *CopyError
		return errors.As(err, &copyErr), fmt.Errorf("copying source to %s: %w", result.SnapshotName, err)
	}

	result.DestinationHash, err = e.hasher.HashTree(result.SnapshotPath)
	if err != nil {
		return true, fmt.Errorf("hashing snapshot: %w", err)
	}

	result.HashMatch = result.SourceHash == result.DestinationHash
	if !result.HashMatch {
		e.logger.Warn("snapshot hash mismatch",
			"snapshot", result.SnapshotName,
			"source_hash", result.SourceHash,
			"destination_hash", result.DestinationHash)
	}
	return true, nil
}
