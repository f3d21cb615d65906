package backup

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies job start and end times.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names jobs. IDs must be unique across the job history.
type IDGenerator interface {
	New() string
}

// UUIDGenerator names jobs with random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }

// JobState is the externally visible state of the job slot.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
)

// Job is one backup run. It is owned by the Service and only mutated while
// the Service holds its lock.
type Job struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Roots     Roots
	Result    *JobResult
}

// JobResult is the terminal outcome of a job: either a completed snapshot
// with its hash-match status, or a failure with whatever was reached.
type JobResult struct {
	SnapshotName    string    `json:"snapshot_name,omitempty"`
	SnapshotPath    string    `json:"snapshot_path,omitempty"`
	SourceHash      string    `json:"source_hash,omitempty"`
	DestinationHash string    `json:"destination_hash,omitempty"`
	HashAlgorithm   string    `json:"hash_algorithm,omitempty"`
	HashMatch       bool      `json:"hash_match"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	PartialPath     string    `json:"partial_path,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

// Succeeded reports whether the snapshot was copied and verified.
// A hash mismatch still counts as a completed copy; check HashMatch.
func (r *JobResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// RunOutcome classifies the response to a backup request.
type RunOutcome string

const (
	RunAccepted       RunOutcome = "accepted"
	RunAlreadyRunning RunOutcome = "already_running"
	RunRejected       RunOutcome = "rejected"
)

// RunResponse is returned by Service.RunBackup. StartTime is the start of the
// new job when accepted, or of the running job when already running.
type RunResponse struct {
	Outcome   RunOutcome `json:"outcome"`
	JobID     string     `json:"job_id,omitempty"`
	StartTime time.Time  `json:"start_time,omitzero"`
	Reason    string     `json:"reason,omitempty"`
}

// Status is a point-in-time view of the job slot.
type Status struct {
	State     JobState      `json:"state"`
	JobID     string        `json:"job_id,omitempty"`
	StartTime time.Time     `json:"start_time,omitzero"`
	Elapsed   time.Duration `json:"-"`
	Result    *JobResult    `json:"result,omitempty"`
}
