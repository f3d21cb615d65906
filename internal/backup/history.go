package backup

import "time"

// JobRecord is one row of persisted job history.
type JobRecord struct {
	ID              string     `json:"id"`
	SnapshotName    string     `json:"snapshot_name,omitempty"`
	SnapshotPath    string     `json:"snapshot_path,omitempty"`
	SourceRoot      string     `json:"source_root"`
	DestinationRoot string     `json:"destination_root"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Status          string     `json:"status"`
	SourceHash      string     `json:"source_hash,omitempty"`
	DestinationHash string     `json:"destination_hash,omitempty"`
	HashMatch       bool       `json:"hash_match"`
	HashAlgorithm   string     `json:"hash_algorithm,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// StatusRunning marks a history row whose job has not finished.
const StatusRunning = "running"

// JobHistory persists job bookkeeping. Failures are logged by the Service
// and never affect the job itself.
type JobHistory interface {
	RecordStart(job *Job) error
	RecordFinish(job *Job) error
	ListJobs(limit int) ([]*JobRecord, error)
}

// NopHistory keeps nothing.
type NopHistory struct{}

func (NopHistory) RecordStart(*Job) error             { return nil }
func (NopHistory) RecordFinish(*Job) error            { return nil }
func (NopHistory) ListJobs(int) ([]*JobRecord, error) { return nil, nil }
