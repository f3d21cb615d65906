package app

import "time"

// Operation identifies one CLI invocation. Its RunID tags every log line
// written while the command runs.
type Operation struct {
	RunID     string
	Command   string
	StartedAt time.Time
}

// NewOperation creates an Operation for command started at now.
func NewOperation(command string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		RunID:     now.Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
	}
}

// Elapsed returns how long the operation has been running at now.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
