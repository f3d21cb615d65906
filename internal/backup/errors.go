package backup

import "errors"

var (
	// ErrJobRunning is returned by operations that must not overlap a running backup.
	ErrJobRunning = errors.New("backup job already in progress")

	// ErrRootsUndefined means the source or destination root is absent or ambiguous.
	ErrRootsUndefined = errors.New("source or destination root is undefined")

	// ErrDestinationInSource means the destination root lies inside the source tree.
	ErrDestinationInSource = errors.New("destination root is inside the source tree")

	// ErrNoDestinationRoot means no unique destination root is currently defined.
	ErrNoDestinationRoot = errors.New("destination root is undefined")

	// ErrInvalidAssignment is returned when a role assignment fails validation.
	ErrInvalidAssignment = errors.New("invalid role assignment")

	// ErrUnknownVolume is returned when a named volume is not mounted under the base directory.
	ErrUnknownVolume = errors.New("unknown volume")

	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrPoolFull is returned when the pool queue cannot take more work.
	ErrPoolFull = errors.New("worker pool queue is full")
)
