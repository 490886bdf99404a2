package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists execution history.
type Store interface {
	// RecordExecution adds one successful execution of a script to its
	// duration statistics.
	RecordExecution(name string, elapsed time.Duration) error
	Durations(name string) (*DurationStats, error)
	// ExecutionTime returns the average recorded duration, if any.
	ExecutionTime(name string) (time.Duration, bool)

	SaveRun(run *Run) error
	GetRun(id string) (*Run, error)
	// ListRuns returns the newest runs first; limit <= 0 means all.
	ListRuns(limit int) ([]*Run, error)

	Close() error
}
