package store

import (
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a run ID does not exist in the ledger.
var ErrRunNotFound = errors.New("run not found")

// PurgeBlockedError is returned when Purge is refused because runs are
// still active. It is a distinct type so callers can render "blocked by
// active job" instead of a generic storage failure.
type PurgeBlockedError struct {
	ActiveRuns int64
}

func (e *PurgeBlockedError) Error() string {
	return fmt.Sprintf("purge blocked: %d active run(s) in progress", e.ActiveRuns)
}

// InvalidTransitionError is returned when a status update would violate
// the run state machine.
type InvalidTransitionError struct {
	RunID string
	From  RunStatus
	To    RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf(
		"run %q: illegal status transition %s -> %s", e.RunID, e.From, e.To,
	)
}
