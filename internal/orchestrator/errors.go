package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoJobID is returned when a submit function succeeds without
	// yielding a job id. It indicates a broken collaborator and is never
	// retried.
	ErrNoJobID = errors.New("submission did not return an id")

	// ErrMissingResult is returned by Unwrap when a successful task carries
	// no payload.
	ErrMissingResult = errors.New("task succeeded without a result")

	// ErrStillPending matches every *TimeoutError via errors.Is.
	ErrStillPending = errors.New("task is still pending, try again later")
)

// FailureError reports a job the remote system marked as failed.
type FailureError struct {
	JobID   string
	Message string
}

func (e *FailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.JobID)
	}
	return e.Message
}

// TimeoutError reports a poll loop that gave up while the job was still
// pending. The job may yet finish server-side.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: %s (after %d status checks)", e.JobID, ErrStillPending.Error(), e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrStillPending
}
