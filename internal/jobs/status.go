package jobs

import "taskhub/internal/tasks"

// Status is the lifecycle state stored in jobs.status.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Public maps a stored status onto the three states clients see. A running
// job is still pending from the caller's point of view.
func (s Status) Public() tasks.Status {
	switch s {
	case StatusSuccess:
		return tasks.StatusSuccess
	case StatusFailure:
		return tasks.StatusFailure
	default:
		return tasks.StatusPending
	}
}
