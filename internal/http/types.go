package http

import (
	"encoding/json"

	"taskhub/internal/tasks"
)

// ErrorResponse is the error envelope every endpoint uses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	Type   string          `json:"type" validate:"required,max=64"`
	Label  string          `json:"label,omitempty" validate:"max=200"`
	Params json.RawMessage `json:"params,omitempty"`
}

type SubmitJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

// JobStatusResponse is returned by GET /v1/jobs/:id/status.
type JobStatusResponse struct {
	Success bool            `json:"success"`
	Status  tasks.Status    `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type TaskListResponse struct {
	Success bool `json:"success"`
	tasks.Snapshot
}

// SpawnTaskRequest is the body of POST /v1/tasks. Params are forwarded to
// the job system untouched.
type SpawnTaskRequest struct {
	Type           string          `json:"type" validate:"required,max=64"`
	Label          string          `json:"label,omitempty" validate:"max=200"`
	ResourceID     string          `json:"resourceId,omitempty" validate:"max=200"`
	Params         json.RawMessage `json:"params,omitempty"`
	PollIntervalMs int             `json:"pollIntervalMs,omitempty" validate:"gte=0,lte=600000"`
	MaxAttempts    int             `json:"maxAttempts,omitempty" validate:"gte=0,lte=10000"`
}

type SpawnTaskResponse struct {
	Success bool       `json:"success"`
	JobID   string     `json:"job_id"`
	Task    tasks.Task `json:"task"`
}

type ClearTasksResponse struct {
	Success bool `json:"success"`
	Cleared int  `json:"cleared"`
}

// TaskResultResponse carries the job system's latest word on a task.
type TaskResultResponse struct {
	Success bool            `json:"success"`
	ID      string          `json:"id"`
	Status  tasks.Status    `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}
