package tasks

import "time"

// Status is the lifecycle state of a tracked task. The set is closed:
// a task is pending until it reaches exactly one terminal state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Terminal reports whether s is success or failure.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// Meta holds caller-supplied display fields. It carries no behavioral weight.
type Meta struct {
	Label      string `json:"label,omitempty"`
	Type       string `json:"type,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
}

// merge overwrites fields of m with the non-empty fields of other.
func (m Meta) merge(other Meta) Meta {
	if other.Label != "" {
		m.Label = other.Label
	}
	if other.Type != "" {
		m.Type = other.Type
	}
	if other.ResourceID != "" {
		m.ResourceID = other.ResourceID
	}
	return m
}

// Task is one record in the Registry. Values handed out by the Registry are
// copies; mutating them has no effect on the Registry.
type Task struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Message      string    `json:"message,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Meta         Meta      `json:"meta"`
}

// Snapshot is an immutable view of the Registry at one point in time.
type Snapshot struct {
	// Tasks are ordered most recent first.
	Tasks   []Task `json:"tasks"`
	Total   int    `json:"total"`
	Pending int    `json:"pending"`
}

func newSnapshot(list []Task) Snapshot {
	out := make([]Task, len(list))
	copy(out, list)

	pending := 0
	for _, t := range out {
		if t.Status == StatusPending {
			pending++
		}
	}
	return Snapshot{Tasks: out, Total: len(out), Pending: pending}
}
