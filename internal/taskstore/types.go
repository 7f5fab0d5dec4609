package taskstore

import (
	"errors"
	"time"
)

// Status is the externally visible lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is write-once final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one submitted research request and its lifecycle record.
// Exactly one of Result/Error is set once the status is terminal.
type Task struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	// ErrTaskNotFound is returned when a task does not exist or its
	// retention window has elapsed.
	ErrTaskNotFound = errors.New("task not found")
)
