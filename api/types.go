package api

import (
	"time"

	"sessionscan/scanner"
)

// Task lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanTask represents a range scan managed by the API service.
type ScanTask struct {
	// ID is the immutable identifier of the scan task (UUID v4).
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	// Status reflects the asynchronous lifecycle state of the task.
	Status string `json:"status" enums:"pending,running,completed,failed" example:"pending"`
	// Ranges lists the CIDR blocks submitted for the scan, normalized.
	Ranges []string `json:"ranges" example:"[\"192.0.2.0/24\"]"`
	// Workers is the number of concurrent probes used for this task.
	Workers int `json:"workers" example:"200"`
	// Matches grows while the task runs; one entry per confirmed service.
	Matches []scanner.MatchRecord `json:"matches,omitempty"`
	// Summary is attached once the scan finishes.
	Summary *scanner.Summary `json:"summary,omitempty"`
	// CreatedAt records when the task was accepted.
	CreatedAt time.Time `json:"created_at" format:"date-time" example:"2024-01-02T15:04:05Z"`
	// StartedAt is set when a worker picks the task up.
	StartedAt *time.Time `json:"started_at,omitempty" format:"date-time"`
	// CompletedAt is set once the task reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
	// Error contains context when a task fails.
	Error string `json:"error,omitempty" example:"failed to enqueue 192.0.2.0/24"`
}

// CreateScanRequest is the payload for creating new scan tasks.
type CreateScanRequest struct {
	// Ranges to scan, in CIDR notation or as single addresses.
	Ranges []string `json:"ranges" binding:"required,min=1,max=64,dive,required" example:"[\"192.0.2.0/24\",\"198.51.100.7\"]"`
	// Workers overrides the configured worker count for this task.
	Workers int `json:"workers" binding:"omitempty,min=1,max=2000" example:"200"`
}

// ScanAcceptedResponse captures the asynchronous acknowledgement returned after job submission.
type ScanAcceptedResponse struct {
	ID     string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	Status string `json:"status" enums:"pending" example:"pending"`
	// Hosts is the number of addresses the task will probe.
	Hosts string `json:"hosts" example:"254"`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	Error string `json:"error" example:"task not found"`
}
