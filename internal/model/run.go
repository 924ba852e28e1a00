package model

import "time"

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one invocation of the extraction pipeline.
type Run struct {
	ID        string           `json:"id"`
	Method    ExtractionMethod `json:"method"`
	Terms     []string         `json:"terms"`
	TopK      int              `json:"top_k_pages"`
	Status    RunStatus        `json:"status"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
