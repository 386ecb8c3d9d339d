package storage

import (
	"context"
	"errors"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run records one dispatched request.
type Run struct {
	RequestID string
	Kind      string // "flow", "canvas", "delegate" or "session"
	Flow      string // flow name; empty for canvas runs
	Source    string // note or canvas identifier
	Status    string
	Response  string
	Error     string
	Payload   string // JSON encoding of the dispatched payload
	CreatedAt int64  // Unix timestamp
}

// RunStorage records flow and canvas runs.
type RunStorage interface {
	// RecordRun stores a run, replacing any run with the same RequestID.
	RecordRun(ctx context.Context, run Run) error

	// GetRun returns the run with the given request id.
	GetRun(ctx context.Context, requestID string) (Run, error)

	// ListRuns returns the most recent runs first, at most limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
