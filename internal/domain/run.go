package domain

import (
	"context"
	"encoding/json"
	"time"
)

type RunKind string

const (
	KindDatagen RunKind = "datagen"
	KindTBSync  RunKind = "tbsync"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial" // Finished, some workers/entries failed
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run represents one dispatch or sync execution, live or from history
type Run struct {
	ID     string    `json:"id"`
	Kind   RunKind   `json:"kind"`
	Label  string    `json:"label"`
	Status RunStatus `json:"status"`

	// Inputs; only the one matching Kind is set
	Request *WorkRequest `json:"request,omitempty"`
	Source  *Source      `json:"source,omitempty"`

	Total  int `json:"total"`
	Failed int `json:"failed"`

	Detail json.RawMessage `json:"detail,omitempty"`
	Error  string          `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	CancelFunc context.CancelFunc `json:"-"`
}
