// Package models holds the shared domain types passed between the
// queue, the orchestrator, and the persistence layer.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders sync items within a run. High drains before normal,
// normal before low; ties break on enqueue time.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the numeric dispatch rank; lower dispatches first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	}
	// Unknown priorities sort last rather than failing the item.
	return 3
}

// ParsePriority validates a priority string, defaulting empty to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}

	return "", fmt.Errorf("invalid priority %q", s)
}

// Kind distinguishes replayed API calls from content changes that go
// through conflict detection.
type Kind string

const (
	KindAPIRequest Kind = "api_request"
	KindDataChange Kind = "data_change"
)

// ItemStatus is the lifecycle state of a sync item. The only permitted
// moves are pending→processing and processing→{pending (scheduled
// retry), completed, failed, conflicted}.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
	StatusConflicted ItemStatus = "conflicted"
)

// SyncItem is one queued unit of replay work. The orchestrator owns it
// exclusively while it is queued or processing.
type SyncItem struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Priority   Priority        `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	Status     ItemStatus      `json:"status"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`

	// Seq disambiguates items enqueued in the same nanosecond and fixes
	// FIFO order within a priority class.
	Seq uint64 `json:"seq"`

	LastAttemptAt time.Time `json:"lastAttemptAt,omitzero"`
	LastError     string    `json:"lastError,omitempty"`

	// Skipped annotates items completed without a network write
	// (remote-wins resolution).
	Skipped bool `json:"skipped,omitempty"`
}

// Before reports whether a dispatches ahead of b under the
// priority-then-enqueue-time ordering.
func (a *SyncItem) Before(b *SyncItem) bool {
	if ar, br := a.Priority.Rank(), b.Priority.Rank(); ar != br {
		return ar < br
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}

// APIRequest is the payload carried by KindAPIRequest items: a network
// call captured while disconnected, replayed verbatim.
type APIRequest struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// DataChange is the payload carried by KindDataChange items: a local
// edit to an identifiable resource, subject to conflict detection.
type DataChange struct {
	ResourceID string `json:"resourceId"`

	// Resource is the resource kind (task, board, ...) used to select a
	// per-kind policy rule. Optional.
	Resource string `json:"resource,omitempty"`

	// Baseline is the lastModified marker of the record the edit was
	// made against. A strictly newer remote marker signals divergence.
	Baseline string `json:"baseline,omitempty"`

	Data json.RawMessage `json:"data"`
}

// ConflictRef is the lightweight persisted reference to a parked
// conflict. Full payloads are reconstructed from the authority on
// demand, never persisted verbatim.
type ConflictRef struct {
	ItemID       string    `json:"itemId"`
	ConflictType string    `json:"conflictType"`
	DetectedAt   time.Time `json:"detectedAt"`
}

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunSyncing   RunStatus = "syncing"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// SyncRun summarizes one end-to-end execution of the orchestrator.
// Historical runs are retained in a ring of the last ten.
type SyncRun struct {
	ID              string    `json:"id"`
	Status          RunStatus `json:"status"`
	TotalItems      int       `json:"totalItems"`
	ProcessedItems  int       `json:"processedItems"`
	FailedItems     int       `json:"failedItems"`
	ConflictedItems int       `json:"conflictedItems"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt,omitzero"`
}
