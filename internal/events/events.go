// Package events provides the typed publish/subscribe bus the engine
// uses to notify collaborators. Subscribers receive concrete event
// structs over a channel; they never mutate engine state directly.
package events

import (
	"encoding/json"
	"time"
)

// Event is implemented by every event the engine publishes.
type Event interface {
	// Name returns the stable event name collaborators subscribe on.
	Name() string
}

// Connection events.

// ConnectionChanged fires on every connection state transition.
type ConnectionChanged struct {
	Status       string
	AttemptCount int
}

func (ConnectionChanged) Name() string { return "connectionChanged" }

// ReconnectAttempt fires when a reconnect timer is scheduled.
type ReconnectAttempt struct {
	Attempt int
	Delay   time.Duration
}

func (ReconnectAttempt) Name() string { return "reconnectAttempt" }

// ConnectionDegraded fires when a heartbeat round-trip exceeds the
// latency threshold. Non-fatal; the connection stays up.
type ConnectionDegraded struct {
	Latency time.Duration
}

func (ConnectionDegraded) Name() string { return "connectionDegraded" }

// ServerMessage carries an application message passed through from the
// remote authority. Payload is the raw frame.
type ServerMessage struct {
	Event   string
	Payload json.RawMessage
}

func (ServerMessage) Name() string { return "serverMessage" }

// Sync run events.

// SyncStarted fires when a run begins dispatching.
type SyncStarted struct {
	RunID      string
	TotalItems int
}

func (SyncStarted) Name() string { return "syncStarted" }

// SyncProgress is broadcast after every item transition.
type SyncProgress struct {
	RunID                  string
	TotalItems             int
	ProcessedItems         int
	FailedItems            int
	ConflictedItems        int
	Percent                float64
	EstimatedTimeRemaining time.Duration
}

func (SyncProgress) Name() string { return "syncProgress" }

// SyncItemProcessed fires when an item reaches a terminal state for
// this run (completed, failed, or conflicted).
type SyncItemProcessed struct {
	RunID    string
	ItemID   string
	Status   string
	Attempts int
	Error    string
}

func (SyncItemProcessed) Name() string { return "syncItemProcessed" }

// ConflictDetected fires when an item diverged from the authoritative
// record and was parked for resolution.
type ConflictDetected struct {
	ItemID           string
	ResourceID       string
	ConflictedFields []string
	DetectedAt       time.Time
}

func (ConflictDetected) Name() string { return "conflictDetected" }

// ConflictResolved fires when a parked conflict is resolved.
type ConflictResolved struct {
	ItemID string
	Policy string
	Status string
}

func (ConflictResolved) Name() string { return "conflictResolved" }

// SyncCompleted fires when a run finishes with every item settled.
type SyncCompleted struct {
	RunID           string
	ProcessedItems  int
	FailedItems     int
	ConflictedItems int
	Duration        time.Duration
}

func (SyncCompleted) Name() string { return "syncCompleted" }

// SyncError fires when an unexpected failure aborts a run.
type SyncError struct {
	RunID string
	Error string
}

func (SyncError) Name() string { return "syncError" }

// SyncPaused fires when dispatching is paused. In-flight items finish.
type SyncPaused struct{ RunID string }

func (SyncPaused) Name() string { return "syncPaused" }

// SyncResumed fires when dispatching resumes.
type SyncResumed struct{ RunID string }

func (SyncResumed) Name() string { return "syncResumed" }

// SyncCancelled fires when a run is cancelled. Unprocessed items remain
// queued for a future run.
type SyncCancelled struct {
	RunID     string
	Abandoned int
}

func (SyncCancelled) Name() string { return "syncCancelled" }
