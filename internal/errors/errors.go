package errors

import "errors"

// Connection errors.
var (
	// ErrTransport covers connection drops and handshake timeouts. The
	// reconnection policy handles these internally; callers only see one
	// when the connection manager has given up.
	ErrTransport = errors.New("transport failure")

	// ErrConnectionFailed is the terminal connection state after the
	// reconnect attempt limit is exhausted. Cleared only by a forced
	// reconnect.
	ErrConnectionFailed = errors.New("connection failed, reconnect limit reached")

	ErrNotConnected = errors.New("not connected")
)

// Sync errors.
var (
	// ErrRequest marks a single sync item's network call failing.
	// Retried automatically until the attempt budget is spent.
	ErrRequest = errors.New("request failed")

	// ErrRetriesExhausted is the terminal per-item failure after all
	// retry attempts. It does not abort the run.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrConflictPending is not a failure: the item diverged from the
	// authoritative record and is parked until resolved.
	ErrConflictPending = errors.New("conflict pending resolution")

	// ErrFatalSync aborts the remainder of a run. Unprocessed items stay
	// queued for the next run.
	ErrFatalSync = errors.New("fatal sync error")

	ErrRunActive   = errors.New("a sync run is already active")
	ErrNoActiveRun = errors.New("no active sync run")
)
