// Package queue implements the durable holding area for mutations
// attempted while disconnected. Items are dequeued priority-descending,
// FIFO within a priority class, and survive process restarts.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mpcrae/boardsync/internal/models"
	"github.com/mpcrae/boardsync/internal/state"
)

// Queue is the offline action queue. Append-only while disconnected;
// the orchestrator drains it on the connected transition.
type Queue struct {
	store  *state.Store
	logger *slog.Logger
}

// New creates a queue over the given store.
func New(store *state.Store, logger *slog.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// Enqueue records a new offline action and persists it. The returned
// item carries its assigned ID and sequence number.
func (q *Queue) Enqueue(kind models.Kind, priority models.Priority, payload json.RawMessage) (*models.SyncItem, error) {
	it := &models.SyncItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		Priority:   priority,
		Payload:    payload,
		Status:     models.StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := q.store.Enqueue(it); err != nil {
		return nil, fmt.Errorf("persisting queued action: %w", err)
	}

	q.logger.Debug("action queued",
		slog.String("id", it.ID),
		slog.String("kind", string(kind)),
		slog.String("priority", string(priority)),
	)

	return it, nil
}

// Requeue puts an item back for a future run, keeping its identity and
// original enqueue time so its dequeue position is preserved.
func (q *Queue) Requeue(it *models.SyncItem) error {
	it.Status = models.StatusPending

	if err := q.store.Enqueue(it); err != nil {
		return fmt.Errorf("requeueing item %s: %w", it.ID, err)
	}

	return nil
}

// Drain removes and returns all queued items in dequeue order.
func (q *Queue) Drain() ([]models.SyncItem, error) {
	items, err := q.store.Drain()
	if err != nil {
		return nil, fmt.Errorf("draining queue: %w", err)
	}

	return items, nil
}

// Items returns a snapshot of queued items in dequeue order.
func (q *Queue) Items() ([]models.SyncItem, error) {
	return q.store.QueuedItems()
}

// Len returns the number of queued items.
func (q *Queue) Len() (int, error) {
	return q.store.QueueLen()
}

// Clear discards all queued items without attempting delivery. Used for
// an explicit user-initiated purge.
func (q *Queue) Clear() (int, error) {
	removed, err := q.store.ClearQueue()
	if err != nil {
		return 0, fmt.Errorf("clearing queue: %w", err)
	}

	if removed > 0 {
		q.logger.Info("queue cleared", slog.Int("discarded", removed))
	}

	return removed, nil
}
