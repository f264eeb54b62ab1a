// Package optimistic applies speculative local state immediately,
// tracks it against real sync outcomes, and rolls it back on failure
// or conflict.
package optimistic

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mpcrae/boardsync/internal/errors"
)

// UpdateState is the lifecycle state of an optimistic update.
type UpdateState string

const (
	StatePending    UpdateState = "pending"
	StateConfirmed  UpdateState = "confirmed"
	StateRolledBack UpdateState = "rolledback"
	StateConflicted UpdateState = "conflicted"
)

// Update tracks one speculative mutation. OriginalSnapshot is immutable
// for the update's entire lifetime and is released once the update is
// confirmed or rolled back.
type Update struct {
	ID                  string
	ItemID              string
	OriginalSnapshot    json.RawMessage
	SpeculativeSnapshot json.RawMessage
	State               UpdateState
	CreatedAt           time.Time
}

// Store holds the state readers see. The manager writes speculative
// views through it and restores originals on rollback.
type Store interface {
	Current(itemID string) json.RawMessage
	Set(itemID string, data json.RawMessage)
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

// Current returns the visible state for an item, or nil.
func (m *MemoryStore) Current(itemID string) json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[itemID]
}

// Set replaces the visible state for an item.
func (m *MemoryStore) Set(itemID string, data json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data == nil {
		delete(m.data, itemID)
		return
	}
	m.data[itemID] = data
}

// Manager tracks optimistic updates against sync outcomes.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	updates map[string]*Update
	byItem  map[string][]string
}

// NewManager creates a manager. A nil store gets a fresh MemoryStore.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}

	return &Manager{
		store:   store,
		logger:  logger,
		updates: make(map[string]*Update),
		byItem:  make(map[string][]string),
	}
}

// Apply records the current state as the original snapshot, exposes the
// speculative data to readers immediately, and returns the update
// handle.
func (m *Manager) Apply(itemID string, speculative json.RawMessage) *Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	up := &Update{
		ID:                  uuid.NewString(),
		ItemID:              itemID,
		OriginalSnapshot:    cloneRaw(m.store.Current(itemID)),
		SpeculativeSnapshot: cloneRaw(speculative),
		State:               StatePending,
		CreatedAt:           time.Now().UTC(),
	}

	m.updates[up.ID] = up
	m.byItem[itemID] = append(m.byItem[itemID], up.ID)
	m.store.Set(itemID, cloneRaw(speculative))

	m.logger.Debug("optimistic update applied",
		slog.String("update", up.ID),
		slog.String("item", itemID),
	)

	return snapshotOf(up)
}

// Confirm makes the speculative data durable and releases the original
// snapshot. No-op when the update is already settled. A conflicted
// update cannot be confirmed until its conflict is resolved.
func (m *Manager) Confirm(updateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.updates[updateID]
	if !ok {
		return nil
	}

	switch up.State {
	case StateConfirmed, StateRolledBack:
		return nil
	case StateConflicted:
		return apperrors.ErrConflictPending
	}

	up.State = StateConfirmed
	up.OriginalSnapshot = nil // released on confirmation

	return nil
}

// Rollback restores the original snapshot verbatim and discards the
// speculative data. Idempotent: a settled update is left untouched.
// Conflicted updates may be rolled back (conflict resolved against the
// local change).
func (m *Manager) Rollback(updateID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.updates[updateID]
	if !ok {
		return
	}

	switch up.State {
	case StateConfirmed, StateRolledBack:
		return
	}

	m.store.Set(up.ItemID, cloneRaw(up.OriginalSnapshot))
	up.State = StateRolledBack
	up.SpeculativeSnapshot = nil
	up.OriginalSnapshot = nil // restored, then released

	m.logger.Debug("optimistic update rolled back",
		slog.String("update", up.ID),
		slog.String("item", up.ItemID),
	)
}

// ConfirmResolved confirms a previously conflicted update after its
// conflict was resolved in favor of the local change.
func (m *Manager) ConfirmResolved(updateID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.updates[updateID]
	if !ok || up.State != StateConflicted {
		return
	}

	up.State = StateConfirmed
	up.OriginalSnapshot = nil
}

// MarkConflicted routes every pending update for an item to the
// conflicted state, blocking automatic confirmation until resolution.
func (m *Manager) MarkConflicted(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byItem[itemID] {
		if up := m.updates[id]; up != nil && up.State == StatePending {
			up.State = StateConflicted
		}
	}
}

// ConfirmItem confirms every pending update for an item.
func (m *Manager) ConfirmItem(itemID string) {
	m.mu.Lock()
	ids := append([]string(nil), m.byItem[itemID]...)
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Confirm(id)
	}
}

// RollbackItem rolls back every unsettled update for an item. Stacked
// updates unwind newest-first: each original snapshot is the previous
// update's speculative data, so the last restore must be the oldest
// update's original.
func (m *Manager) RollbackItem(itemID string) {
	m.mu.Lock()
	ids := append([]string(nil), m.byItem[itemID]...)
	m.mu.Unlock()

	for i := len(ids) - 1; i >= 0; i-- {
		m.Rollback(ids[i])
	}
}

// ResolveItem settles every conflicted update for an item after its
// conflict resolution: confirmed when the local change survived,
// rolled back when it was discarded.
func (m *Manager) ResolveItem(itemID string, localSurvived bool) {
	m.mu.Lock()
	ids := append([]string(nil), m.byItem[itemID]...)
	m.mu.Unlock()

	if localSurvived {
		for _, id := range ids {
			m.ConfirmResolved(id)
		}
		return
	}

	// Discarded local changes unwind newest-first, like RollbackItem.
	for i := len(ids) - 1; i >= 0; i-- {
		m.Rollback(ids[i])
	}
}

// HasPendingUpdates reports whether an item has updates awaiting an
// outcome (pending or conflicted).
func (m *Manager) HasPendingUpdates(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byItem[itemID] {
		if up := m.updates[id]; up != nil && (up.State == StatePending || up.State == StateConflicted) {
			return true
		}
	}

	return false
}

// PendingUpdatesForItem returns snapshots of the unsettled updates for
// an item, for UI and collaborator inspection.
func (m *Manager) PendingUpdatesForItem(itemID string) []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Update
	for _, id := range m.byItem[itemID] {
		up := m.updates[id]
		if up == nil || (up.State != StatePending && up.State != StateConflicted) {
			continue
		}

		out = append(out, *snapshotOf(up))
	}

	return out
}

// Get returns a snapshot of a single update, or nil.
func (m *Manager) Get(updateID string) *Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.updates[updateID]
	if !ok {
		return nil
	}

	return snapshotOf(up)
}

// Current returns the visible (possibly speculative) state for an item.
func (m *Manager) Current(itemID string) json.RawMessage {
	return m.store.Current(itemID)
}

// snapshotOf copies an update so callers cannot mutate tracked state.
func snapshotOf(up *Update) *Update {
	cp := *up
	cp.OriginalSnapshot = cloneRaw(up.OriginalSnapshot)
	cp.SpeculativeSnapshot = cloneRaw(up.SpeculativeSnapshot)

	return &cp
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}

	return append(json.RawMessage(nil), b...)
}
