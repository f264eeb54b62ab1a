// Package orchestrator merges queued offline actions and pending data
// changes into ordered sync runs and dispatches them against the
// remote authority under a concurrency bound.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mpcrae/boardsync/internal/conflict"
	apperrors "github.com/mpcrae/boardsync/internal/errors"
	"github.com/mpcrae/boardsync/internal/events"
	"github.com/mpcrae/boardsync/internal/models"
	"github.com/mpcrae/boardsync/internal/optimistic"
	"github.com/mpcrae/boardsync/internal/queue"
	"github.com/mpcrae/boardsync/internal/state"
)

// API is the remote authority surface the orchestrator dispatches
// against. *authority.Client satisfies it.
type API interface {
	Do(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error)
	Put(ctx context.Context, resourceID string, body json.RawMessage) (json.RawMessage, error)
}

// Config carries the orchestrator tunables.
type Config struct {
	MaxConcurrentSyncs int
	RetryAttempts      int
	RetryDelay         time.Duration

	// Policy is the run-level conflict policy. Per-resource rules on
	// the resolver take precedence.
	Policy conflict.Policy
}

const (
	defaultMaxConcurrent = 3
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
)

// Orchestrator owns the sync run, the conflict list, and the item
// lifecycle. All mutation goes through its entry points; collaborators
// observe through events and read-only snapshots.
type Orchestrator struct {
	cfg        Config
	api        API
	queue      *queue.Queue
	store      *state.Store
	detector   *conflict.Detector
	resolver   *conflict.Resolver
	optimistic *optimistic.Manager
	bus        *events.Bus
	logger     *slog.Logger

	mu        sync.Mutex
	run       *models.SyncRun
	active    bool
	paused    bool
	cancelled bool
	fatal     string
	resumeCh  chan struct{}
	startedAt time.Time

	// pending buffers externally supplied data changes until the next
	// run picks them up alongside the drained queue.
	pending []models.SyncItem

	// conflicts maps item ID to the full detection record for every
	// parked item. Items stay here until resolved.
	conflicts map[string]*conflictEntry
}

type conflictEntry struct {
	item   *models.SyncItem
	record *conflict.Record
	change models.DataChange
}

// New builds an orchestrator. Zero config fields fall back to their
// defaults; an unset policy means manual.
func New(cfg Config, api API, q *queue.Queue, store *state.Store,
	det *conflict.Detector, res *conflict.Resolver, opt *optimistic.Manager,
	bus *events.Bus, logger *slog.Logger) *Orchestrator {

	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = defaultMaxConcurrent
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Policy == "" {
		cfg.Policy = conflict.PolicyManual
	}
	return &Orchestrator{
		cfg:        cfg,
		api:        api,
		queue:      q,
		store:      store,
		detector:   det,
		resolver:   res,
		optimistic: opt,
		bus:        bus,
		logger:     logger.With(slog.String("component", "orchestrator")),
		conflicts:  make(map[string]*conflictEntry),
	}
}

// Start subscribes to connection events and triggers a run whenever
// the channel comes up or the authority requests one. It returns when
// ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	ch, unsub := o.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev := e.(type) {
			case events.ConnectionChanged:
				if ev.Status == "connected" {
					o.syncInBackground(ctx, "reconnected")
				}
			case events.ServerMessage:
				if ev.Event == "sync_required" {
					o.syncInBackground(ctx, "server request")
				}
			}
		}
	}
}

func (o *Orchestrator) syncInBackground(ctx context.Context, reason string) {
	go func() {
		if err := o.Sync(ctx); err != nil && err != apperrors.ErrRunActive {
			o.logger.Error("sync failed",
				slog.String("trigger", reason),
				slog.String("error", err.Error()))
		}
	}()
}

// AddPendingChange buffers an externally supplied data change for the
// next run. Items added while a run is active join the following run.
func (o *Orchestrator) AddPendingChange(priority models.Priority, ch models.DataChange) (*models.SyncItem, error) {
	payload, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("encoding data change: %w", err)
	}
	it := models.SyncItem{
		ID:         uuid.NewString(),
		Kind:       models.KindDataChange,
		Priority:   priority,
		Payload:    payload,
		Status:     models.StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
	o.mu.Lock()
	it.Seq = uint64(len(o.pending))
	o.pending = append(o.pending, it)
	o.mu.Unlock()
	return &it, nil
}

// BuildRun drains the queue, merges in buffered pending changes, and
// produces the ordered item list for a new run.
func (o *Orchestrator) BuildRun() (*models.SyncRun, []*models.SyncItem, error) {
	queued, err := o.queue.Drain()
	if err != nil {
		return nil, nil, fmt.Errorf("draining queue: %w", err)
	}

	o.mu.Lock()
	extra := o.pending
	o.pending = nil
	o.mu.Unlock()

	items := make([]*models.SyncItem, 0, len(queued)+len(extra))
	for i := range queued {
		items = append(items, &queued[i])
	}
	for i := range extra {
		items = append(items, &extra[i])
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Before(items[j])
	})

	run := &models.SyncRun{
		ID:         uuid.NewString(),
		Status:     models.RunIdle,
		TotalItems: len(items),
		StartedAt:  time.Now().UTC(),
	}
	return run, items, nil
}

// Sync builds and processes one run end to end. It returns ErrRunActive
// if a run is already in flight.
func (o *Orchestrator) Sync(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return apperrors.ErrRunActive
	}
	o.active = true
	o.paused = false
	o.cancelled = false
	o.fatal = ""
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active = false
		o.mu.Unlock()
	}()

	run, items, err := o.BuildRun()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		o.logger.Debug("nothing to sync")
		return nil
	}

	o.mu.Lock()
	o.run = run
	o.run.Status = models.RunSyncing
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.logger.Info("sync started",
		slog.String("run", run.ID),
		slog.Int("items", len(items)))
	o.bus.Publish(events.SyncStarted{RunID: run.ID, TotalItems: len(items)})

	return o.processRun(ctx, items)
}

// processRun dispatches items under the concurrency bound. Within one
// item, retries are strictly serialized; across items, up to
// MaxConcurrentSyncs run at once.
func (o *Orchestrator) processRun(ctx context.Context, items []*models.SyncItem) (err error) {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentSyncs))
	next := 0

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run aborted", slog.Any("panic", r))
			o.abortRun(items[next:], fmt.Sprintf("%v", r))
			err = fmt.Errorf("run aborted: %v: %w", r, apperrors.ErrFatalSync)
		}
	}()

	for ; next < len(items); next++ {
		if err := o.gate(ctx); err != nil {
			break
		}
		if o.isCancelled() || o.fatalReason() != "" {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if o.isCancelled() || o.fatalReason() != "" {
			sem.Release(1)
			break
		}
		it := items[next]
		go func() {
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("item processing panicked",
						slog.String("item", it.ID),
						slog.Any("panic", r))
					o.mu.Lock()
					o.fatal = fmt.Sprintf("%v", r)
					o.mu.Unlock()
				}
			}()
			o.processItem(ctx, it)
		}()
	}

	// Wait for in-flight items; cancel never interrupts them.
	if err := sem.Acquire(context.WithoutCancel(ctx), int64(o.cfg.MaxConcurrentSyncs)); err != nil {
		return err
	}

	if reason := o.fatalReason(); reason != "" {
		o.abortRun(items[next:], reason)
		return fmt.Errorf("run aborted: %s: %w", reason, apperrors.ErrFatalSync)
	}
	if next < len(items) || o.isCancelled() {
		return o.finishCancelled(items[next:])
	}
	if ctx.Err() != nil {
		o.abortRun(nil, ctx.Err().Error())
		return ctx.Err()
	}
	return o.finishCompleted()
}

// gate blocks while the run is paused.
func (o *Orchestrator) gate(ctx context.Context) error {
	for {
		o.mu.Lock()
		if !o.paused {
			o.mu.Unlock()
			return nil
		}
		ch := o.resumeCh
		o.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *Orchestrator) fatalReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatal
}

// processItem runs an item's attempts to a terminal state. The item is
// owned by this goroutine; shared counters are touched under the lock.
func (o *Orchestrator) processItem(ctx context.Context, it *models.SyncItem) {
	it.Status = models.StatusProcessing
	o.broadcastProgress()

	for {
		it.Attempts++
		it.LastAttemptAt = time.Now().UTC()

		outcome, err := o.dispatch(ctx, it)
		if err == nil {
			o.settle(it, outcome)
			return
		}

		it.LastError = err.Error()
		if it.Attempts >= o.cfg.RetryAttempts {
			o.logger.Warn("item failed, retries exhausted",
				slog.String("item", it.ID),
				slog.Int("attempts", it.Attempts),
				slog.String("error", err.Error()))
			it.LastError = fmt.Errorf("%w: %s", apperrors.ErrRetriesExhausted, err.Error()).Error()
			o.settle(it, models.StatusFailed)
			return
		}

		// Scheduled retry: the item drops back to pending until the
		// backoff elapses, then re-enters processing.
		it.Status = models.StatusPending
		o.broadcastProgress()
		delay := o.cfg.RetryDelay << (it.Attempts - 1)
		o.logger.Debug("item retry scheduled",
			slog.String("item", it.ID),
			slog.Int("attempt", it.Attempts),
			slog.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			o.settle(it, models.StatusFailed)
			return
		}
		it.Status = models.StatusProcessing
		o.broadcastProgress()
	}
}

// dispatch performs one delivery attempt. A conflicted outcome is not
// an error; it parks the item instead of consuming retries.
func (o *Orchestrator) dispatch(ctx context.Context, it *models.SyncItem) (models.ItemStatus, error) {
	switch it.Kind {
	case models.KindAPIRequest:
		var req models.APIRequest
		if err := json.Unmarshal(it.Payload, &req); err != nil {
			return "", fmt.Errorf("decoding api request payload: %w", err)
		}
		if _, err := o.api.Do(ctx, req.Method, req.Path, req.Body); err != nil {
			return "", err
		}
		return models.StatusCompleted, nil

	case models.KindDataChange:
		var ch models.DataChange
		if err := json.Unmarshal(it.Payload, &ch); err != nil {
			return "", fmt.Errorf("decoding data change payload: %w", err)
		}
		return o.dispatchChange(ctx, it, ch)
	}
	return "", fmt.Errorf("unknown item kind %q", it.Kind)
}

func (o *Orchestrator) dispatchChange(ctx context.Context, it *models.SyncItem, ch models.DataChange) (models.ItemStatus, error) {
	rec, err := o.detector.Detect(ctx, it.ID, ch)
	if err != nil {
		return "", err
	}
	if rec == nil {
		if _, err := o.api.Put(ctx, ch.ResourceID, ch.Data); err != nil {
			return "", err
		}
		return models.StatusCompleted, nil
	}

	o.bus.Publish(events.ConflictDetected{
		ItemID:           it.ID,
		ResourceID:       rec.ResourceID,
		ConflictedFields: rec.ConflictedFields,
		DetectedAt:       rec.DetectedAt,
	})

	pol := o.resolver.PolicyFor(ch.Resource, o.cfg.Policy)
	if pol == conflict.PolicyManual {
		o.park(it, rec, ch)
		return models.StatusConflicted, nil
	}

	res, err := o.resolver.Resolve(rec, pol)
	if err != nil {
		return "", err
	}
	if res.Skipped {
		it.Skipped = true
		o.optimistic.ResolveItem(it.ID, false)
		o.bus.Publish(events.ConflictResolved{ItemID: it.ID, Policy: string(pol), Status: string(models.StatusCompleted)})
		return models.StatusCompleted, nil
	}
	if _, err := o.api.Put(ctx, ch.ResourceID, res.Final); err != nil {
		return "", err
	}
	o.optimistic.ResolveItem(it.ID, true)
	o.bus.Publish(events.ConflictResolved{ItemID: it.ID, Policy: string(pol), Status: string(models.StatusCompleted)})
	return models.StatusCompleted, nil
}

// park records a manual-policy conflict: the item leaves automatic
// progress and waits on ResolveConflict.
func (o *Orchestrator) park(it *models.SyncItem, rec *conflict.Record, ch models.DataChange) {
	ref := models.ConflictRef{
		ItemID:       it.ID,
		ConflictType: "data_change",
		DetectedAt:   rec.DetectedAt,
	}
	if err := o.store.SaveConflictRef(ref); err != nil {
		o.logger.Error("persisting conflict ref", slog.String("error", err.Error()))
	}
	o.optimistic.MarkConflicted(it.ID)
	o.mu.Lock()
	o.conflicts[it.ID] = &conflictEntry{item: it, record: rec, change: ch}
	o.mu.Unlock()
	o.logger.Info("conflict parked",
		slog.String("item", it.ID),
		slog.String("resource", rec.ResourceID),
		slog.Any("fields", rec.ConflictedFields))
}

// settle moves an item to its terminal state for this run and updates
// the run counters.
func (o *Orchestrator) settle(it *models.SyncItem, status models.ItemStatus) {
	it.Status = status

	o.mu.Lock()
	if o.run != nil {
		switch status {
		case models.StatusCompleted:
			o.run.ProcessedItems++
		case models.StatusFailed:
			o.run.FailedItems++
		case models.StatusConflicted:
			o.run.ConflictedItems++
		}
	}
	o.mu.Unlock()

	switch status {
	case models.StatusCompleted:
		if !it.Skipped {
			o.optimistic.ConfirmItem(it.ID)
		}
	case models.StatusFailed:
		o.optimistic.RollbackItem(it.ID)
	}

	o.bus.Publish(events.SyncItemProcessed{
		RunID:    o.runID(),
		ItemID:   it.ID,
		Status:   string(status),
		Attempts: it.Attempts,
		Error:    it.LastError,
	})
	o.broadcastProgress()
}

// Pause stops dispatching new items; in-flight items finish.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return apperrors.ErrNoActiveRun
	}
	if o.paused {
		return nil
	}
	o.paused = true
	o.resumeCh = make(chan struct{})
	o.run.Status = models.RunPaused
	o.bus.Publish(events.SyncPaused{RunID: o.run.ID})
	o.logger.Info("sync paused", slog.String("run", o.run.ID))
	return nil
}

// Resume restarts dispatching after Pause.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return apperrors.ErrNoActiveRun
	}
	if !o.paused {
		return nil
	}
	o.paused = false
	close(o.resumeCh)
	o.run.Status = models.RunSyncing
	o.bus.Publish(events.SyncResumed{RunID: o.run.ID})
	o.logger.Info("sync resumed", slog.String("run", o.run.ID))
	return nil
}

// Cancel stops admitting new items. In-flight items finish; anything
// undispatched goes back to the queue for a future run.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return apperrors.ErrNoActiveRun
	}
	o.cancelled = true
	if o.paused {
		o.paused = false
		close(o.resumeCh)
	}
	o.logger.Info("sync cancel requested", slog.String("run", o.run.ID))
	return nil
}

// ResolveConflict settles a parked item under the given policy. With
// PolicyMerge a caller-provided merged record overrides the computed
// merge. The item finishes completed, or returns to the queue as
// pending when the delivery attempt fails.
func (o *Orchestrator) ResolveConflict(ctx context.Context, itemID string, pol conflict.Policy, merged json.RawMessage) error {
	if pol == conflict.PolicyManual {
		return fmt.Errorf("cannot resolve a conflict with the manual policy")
	}

	o.mu.Lock()
	entry, ok := o.conflicts[itemID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("no pending conflict for item %s", itemID)
	}
	delete(o.conflicts, itemID)
	o.mu.Unlock()

	res, err := o.resolver.Resolve(entry.record, pol)
	if err != nil {
		o.requeueConflicted(entry)
		return err
	}
	final := res.Final
	if merged != nil && pol == conflict.PolicyMerge {
		final = merged
	}

	it := entry.item
	status := models.StatusCompleted
	if res.Skipped {
		it.Skipped = true
		o.optimistic.ResolveItem(itemID, false)
	} else {
		if _, err := o.api.Put(ctx, entry.change.ResourceID, final); err != nil {
			// Fresh delivery attempt later: back to pending with the
			// resolved record and an advanced baseline.
			o.logger.Warn("resolved conflict delivery failed, requeueing",
				slog.String("item", itemID),
				slog.String("error", err.Error()))
			entry.change.Data = final
			entry.change.Baseline = entry.record.RemoteVersion
			o.requeueConflicted(entry)
			status = models.StatusPending
		} else {
			o.optimistic.ResolveItem(itemID, true)
		}
	}

	if status == models.StatusCompleted {
		it.Status = models.StatusCompleted
	}
	if err := o.store.DeleteConflictRef(itemID); err != nil {
		o.logger.Error("removing conflict ref", slog.String("error", err.Error()))
	}

	o.mu.Lock()
	if o.run != nil && o.run.ConflictedItems > 0 {
		o.run.ConflictedItems--
		if status == models.StatusCompleted {
			o.run.ProcessedItems++
		}
	}
	o.mu.Unlock()

	o.bus.Publish(events.ConflictResolved{ItemID: itemID, Policy: string(pol), Status: string(status)})
	o.broadcastProgress()
	o.logger.Info("conflict resolved",
		slog.String("item", itemID),
		slog.String("policy", string(pol)),
		slog.String("status", string(status)))
	return nil
}

func (o *Orchestrator) requeueConflicted(entry *conflictEntry) {
	payload, err := json.Marshal(entry.change)
	if err == nil {
		it := *entry.item
		it.Payload = payload
		it.Status = models.StatusPending
		err = o.queue.Requeue(&it)
	}
	if err != nil {
		o.logger.Error("requeueing conflicted item",
			slog.String("item", entry.item.ID),
			slog.String("error", err.Error()))
	}
}

// Conflicts returns the visible conflict list, ordered by detection
// time.
func (o *Orchestrator) Conflicts() []conflict.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]conflict.Record, 0, len(o.conflicts))
	for _, e := range o.conflicts {
		out = append(out, *e.record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// Status returns a snapshot of the current or most recent run. The
// zero run with status idle means no run has happened yet.
func (o *Orchestrator) Status() models.SyncRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return models.SyncRun{Status: models.RunIdle}
	}
	return *o.run
}

// History returns the persisted run ring, most recent last.
func (o *Orchestrator) History() ([]models.SyncRun, error) {
	return o.store.Runs()
}

func (o *Orchestrator) runID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return ""
	}
	return o.run.ID
}

// broadcastProgress recomputes and publishes run progress. Called
// after every item transition.
func (o *Orchestrator) broadcastProgress() {
	o.mu.Lock()
	run := o.run
	if run == nil {
		o.mu.Unlock()
		return
	}
	settled := run.ProcessedItems + run.FailedItems + run.ConflictedItems
	var percent float64
	if run.TotalItems > 0 {
		percent = float64(settled) / float64(run.TotalItems) * 100
	}
	var eta time.Duration
	if run.ProcessedItems > 0 {
		elapsed := time.Since(o.startedAt)
		remaining := run.TotalItems - settled
		eta = elapsed / time.Duration(run.ProcessedItems) * time.Duration(remaining)
	}
	ev := events.SyncProgress{
		RunID:                  run.ID,
		TotalItems:             run.TotalItems,
		ProcessedItems:         run.ProcessedItems,
		FailedItems:            run.FailedItems,
		ConflictedItems:        run.ConflictedItems,
		Percent:                percent,
		EstimatedTimeRemaining: eta,
	}
	o.mu.Unlock()
	o.bus.Publish(ev)
}

func (o *Orchestrator) finishCompleted() error {
	o.mu.Lock()
	o.run.Status = models.RunCompleted
	o.run.EndedAt = time.Now().UTC()
	run := *o.run
	duration := time.Since(o.startedAt)
	o.mu.Unlock()

	o.persistRun(run)
	o.bus.Publish(events.SyncCompleted{
		RunID:           run.ID,
		ProcessedItems:  run.ProcessedItems,
		FailedItems:     run.FailedItems,
		ConflictedItems: run.ConflictedItems,
		Duration:        duration,
	})
	o.logger.Info("sync completed",
		slog.String("run", run.ID),
		slog.Int("processed", run.ProcessedItems),
		slog.Int("failed", run.FailedItems),
		slog.Int("conflicted", run.ConflictedItems),
		slog.Duration("duration", duration))
	return nil
}

// finishCancelled requeues undispatched items and closes the run.
func (o *Orchestrator) finishCancelled(unprocessed []*models.SyncItem) error {
	for _, it := range unprocessed {
		it.Status = models.StatusPending
		if err := o.queue.Requeue(it); err != nil {
			o.logger.Error("requeueing abandoned item",
				slog.String("item", it.ID),
				slog.String("error", err.Error()))
		}
	}

	o.mu.Lock()
	o.run.Status = models.RunCancelled
	o.run.EndedAt = time.Now().UTC()
	run := *o.run
	o.mu.Unlock()

	o.persistRun(run)
	o.bus.Publish(events.SyncCancelled{RunID: run.ID, Abandoned: len(unprocessed)})
	o.logger.Info("sync cancelled",
		slog.String("run", run.ID),
		slog.Int("abandoned", len(unprocessed)))
	return nil
}

// abortRun handles a fatal orchestration failure: unprocessed items go
// back to the queue and the run ends in the error state.
func (o *Orchestrator) abortRun(unprocessed []*models.SyncItem, reason string) {
	for _, it := range unprocessed {
		it.Status = models.StatusPending
		if err := o.queue.Requeue(it); err != nil {
			o.logger.Error("requeueing item after abort",
				slog.String("item", it.ID),
				slog.String("error", err.Error()))
		}
	}

	o.mu.Lock()
	o.run.Status = models.RunError
	o.run.EndedAt = time.Now().UTC()
	run := *o.run
	o.mu.Unlock()

	o.persistRun(run)
	o.bus.Publish(events.SyncError{RunID: run.ID, Error: reason})
}

func (o *Orchestrator) persistRun(run models.SyncRun) {
	if err := o.store.AppendRun(run); err != nil {
		o.logger.Error("persisting run", slog.String("error", err.Error()))
	}
}
