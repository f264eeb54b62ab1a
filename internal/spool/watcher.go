// Package spool ingests externally supplied data changes from a drop
// directory. Collaborators write one JSON file per change; the watcher
// hands settled files to the orchestrator and consumes them.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpcrae/boardsync/internal/models"
)

// envelope is the drop file format: a data change plus its queue
// priority.
type envelope struct {
	Priority   string          `json:"priority,omitempty"`
	ResourceID string          `json:"resourceId"`
	Resource   string          `json:"resource,omitempty"`
	Baseline   string          `json:"baseline,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// ingester receives parsed changes. Extracted for testability.
type ingester interface {
	AddPendingChange(priority models.Priority, ch models.DataChange) (*models.SyncItem, error)
}

// Watcher monitors the spool directory and feeds drop files to the
// orchestrator.
type Watcher struct {
	dir    string
	sink   ingester
	logger *slog.Logger
}

// NewWatcher creates a spool watcher over dir.
func NewWatcher(dir string, sink ingester, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		sink:   sink,
		logger: logger.With(slog.String("component", "spool")),
	}
}

// Watch ingests existing drop files, then blocks watching for new ones
// until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating spool dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching spool dir: %w", err)
	}

	// Files dropped before startup are still owed ingestion.
	if err := w.sweep(); err != nil {
		return err
	}

	w.logger.Info("spool watcher started", slog.String("dir", w.dir))

	// Debounce: a file is ingested only after writes to it go quiet,
	// so a slow producer is not read mid-write.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			if !isDropFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < 150*time.Millisecond {
					continue
				}
				delete(pending, path)
				w.ingest(path)
			}
		}
	}
}

// sweep ingests every drop file already present in the directory.
func (w *Watcher) sweep() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading spool dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isDropFile(e.Name()) {
			continue
		}
		w.ingest(filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// ingest parses one drop file, hands it to the orchestrator, and
// removes it. Malformed files are renamed aside so they are not
// reprocessed on every sweep.
func (w *Watcher) ingest(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Error("reading drop file",
				slog.String("file", path), slog.String("error", err.Error()))
		}
		return
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.reject(path, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if env.ResourceID == "" {
		w.reject(path, "missing resourceId")
		return
	}
	priority, err := models.ParsePriority(env.Priority)
	if err != nil {
		w.reject(path, err.Error())
		return
	}

	it, err := w.sink.AddPendingChange(priority, models.DataChange{
		ResourceID: env.ResourceID,
		Resource:   env.Resource,
		Baseline:   env.Baseline,
		Data:       env.Data,
	})
	if err != nil {
		w.logger.Error("ingesting drop file",
			slog.String("file", path), slog.String("error", err.Error()))
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.Error("removing consumed drop file",
			slog.String("file", path), slog.String("error", err.Error()))
	}
	w.logger.Info("change ingested",
		slog.String("file", filepath.Base(path)),
		slog.String("item", it.ID),
		slog.String("resource", env.ResourceID))
}

func (w *Watcher) reject(path, reason string) {
	w.logger.Warn("rejecting drop file",
		slog.String("file", path), slog.String("reason", reason))
	if err := os.Rename(path, path+".rejected"); err != nil {
		w.logger.Error("setting aside rejected drop file",
			slog.String("file", path), slog.String("error", err.Error()))
	}
}

func isDropFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(filepath.Base(name), ".")
}
