package spool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcrae/boardsync/internal/models"
)

type fakeSink struct {
	mu    sync.Mutex
	added []models.DataChange
	prios []models.Priority
}

func (f *fakeSink) AddPendingChange(priority models.Priority, ch models.DataChange) (*models.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, ch)
	f.prios = append(f.prios, priority)
	return &models.SyncItem{ID: uuid.NewString()}, nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, dir string, sink *fakeSink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := NewWatcher(dir, sink, testLogger())
	go func() { _ = w.Watch(ctx) }()
}

func writeDrop(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	// Write-then-rename so the watcher never sees a partial file.
	tmp := filepath.Join(dir, "."+name+".tmp")
	require.NoError(t, os.WriteFile(tmp, data, 0644))
	require.NoError(t, os.Rename(tmp, path))
	return path
}

func TestWatch_IngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	startWatcher(t, dir, sink)
	time.Sleep(100 * time.Millisecond)

	path := writeDrop(t, dir, "change.json", map[string]any{
		"priority":   "high",
		"resourceId": "tasks/7",
		"resource":   "task",
		"baseline":   "2024-05-01T10:00:00.000Z",
		"data":       map[string]any{"id": 7, "title": "Ship it"},
	})

	require.Eventually(t, func() bool { return sink.count() == 1 },
		5*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, models.PriorityHigh, sink.prios[0])
	assert.Equal(t, "tasks/7", sink.added[0].ResourceID)
	assert.Equal(t, "task", sink.added[0].Resource)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond, "consumed drop file should be removed")
}

func TestWatch_SweepsPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeDrop(t, dir, "early.json", map[string]any{
		"resourceId": "tasks/1",
		"data":       map[string]any{"id": 1},
	})

	sink := &fakeSink{}
	startWatcher(t, dir, sink)

	require.Eventually(t, func() bool { return sink.count() == 1 },
		5*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, models.PriorityNormal, sink.prios[0], "missing priority defaults to normal")
}

func TestWatch_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	startWatcher(t, dir, sink)
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "broken.json")
	tmp := filepath.Join(dir, ".broken.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("{not json"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path + ".rejected")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestWatch_IgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	startWatcher(t, dir, sink)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))

	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, sink.count())
}
