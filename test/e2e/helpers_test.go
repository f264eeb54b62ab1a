package e2e_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpcrae/boardsync/internal/authority"
	"github.com/mpcrae/boardsync/internal/conflict"
	"github.com/mpcrae/boardsync/internal/events"
	"github.com/mpcrae/boardsync/internal/models"
	"github.com/mpcrae/boardsync/internal/optimistic"
	"github.com/mpcrae/boardsync/internal/orchestrator"
	"github.com/mpcrae/boardsync/internal/queue"
	"github.com/mpcrae/boardsync/internal/state"
)

// authorityServer is an in-memory remote authority: it serves records
// under /resource/{id} and logs every write in arrival order.
type authorityServer struct {
	mu      sync.Mutex
	records map[string]json.RawMessage
	writes  []string // "METHOD path" in arrival order
	srv     *httptest.Server
}

func newAuthorityServer(t *testing.T) *authorityServer {
	t.Helper()
	a := &authorityServer{records: make(map[string]json.RawMessage)}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *authorityServer) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writes = append(a.writes, r.Method+" "+r.URL.Path)

	id := strings.TrimPrefix(r.URL.Path, "/resource/")
	switch r.Method {
	case http.MethodGet:
		rec, ok := a.records[id]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(rec)
	case http.MethodPut, http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil || !json.Valid(body) {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		a.records[id] = body
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (a *authorityServer) seed(id string, record string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[id] = json.RawMessage(record)
}

func (a *authorityServer) record(id string) json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[id]
}

// writeLog returns the ordered list of mutations, excluding reads.
func (a *authorityServer) writeLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, w := range a.writes {
		if !strings.HasPrefix(w, "GET ") {
			out = append(out, w)
		}
	}
	return out
}

// harness is the full engine stack wired against the in-memory
// authority: persistent state store, offline queue, orchestrator, and
// optimistic manager.
type harness struct {
	Authority *authorityServer
	Orch      *orchestrator.Orchestrator
	Queue     *queue.Queue
	Store     *state.Store
	Bus       *events.Bus
	Opt       *optimistic.Manager
}

func newHarness(t *testing.T, cfg orchestrator.Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auth := newAuthorityServer(t)
	api := authority.NewClient(auth.srv.URL, nil)

	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(logger)
	q := queue.New(st, logger)
	opt := optimistic.NewManager(optimistic.NewMemoryStore(), logger)
	detector := conflict.NewDetector(api, logger)
	resolver := conflict.NewResolver(nil, logger)

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	orch := orchestrator.New(cfg, api, q, st, detector, resolver, opt, bus, logger)

	return &harness{Authority: auth, Orch: orch, Queue: q, Store: st, Bus: bus, Opt: opt}
}

// queuePut captures an offline PUT request for later replay.
func (h *harness) queuePut(t *testing.T, priority models.Priority, path string, body string) *models.SyncItem {
	t.Helper()
	payload, err := json.Marshal(models.APIRequest{
		Method: http.MethodPut,
		Path:   path,
		Body:   json.RawMessage(body),
	})
	require.NoError(t, err)
	it, err := h.Queue.Enqueue(models.KindAPIRequest, priority, payload)
	require.NoError(t, err)
	return it
}

// queueChange captures an offline data change for later delivery.
func (h *harness) queueChange(t *testing.T, ch models.DataChange) *models.SyncItem {
	t.Helper()
	payload, err := json.Marshal(ch)
	require.NoError(t, err)
	it, err := h.Queue.Enqueue(models.KindDataChange, models.PriorityNormal, payload)
	require.NoError(t, err)
	return it
}
