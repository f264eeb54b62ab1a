// Package mcpserver registers MCP tools that expose the sync engine
// for inspection and administration. It adapts the engine packages to
// the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mpcrae/boardsync/internal/conflict"
	"github.com/mpcrae/boardsync/internal/connection"
	"github.com/mpcrae/boardsync/internal/models"
)

// SyncEngine is the orchestrator surface the tools call. Extracted for
// testability.
type SyncEngine interface {
	Sync(ctx context.Context) error
	Status() models.SyncRun
	History() ([]models.SyncRun, error)
	Conflicts() []conflict.Record
	ResolveConflict(ctx context.Context, itemID string, pol conflict.Policy, merged json.RawMessage) error
	Pause() error
	Resume() error
	Cancel() error
}

// Connector is the connection manager surface the tools call.
type Connector interface {
	State() connection.State
	ForceReconnect()
}

// QueueStore is the offline queue surface the tools call.
type QueueStore interface {
	Len() (int, error)
	Clear() (int, error)
}

// RegisterTools adds all sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, engine SyncEngine, conn Connector, q QueueStore) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report connection state, the current or most recent sync run, queue depth, and the number of unresolved conflicts. Use this as the first call to understand engine state.",
	}, statusHandler(engine, conn, q))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Trigger a sync run immediately. Returns an error if a run is already in flight.",
	}, syncNowHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_conflicts",
		Description: "List unresolved conflicts with the divergent fields, both versions, and a per-field diff preview for manual resolution.",
	}, conflictsHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_resolve",
		Description: "Resolve a parked conflict with a policy: local (local change overwrites remote), remote (discard local change), or merge (remote overlaid by local, optionally with caller-provided merged data).",
	}, resolveHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_pause",
		Description: "Pause the active sync run. In-flight items finish; no new items are dispatched until sync_resume.",
	}, pauseHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_resume",
		Description: "Resume a paused sync run.",
	}, resumeHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_cancel",
		Description: "Cancel the active sync run. In-flight items finish; undispatched items stay queued for a future run.",
	}, cancelHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_force_reconnect",
		Description: "Drop the current connection, reset the reconnect attempt counter, and reconnect immediately. Works from the failed state.",
	}, reconnectHandler(conn))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_queue_clear",
		Description: "Discard every queued offline action. Destructive: the discarded actions are never delivered.",
	}, queueClearHandler(q))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_history",
		Description: "List the last ten sync runs with their totals and outcomes.",
	}, historyHandler(engine))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// SyncNowInput has no parameters.
type SyncNowInput struct{}

// ConflictsInput has no parameters.
type ConflictsInput struct{}

// ResolveInput holds parameters for sync_resolve.
type ResolveInput struct {
	ItemID     string `json:"item_id" jsonschema:"required,ID of the conflicted sync item"`
	Policy     string `json:"policy" jsonschema:"required,resolution policy: local, remote, or merge"`
	MergedData string `json:"merged_data,omitempty" jsonschema:"JSON record to deliver instead of the computed merge, only valid with policy=merge"`
}

// RunControlInput has no parameters.
type RunControlInput struct{}

// ReconnectInput has no parameters.
type ReconnectInput struct{}

// QueueClearInput holds parameters for sync_queue_clear.
type QueueClearInput struct {
	Confirm bool `json:"confirm" jsonschema:"required,must be true to discard the queue"`
}

// HistoryInput has no parameters.
type HistoryInput struct{}

// --- Result types ---

// StatusResult is the sync_status output.
type StatusResult struct {
	Connection    string         `json:"connection"`
	AttemptCount  int            `json:"attemptCount"`
	LastLatencyMS int64          `json:"lastLatencyMs"`
	Run           models.SyncRun `json:"run"`
	QueueDepth    int            `json:"queueDepth"`
	OpenConflicts int            `json:"openConflicts"`
}

// ConflictView is one entry in the sync_conflicts output.
type ConflictView struct {
	ItemID           string    `json:"itemId"`
	ResourceID       string    `json:"resourceId"`
	LocalVersion     string    `json:"localVersion"`
	RemoteVersion    string    `json:"remoteVersion"`
	ConflictedFields []string  `json:"conflictedFields"`
	DetectedAt       time.Time `json:"detectedAt"`
	Preview          string    `json:"preview"`
}

// ConflictsResult is the sync_conflicts output.
type ConflictsResult struct {
	Conflicts []ConflictView `json:"conflicts"`
}

// ActionResult reports a fire-and-forget action.
type ActionResult struct {
	Message string `json:"message"`
}

// ClearResult is the sync_queue_clear output.
type ClearResult struct {
	Discarded int `json:"discarded"`
}

// HistoryResult is the sync_history output.
type HistoryResult struct {
	Runs []models.SyncRun `json:"runs"`
}

// --- Handlers ---

func statusHandler(engine SyncEngine, conn Connector, q QueueStore) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		depth, err := q.Len()
		if err != nil {
			return nil, nil, err
		}
		st := conn.State()
		result := &StatusResult{
			Connection:    string(st.Status),
			AttemptCount:  st.AttemptCount,
			LastLatencyMS: st.LastLatency.Milliseconds(),
			Run:           engine.Status(),
			QueueDepth:    depth,
			OpenConflicts: len(engine.Conflicts()),
		}
		return textResult(result), result, nil
	}
}

func syncNowHandler(engine SyncEngine) mcp.ToolHandlerFor[SyncNowInput, *ActionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncNowInput) (*mcp.CallToolResult, *ActionResult, error) {
		if err := engine.Sync(ctx); err != nil {
			return nil, nil, err
		}
		result := &ActionResult{Message: "sync run finished"}
		return textResult(result), result, nil
	}
}

func conflictsHandler(engine SyncEngine) mcp.ToolHandlerFor[ConflictsInput, *ConflictsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ConflictsInput) (*mcp.CallToolResult, *ConflictsResult, error) {
		recs := engine.Conflicts()
		result := &ConflictsResult{Conflicts: make([]ConflictView, 0, len(recs))}
		for _, rec := range recs {
			result.Conflicts = append(result.Conflicts, ConflictView{
				ItemID:           rec.ItemID,
				ResourceID:       rec.ResourceID,
				LocalVersion:     rec.LocalVersion,
				RemoteVersion:    rec.RemoteVersion,
				ConflictedFields: rec.ConflictedFields,
				DetectedAt:       rec.DetectedAt,
				Preview:          rec.Preview,
			})
		}
		return textResult(result), result, nil
	}
}

func resolveHandler(engine SyncEngine) mcp.ToolHandlerFor[ResolveInput, *ActionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, *ActionResult, error) {
		pol, err := conflict.ParsePolicy(input.Policy)
		if err != nil {
			return nil, nil, err
		}
		var merged json.RawMessage
		if input.MergedData != "" {
			if !json.Valid([]byte(input.MergedData)) {
				return nil, nil, fmt.Errorf("merged_data is not valid JSON")
			}
			merged = json.RawMessage(input.MergedData)
		}
		if err := engine.ResolveConflict(ctx, input.ItemID, pol, merged); err != nil {
			return nil, nil, err
		}
		result := &ActionResult{Message: fmt.Sprintf("conflict %s resolved with policy %s", input.ItemID, pol)}
		return textResult(result), result, nil
	}
}

func pauseHandler(engine SyncEngine) mcp.ToolHandlerFor[RunControlInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ RunControlInput) (*mcp.CallToolResult, *ActionResult, error) {
		if err := engine.Pause(); err != nil {
			return nil, nil, err
		}
		result := &ActionResult{Message: "sync paused"}
		return textResult(result), result, nil
	}
}

func resumeHandler(engine SyncEngine) mcp.ToolHandlerFor[RunControlInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ RunControlInput) (*mcp.CallToolResult, *ActionResult, error) {
		if err := engine.Resume(); err != nil {
			return nil, nil, err
		}
		result := &ActionResult{Message: "sync resumed"}
		return textResult(result), result, nil
	}
}

func cancelHandler(engine SyncEngine) mcp.ToolHandlerFor[RunControlInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ RunControlInput) (*mcp.CallToolResult, *ActionResult, error) {
		if err := engine.Cancel(); err != nil {
			return nil, nil, err
		}
		result := &ActionResult{Message: "sync cancel requested"}
		return textResult(result), result, nil
	}
}

func reconnectHandler(conn Connector) mcp.ToolHandlerFor[ReconnectInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ReconnectInput) (*mcp.CallToolResult, *ActionResult, error) {
		conn.ForceReconnect()
		result := &ActionResult{Message: "reconnect forced"}
		return textResult(result), result, nil
	}
}

func queueClearHandler(q QueueStore) mcp.ToolHandlerFor[QueueClearInput, *ClearResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input QueueClearInput) (*mcp.CallToolResult, *ClearResult, error) {
		if !input.Confirm {
			return nil, nil, fmt.Errorf("refusing to clear the queue without confirm=true")
		}
		n, err := q.Clear()
		if err != nil {
			return nil, nil, err
		}
		result := &ClearResult{Discarded: n}
		return textResult(result), result, nil
	}
}

func historyHandler(engine SyncEngine) mcp.ToolHandlerFor[HistoryInput, *HistoryResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ HistoryInput) (*mcp.CallToolResult, *HistoryResult, error) {
		runs, err := engine.History()
		if err != nil {
			return nil, nil, err
		}
		result := &HistoryResult{Runs: runs}
		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
