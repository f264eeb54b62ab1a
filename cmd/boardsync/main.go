package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mpcrae/boardsync/internal/authority"
	"github.com/mpcrae/boardsync/internal/config"
	"github.com/mpcrae/boardsync/internal/conflict"
	"github.com/mpcrae/boardsync/internal/connection"
	"github.com/mpcrae/boardsync/internal/events"
	"github.com/mpcrae/boardsync/internal/logging"
	"github.com/mpcrae/boardsync/internal/mcpserver"
	"github.com/mpcrae/boardsync/internal/optimistic"
	"github.com/mpcrae/boardsync/internal/orchestrator"
	"github.com/mpcrae/boardsync/internal/queue"
	"github.com/mpcrae/boardsync/internal/spool"
	"github.com/mpcrae/boardsync/internal/state"
)

var Version = "dev"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("boardsync starting",
		slog.String("version", Version),
		slog.String("device", cfg.DeviceName),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	policy, err := conflict.ParsePolicy(cfg.ConflictPolicy)
	if err != nil {
		return err
	}
	rules, err := conflict.LoadRules(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("loading policy rules: %w", err)
	}

	store, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus(logger)
	q := queue.New(store, logger)
	api := authority.NewClient(cfg.AuthorityURL, nil)
	detector := conflict.NewDetector(api, logger)
	resolver := conflict.NewResolver(rules, logger)
	opt := optimistic.NewManager(optimistic.NewMemoryStore(), logger)

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentSyncs: cfg.MaxConcurrentSyncs,
		RetryAttempts:      cfg.RetryAttempts,
		RetryDelay:         cfg.RetryDelay,
		Policy:             policy,
	}, api, q, store, detector, resolver, opt, bus, logger)

	conn := connection.NewManager(connection.Config{
		URL:               cfg.SyncURL,
		Device:            cfg.DeviceName,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		ReconnectLimit:    cfg.ReconnectLimit,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Start(gctx)
	})

	g.Go(func() error {
		conn.Start(gctx)
		<-gctx.Done()
		conn.Disconnect()
		return gctx.Err()
	})

	g.Go(func() error {
		return trackConnection(gctx, bus, store, logger)
	})

	if cfg.SpoolDir != "" {
		watcher := spool.NewWatcher(cfg.SpoolDir, orch, logger)
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, cfg, orch, conn, q, logger)
		})
	}

	return g.Wait()
}

// trackConnection persists the last-connected timestamp so the queue
// age is meaningful across restarts.
func trackConnection(ctx context.Context, bus *events.Bus, store *state.Store, logger *slog.Logger) error {
	ch, unsub := bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			cc, isConn := e.(events.ConnectionChanged)
			if !isConn || cc.Status != string(connection.StatusConnected) {
				continue
			}
			if err := store.SetLastConnected(time.Now().UTC()); err != nil {
				logger.Warn("saving last-connected time", slog.String("error", err.Error()))
			}
		}
	}
}

// runMCP serves the admin tools over streamable HTTP.
func runMCP(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator,
	conn *connection.Manager, q *queue.Queue, logger *slog.Logger) error {

	mcpLogger := logger.With(slog.String("service", "mcp"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "boardsync-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, orch, conn, q)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)

	server := &http.Server{
		Addr:         cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
