// Package server assembles the MCP surface: tools, resources and prompts
// bound to a single database session lifecycle, served over stdio or
// streamable HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/SedlarDavid/azuresql-mcp/internal/auth"
	"github.com/SedlarDavid/azuresql-mcp/internal/config"
	"github.com/SedlarDavid/azuresql-mcp/internal/db"
	"github.com/SedlarDavid/azuresql-mcp/internal/health"
)

const (
	serverName    = "azure-sql-mcp"
	serverVersion = "1.0.0"
)

// Server is the fully wired process: MCP server, session manager and
// health reporter.
type Server struct {
	cfg     *config.Config
	mcp     *server.MCPServer
	mgr     *db.Manager
	metrics *health.Metrics
}

// New resolves credentials, builds the session factory and lifecycle
// manager, and registers the full tool, resource and prompt surface. No
// database connection is attempted here.
func New(cfg *config.Config) (*Server, error) {
	plan, err := auth.Resolve(&cfg.DB)
	if err != nil {
		return nil, err
	}

	factory := db.NewFactory(cfg.DB, plan)
	mgr := db.NewManager(factory.Connect, db.ManagerOptions{
		Slots:          cfg.Server.Slots(),
		MaxInFlight:    cfg.Server.MaxInFlight,
		RetryAttempts:  cfg.Server.RetryAttempts,
		RetryDelay:     cfg.Server.RetryDelay,
		ConnectTimeout: cfg.DB.ConnectTimeout,
	})
	metrics := health.NewMetrics()

	s := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)

	h := &handlers{
		mgr:            mgr,
		metrics:        metrics,
		target:         factory.Target(),
		requestTimeout: cfg.Server.RequestTimeout,
	}
	h.registerTools(s)
	h.registerResources(s)
	h.registerPrompts(s)

	return &Server{cfg: cfg, mcp: s, mgr: mgr, metrics: metrics}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully. A failed
// warm-up is logged but does not abort: requests retry, and health reports
// the true state.
func (s *Server) Run(ctx context.Context) error {
	defer s.mgr.Close()

	slog.Info("starting server",
		"transport", s.cfg.Server.Transport,
		"db", s.cfg.DB.Summary())

	wctx, cancel := context.WithTimeout(ctx, s.cfg.DB.ConnectTimeout)
	err := s.mgr.Warm(wctx)
	cancel()
	if err != nil {
		slog.Warn("initial connection failed; serving anyway", "error", err)
	}

	switch s.cfg.Server.Transport {
	case "http":
		return s.runHTTP(ctx)
	default:
		return s.runStdio(ctx)
	}
}

func (s *Server) runStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

func (s *Server) runHTTP(ctx context.Context) error {
	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(s.cfg.Server.APIPath),
	)

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.APIPath, streamable)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http transport listening", "addr", addr, "path", s.cfg.Server.APIPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", s.cfg.Server.ShutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}

// handleHealth reports the liveness snapshot. Unhealthy maps to 503 so
// load balancers can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot(s.mgr.State().String())
	code := http.StatusOK
	if snap.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, snap)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot(s.mgr.State().String()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
