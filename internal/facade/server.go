// Package facade exposes the session manager over MCP: session lifecycle,
// command dispatch with index-polled event streams, and permission
// responses. It is a thin layer; all orchestration lives in the session
// package.
package facade

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentmux/agentmux/internal/audit"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/metrics"
	"github.com/agentmux/agentmux/internal/session"
)

// generateRequestID creates a unique request identifier
func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// PingFunc checks that the engine backing new sessions is reachable.
type PingFunc func(ctx context.Context) error

// Server wraps the MCP server around the session manager.
type Server struct {
	manager    *session.Manager
	auditStore *audit.Store // nil when auditing is disabled
	streams    *streamTracker
	enginePing PingFunc
	mcpServer  *mcp.Server
	httpServer *http.Server
}

// NewServer creates the facade. auditStore may be nil.
func NewServer(manager *session.Manager, auditStore *audit.Store, bufferSize int, enginePing PingFunc) *Server {
	s := &Server{
		manager:    manager,
		auditStore: auditStore,
		streams:    newStreamTracker(bufferSize),
		enginePing: enginePing,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "agentmux",
		Version: "0.1.0",
	}, &mcp.ServerOptions{HasTools: true})
	s.registerTools()

	return s
}

// Serve starts the MCP HTTP server and blocks until it stops.
func (s *Server) Serve(addr string) error {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		EventStore: mcp.NewMemoryEventStore(nil),
	})

	loggingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		r = r.WithContext(ctx)

		logger.Slog().Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"request_id", requestID)
		mcpHandler.ServeHTTP(w, r)
	})

	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/health", s.handleHealthCheck)
	mainMux.HandleFunc("/ready", s.handleReadinessCheck)
	mainMux.Handle("/metrics", metrics.Handler())
	mainMux.Handle("/mcp", loggingHandler)
	mainMux.Handle("/mcp/", loggingHandler)

	s.httpServer = &http.Server{Addr: addr, Handler: mainMux}

	logger.Slog().Info("agentmux MCP server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealthCheck is a basic liveness check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadinessCheck verifies the engine backing new sessions is reachable
func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.enginePing != nil {
		if err := s.enginePing(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"engine unavailable"}`))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
