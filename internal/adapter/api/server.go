// Package api exposes the gateway over HTTP: buffered and streaming query
// endpoints, the agent catalog, and health.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"clarvis/internal/infra/config"
	"clarvis/internal/infra/middleware"
	"clarvis/internal/usecase"
)

// Default per-endpoint deadlines.
const (
	defaultOrchestratorTimeout = 180 * time.Second
	defaultAgentTimeout        = 120 * time.Second
)

// Server is the HTTP front of the gateway.
type Server struct {
	orch    *usecase.Orchestrator
	cfg     *config.APIConfig
	version string
	logger  *slog.Logger

	httpSrv   *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewServer creates the API server around an orchestrator.
func NewServer(orch *usecase.Orchestrator, cfg *config.APIConfig, version string, logger *slog.Logger) *Server {
	return &Server{orch: orch, cfg: cfg, version: version, logger: logger}
}

// Handler builds the route mux with middleware applied. Exposed for tests.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("POST /api/v1/query/stream", s.handleQueryStream)
	mux.HandleFunc("POST /api/v1/{agent}/query", s.handleAgentQuery)

	// Transport-level protection; the per-agent sliding window is applied
	// inside the orchestrator.
	return middleware.SecurityHeaders(
		middleware.CORS(s.cfg.Server.CORSOrigins)(
			middleware.RateLimit(ctx, 300, 50)(mux),
		),
	)
}

// Start begins serving. Non-blocking; Stop shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.boundAddr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses are long-lived; per-request
		// deadlines are enforced with contexts in the handlers.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("api server started", "addr", s.boundAddr)
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// BoundAddr returns the actual bind address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
