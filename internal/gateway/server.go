// Package gateway serves the WebSocket session endpoints and the REST
// session-history API.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/pool"
	"github.com/codedeck/codedeck/internal/sessionlog"
	"github.com/codedeck/codedeck/internal/tools"
)

// Server is the gateway: WebSocket endpoints for agent and
// orchestrator sessions plus the REST history API.
type Server struct {
	cfg      *config.Config
	pool     *pool.Pool
	store    *sessionlog.Store
	registry *tools.Registry
	toolCtx  *tools.Context

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway over the shared pool and store.
func NewServer(cfg *config.Config, p *pool.Pool, store *sessionlog.Store, registry *tools.Registry, toolCtx *tools.Context) *Server {
	s := &Server{
		cfg:      cfg,
		pool:     p,
		store:    store,
		registry: registry,
		toolCtx:  toolCtx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)
	return s
}

// checkOrigin validates the Origin header against the configured
// whitelist. No configuration allows everything; an empty Origin
// (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("rejected websocket origin", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/session", s.handleSessionWS)
	mux.HandleFunc("/ws/orchestrator", s.handleOrchestratorWS)
	mux.HandleFunc("/health", s.handleHealth)

	api := s.rateLimiter.Middleware(http.HandlerFunc(s.handleSessionsAPI))
	mux.Handle("/api/sessions", api)
	mux.Handle("/api/sessions/", api)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
