// Package ops serves the debug and health surface: JSON endpoints for
// conversation analysis, session health, quota and error reporting, plus
// a WebSocket stream of live conversation traces.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatcart/chatcart/internal/abandonment"
	"github.com/chatcart/chatcart/internal/config"
	"github.com/chatcart/chatcart/internal/conversation"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
)

// Server is the ops HTTP + WebSocket server. Every dependency except the
// tracer may be nil; endpoints that need a missing one answer 503.
type Server struct {
	cfg config.OpsConfig

	sessions  *store.SessionStore
	carts     *store.CartStore
	campaigns *store.CampaignStore
	usage     *store.UsageStore
	tracer    *trace.Tracer
	machine   *conversation.StateMachine
	janitor   *conversation.Janitor
	detector  *abandonment.Detector
	manager   *conversation.Manager
	gw        *llm.Gateway

	staleAfter      time.Duration // janitor horizon for the cleanup trigger
	dailyTokenLimit int           // quota reporting

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	log        *logging.Logger
}

// Deps bundles the collaborators the ops surface reports on.
type Deps struct {
	Sessions  *store.SessionStore
	Carts     *store.CartStore
	Campaigns *store.CampaignStore
	Usage     *store.UsageStore
	Tracer    *trace.Tracer
	Machine   *conversation.StateMachine
	Janitor   *conversation.Janitor
	Detector  *abandonment.Detector
	Manager   *conversation.Manager
	Gateway   *llm.Gateway

	StaleAfter      time.Duration
	DailyTokenLimit int
}

// New creates the ops server.
func New(cfg config.OpsConfig, deps Deps, log *logging.Logger) *Server {
	return &Server{
		cfg:             cfg,
		sessions:        deps.Sessions,
		carts:           deps.Carts,
		campaigns:       deps.Campaigns,
		usage:           deps.Usage,
		tracer:          deps.Tracer,
		machine:         deps.Machine,
		janitor:         deps.Janitor,
		detector:        deps.Detector,
		manager:         deps.Manager,
		gw:              deps.Gateway,
		staleAfter:      deps.StaleAfter,
		dailyTokenLimit: deps.DailyTokenLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin or non-browser clients only.
				return r.Header.Get("Origin") == ""
			},
		},
		log: log.Sub("ops"),
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.OpsConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening. It blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withAuth(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Bool("auth", s.cfg.Token != "").
		Msg("ops server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down ops server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// withAuth enforces the optional bearer token on every route except
// /health.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" && r.URL.Path != "/health" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.Token {
				s.log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("unauthorized ops request")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// uptime is used by the health payload; split out for tests.
func (s *Server) uptime() float64 {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt).Seconds()
}
