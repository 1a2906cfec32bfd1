package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
	"github.com/chatcart/chatcart/internal/version"
)

// defaultWindow is the analysis window when the request gives none.
const defaultWindow = 24 * time.Hour

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/conversation/{customer_id}", s.handleConversation)
	mux.HandleFunc("GET /api/system-overview", s.handleSystemOverview)
	mux.HandleFunc("GET /api/session-health/{customer_id}", s.handleSessionHealth)
	mux.HandleFunc("GET /api/conversation-trace/{customer_id}", s.handleConversationTrace)
	mux.HandleFunc("GET /api/issue-patterns", s.handleIssuePatterns)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /api/quota", s.handleQuota)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	mux.HandleFunc("POST /api/message", s.handleInbound)
	mux.HandleFunc("POST /api/cleanup-sessions", s.handleCleanupSessions)
	mux.HandleFunc("POST /api/detect-carts", s.handleDetectCarts)
	mux.HandleFunc("GET /ws/traces", s.handleTraceStream)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// windowParam reads ?hours= with a default, clamped to something sane.
func windowParam(r *http.Request) time.Duration {
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours < 1 || hours > 24*30 {
		return defaultWindow
	}
	return time.Duration(hours) * time.Hour
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": s.uptime(),
		"traces":         s.tracer.Len(),
	}
	if s.gw != nil {
		payload["breaker_state"] = s.gw.BreakerState()
	}
	if s.sessions != nil {
		if dist, err := s.sessions.StateDistribution(); err == nil {
			payload["active_sessions"] = dist
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleConversation is the per-customer flow analysis.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || s.machine == nil {
		writeError(w, http.StatusServiceUnavailable, "session analysis unavailable")
		return
	}
	customerID := r.PathValue("customer_id")

	snap := trace.SessionSnapshot{Valid: true}
	sess, err := s.sessions.MostRecentActive(customerID)
	switch {
	case err == nil:
		report := s.machine.ValidateConsistency(sess)
		snap = trace.SessionSnapshot{
			CurrentState:      string(sess.CurrentState),
			Context:           sess.Context,
			Valid:             report.Valid,
			RecommendedAction: string(report.RecommendedAction),
		}
	case err == store.ErrNotFound:
		snap.CurrentState = "NO_ACTIVE_SESSION"
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.tracer.AnalyzeCustomer(customerID, windowParam(r), snap))
}

func (s *Server) handleSystemOverview(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"flow_analysis": s.tracer.SystemAnalysis(windowParam(r)),
	}
	if s.sessions != nil {
		if dist, err := s.sessions.StateDistribution(); err == nil {
			payload["session_states"] = dist
		}
	}
	if s.carts != nil {
		if dist, err := s.carts.StatusDistribution(); err == nil {
			payload["cart_statuses"] = dist
		}
	}
	if s.campaigns != nil {
		if dist, err := s.campaigns.StatusDistribution(); err == nil {
			payload["campaign_statuses"] = dist
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleSessionHealth runs the consistency validator against one
// customer's active session.
func (s *Server) handleSessionHealth(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || s.machine == nil {
		writeError(w, http.StatusServiceUnavailable, "session health unavailable")
		return
	}
	customerID := r.PathValue("customer_id")

	sess, err := s.sessions.MostRecentActive(customerID)
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusOK, map[string]any{
			"customer_id": customerID,
			"session":     nil,
			"healthy":     true,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report := s.machine.ValidateConsistency(sess)
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":        customerID,
		"current_state":      sess.CurrentState,
		"last_interaction":   sess.LastInteraction.Format(time.RFC3339),
		"healthy":            report.Valid,
		"issues":             report.Issues,
		"recommended_action": report.RecommendedAction,
	})
}

func (s *Server) handleConversationTrace(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customer_id")
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = 50
	}
	traces := s.tracer.ForCustomer(customerID, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customerID,
		"count":       len(traces),
		"traces":      traces,
	})
}

func (s *Server) handleIssuePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracer.IssuePatterns(windowParam(r)))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage ledger unavailable")
		return
	}
	stats, err := s.usage.StatsSince(time.Now().Add(-windowParam(r)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleQuota reports today's consumption against the configured caps.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.gw == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway unavailable")
		return
	}
	usage := s.gw.Usage()

	payload := map[string]any{
		"rate":          usage,
		"breaker_state": s.gw.BreakerState(),
	}
	if usage.DailyLimit > 0 {
		payload["daily_request_pct"] = float64(usage.RequestsToday) / float64(usage.DailyLimit) * 100
	}
	if s.usage != nil && s.dailyTokenLimit > 0 {
		tokens, err := s.usage.TokensOnDay(time.Now().UTC().Format(time.DateOnly))
		if err == nil {
			payload["daily_tokens_used"] = tokens
			payload["daily_token_limit"] = s.dailyTokenLimit
			payload["daily_token_pct"] = float64(tokens) / float64(s.dailyTokenLimit) * 100
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage ledger unavailable")
		return
	}
	analysis, err := s.usage.ErrorsSince(time.Now().Add(-windowParam(r)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleInbound feeds one customer message through the conversation
// pipeline. This is the serve-mode entry point for whatever delivers
// inbound events; verification of the upstream webhook is not done here.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation manager unavailable")
		return
	}

	var msg domain.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if msg.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.manager.HandleMessage(r.Context(), msg)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// handleCleanupSessions triggers one janitor pass.
func (s *Server) handleCleanupSessions(w http.ResponseWriter, r *http.Request) {
	if s.janitor == nil {
		writeError(w, http.StatusServiceUnavailable, "janitor unavailable")
		return
	}
	report, err := s.janitor.CleanupStaleSessions(s.staleAfter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDetectCarts triggers one abandonment detection pass.
func (s *Server) handleDetectCarts(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		writeError(w, http.StatusServiceUnavailable, "detector unavailable")
		return
	}
	report, err := s.detector.Detect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
