// Package server exposes the workflow runtime over HTTP: session
// initialization, command invocation (plain and streaming), conversation
// management, feedback, admin operations and the MCP mount.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastworkflow/fastworkflow/internal/auth"
	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/internal/health"
	"github.com/fastworkflow/fastworkflow/internal/observe"
	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// StreamFormat selects how /invoke_agent_stream frames its events. The
// format is fixed per session at /initialize.
type StreamFormat string

const (
	StreamNDJSON StreamFormat = "ndjson"
	StreamSSE    StreamFormat = "sse"
)

const defaultInvocationTimeout = 120 * time.Second

// FeedbackLog records an audit copy of accepted feedback.
type FeedbackLog interface {
	Append(userID string, conversationID int, fb types.Feedback) error
}

// Config carries the server's collaborators.
type Config struct {
	Manager   *runtime.Manager
	Store     convstore.Store
	Authority *auth.Authority

	// Probes serves /probes/healthz and /probes/readyz when set.
	Probes *health.Handler

	// Metrics instruments every route when set.
	Metrics *observe.Metrics

	// Feedback, when set, receives a copy of every accepted feedback
	// submission. Append failures are logged, never surfaced.
	Feedback FeedbackLog

	// MCPHandler is mounted at MCPPath behind token auth when both are set.
	MCPHandler http.Handler
	MCPPath    string

	// AdminUsers receive the admin scope on their session tokens.
	AdminUsers []string

	// DefaultTimeout bounds invocations whose request carries no
	// timeout_seconds. Zero means 120s.
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

// Server routes API requests to a user's runtime. It tracks which channel id
// belongs to which user so that tokens minted at /initialize can be resolved
// back to a live session on every call.
type Server struct {
	mgr      *runtime.Manager
	store    convstore.Store
	tokens   *auth.Authority
	probes   *health.Handler
	metrics  *observe.Metrics
	feedback FeedbackLog

	mcpHandler http.Handler
	mcpPath    string

	admins  map[string]bool
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]sessionInfo // channel id -> session
}

type sessionInfo struct {
	userID string
	format StreamFormat
}

func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("server: config needs a runtime manager")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: config needs a conversation store")
	}
	if cfg.Authority == nil {
		return nil, errors.New("server: config needs a token authority")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultInvocationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	admins := make(map[string]bool, len(cfg.AdminUsers))
	for _, u := range cfg.AdminUsers {
		admins[u] = true
	}
	return &Server{
		mgr:        cfg.Manager,
		store:      cfg.Store,
		tokens:     cfg.Authority,
		probes:     cfg.Probes,
		metrics:    cfg.Metrics,
		feedback:   cfg.Feedback,
		mcpHandler: cfg.MCPHandler,
		mcpPath:    cfg.MCPPath,
		admins:     admins,
		timeout:    cfg.DefaultTimeout,
		log:        cfg.Logger,
		sessions:   make(map[string]sessionInfo),
	}, nil
}

// Handler builds the routing table. /initialize, /refresh_token, the probes
// and /metrics are open; everything else wants a bearer token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /initialize", s.handleInitialize)
	mux.HandleFunc("POST /refresh_token", s.handleRefreshToken)

	mux.HandleFunc("POST /invoke_agent", s.requireAuth(s.handleInvokeAgent))
	mux.HandleFunc("POST /invoke_agent_stream", s.requireAuth(s.handleInvokeAgentStream))
	mux.HandleFunc("POST /invoke_assistant", s.requireAuth(s.handleInvokeAssistant))
	mux.HandleFunc("POST /perform_action", s.requireAuth(s.handlePerformAction))
	mux.HandleFunc("POST /new_conversation", s.requireAuth(s.handleNewConversation))
	mux.HandleFunc("GET /conversations", s.requireAuth(s.handleConversations))
	mux.HandleFunc("POST /post_feedback", s.requireAuth(s.handlePostFeedback))
	mux.HandleFunc("POST /activate_conversation", s.requireAuth(s.handleActivateConversation))

	mux.HandleFunc("POST /admin/dump_all_conversations", s.requireAdmin(s.handleDumpAllConversations))
	mux.HandleFunc("POST /admin/generate_mcp_token", s.requireAdmin(s.handleGenerateMCPToken))

	if s.probes != nil {
		s.probes.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.mcpHandler != nil && s.mcpPath != "" {
		mux.HandleFunc(s.mcpPath, s.requireAuth(s.mcpHandler.ServeHTTP))
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(handler)
	}
	return handler
}

// ───────────────────────── auth middleware ─────────────────────────

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			s.log.Debug("token rejected", "path", r.URL.Path, "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if claims.Type != auth.TypeAccess {
			http.Error(w, "token type not accepted here", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(auth.NewContext(r.Context(), claims)))
	}
}

// requireAdmin additionally wants the admin scope. In unsigned mode the
// deployment already trusts every caller, so the scope check is waived.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.FromContext(r.Context())
		if !s.tokens.Unsigned() && claims.Scope != auth.ScopeAdmin {
			http.Error(w, "admin scope required", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// ───────────────────────── session registry ─────────────────────────

func (s *Server) registerSession(channelID, userID string, format StreamFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[channelID] = sessionInfo{userID: userID, format: format}
}

// sessionFor resolves the calling token to its live runtime. The boolean is
// false when the channel is unknown or the user's runtime is gone; the API
// answers such calls with an empty object, telling the client to
// re-initialize.
func (s *Server) sessionFor(r *http.Request) (*runtime.Runtime, sessionInfo, bool) {
	claims := auth.FromContext(r.Context())
	if claims == nil {
		return nil, sessionInfo{}, false
	}
	s.mu.Lock()
	info, ok := s.sessions[claims.ChannelID()]
	s.mu.Unlock()
	if !ok {
		return nil, sessionInfo{}, false
	}
	rt, ok := s.mgr.Get(info.userID)
	if !ok {
		return nil, sessionInfo{}, false
	}
	return rt, info, true
}

// ───────────────────────── response helpers ─────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// writeSessionGone answers a request whose session no longer exists: an
// empty object with 200, the signal to call /initialize again.
func writeSessionGone(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, struct{}{})
}
