package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fastworkflow/fastworkflow/internal/auth"
	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// ───────────────────────── session lifecycle ─────────────────────────

type initializeRequest struct {
	UserID       string `json:"user_id"`
	StreamFormat string `json:"stream_format"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	format := StreamNDJSON
	switch StreamFormat(req.StreamFormat) {
	case StreamNDJSON, StreamFormat(""):
	case StreamSSE:
		format = StreamSSE
	default:
		http.Error(w, "stream_format must be ndjson or sse", http.StatusBadRequest)
		return
	}

	if _, err := s.mgr.Open(req.UserID); err != nil {
		s.log.Error("open runtime", "user_id", req.UserID, "error", err)
		http.Error(w, "service shutting down", http.StatusServiceUnavailable)
		return
	}

	channelID := uuid.NewString()
	scope := ""
	if s.admins[req.UserID] {
		scope = auth.ScopeAdmin
	}
	pair, err := s.tokens.IssueSession(channelID, req.UserID, scope)
	if err != nil {
		s.log.Error("issue session token", "user_id", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.registerSession(channelID, req.UserID, format)

	s.log.Info("session initialized",
		"user_id", req.UserID, "channel_id", channelID, "stream_format", format)
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token is required", http.StatusBadRequest)
		return
	}
	pair, err := s.tokens.Refresh(req.RefreshToken)
	if err != nil {
		s.log.Debug("refresh rejected", "error", err)
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// ───────────────────────── invocation ─────────────────────────

type invokeRequest struct {
	UserQuery      string  `json:"user_query"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

type invokeResponse struct {
	CommandOutput  *types.CommandOutput `json:"command_output"`
	Traces         []types.TraceEvent   `json:"traces,omitempty"`
	ConversationID int                  `json:"conversation_id"`
}

func (s *Server) handleInvokeAssistant(w http.ResponseWriter, r *http.Request) {
	req, rt, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.invocationContext(r, req.TimeoutSeconds)
	defer cancel()

	res, err := rt.Invoke(ctx, req.UserQuery)
	if err != nil {
		s.writeInvokeError(w, ctx, rt, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{
		CommandOutput:  res.Output,
		Traces:         res.Traces,
		ConversationID: res.ConversationID,
	})
}

func (s *Server) handleInvokeAgent(w http.ResponseWriter, r *http.Request) {
	req, rt, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	if !rt.AgentAvailable() {
		http.Error(w, "agent not configured", http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := s.invocationContext(r, req.TimeoutSeconds)
	defer cancel()

	res, err := rt.InvokeAgent(ctx, req.UserQuery)
	if err != nil {
		s.writeInvokeError(w, ctx, rt, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{
		CommandOutput:  res.Output,
		Traces:         res.Traces,
		ConversationID: res.ConversationID,
	})
}

type actionRequest struct {
	Action         types.Action `json:"action"`
	TimeoutSeconds float64      `json:"timeout_seconds"`
}

func (s *Server) handlePerformAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action.CommandName == "" {
		http.Error(w, "action.command_name is required", http.StatusBadRequest)
		return
	}
	rt, _, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return
	}
	ctx, cancel := s.invocationContext(r, req.TimeoutSeconds)
	defer cancel()

	res, err := rt.PerformAction(ctx, req.Action)
	if err != nil {
		s.writeInvokeError(w, ctx, rt, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{
		CommandOutput:  res.Output,
		Traces:         res.Traces,
		ConversationID: res.ConversationID,
	})
}

// decodeInvoke parses the shared invocation body and resolves the session.
// It writes the error (or empty-session) response itself; callers bail when
// ok is false.
func (s *Server) decodeInvoke(w http.ResponseWriter, r *http.Request) (invokeRequest, *runtime.Runtime, bool) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, nil, false
	}
	if req.UserQuery == "" {
		http.Error(w, "user_query is required", http.StatusBadRequest)
		return req, nil, false
	}
	rt, _, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return req, nil, false
	}
	return req, rt, true
}

func (s *Server) invocationContext(r *http.Request, seconds float64) (context.Context, context.CancelFunc) {
	d := s.timeout
	if seconds > 0 {
		d = time.Duration(seconds * float64(time.Second))
	}
	return context.WithTimeout(r.Context(), d)
}

// writeInvokeError maps a runtime error onto the wire. A deadline that
// expired while the call was still queued gets the same success=false shape
// as an in-flight timeout; anything else is a server error.
func (s *Server) writeInvokeError(w http.ResponseWriter, ctx context.Context, rt *runtime.Runtime, err error) {
	if ctx.Err() != nil {
		writeJSON(w, http.StatusOK, invokeResponse{
			CommandOutput:  queueTimeoutOutput(),
			ConversationID: rt.ConversationID(),
		})
		return
	}
	if errors.Is(err, runtime.ErrAgentUnavailable) {
		http.Error(w, "agent not configured", http.StatusServiceUnavailable)
		return
	}
	s.log.Error("invocation failed", "user_id", rt.UserID(), "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func queueTimeoutOutput() *types.CommandOutput {
	return &types.CommandOutput{CommandResponses: []types.CommandResponse{{
		Response: "The request timed out while waiting for an earlier command to finish. Please try again.",
		Success:  false,
	}}}
}

// ───────────────────────── conversations ─────────────────────────

type conversationIDResponse struct {
	ConversationID int `json:"conversation_id"`
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	rt, _, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return
	}
	ctx, cancel := s.invocationContext(r, 0)
	defer cancel()

	id, err := rt.Rotate(ctx)
	if err != nil {
		s.log.Error("rotate conversation", "user_id", rt.UserID(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conversationIDResponse{ConversationID: id})
}

type conversationsResponse struct {
	Conversations []types.ConversationSummary `json:"conversations"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	rt, _, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return
	}
	list, err := s.store.List(r.Context(), rt.UserID(), limit)
	if err != nil {
		s.log.Error("list conversations", "user_id", rt.UserID(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: list})
}

func (s *Server) handlePostFeedback(w http.ResponseWriter, r *http.Request) {
	var fb types.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if fb.Score == nil && fb.Text == "" {
		http.Error(w, "binary_or_numeric_score or nl_feedback is required", http.StatusBadRequest)
		return
	}
	rt, _, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return
	}
	if err := rt.PostFeedback(fb); err != nil {
		if errors.Is(err, runtime.ErrNoTurns) {
			http.Error(w, "conversation has no turns yet", http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid feedback", http.StatusBadRequest)
		return
	}
	if s.feedback != nil {
		if err := s.feedback.Append(rt.UserID(), rt.ConversationID(), fb); err != nil {
			s.log.Warn("feedback audit append", "user_id", rt.UserID(), "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type activateRequest struct {
	ConversationID int    `json:"conversation_id"`
	Topic          string `json:"topic"`
}

func (s *Server) handleActivateConversation(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID <= 0 && req.Topic == "" {
		http.Error(w, "conversation_id or topic is required", http.StatusBadRequest)
		return
	}
	rt, _, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return
	}
	ctx, cancel := s.invocationContext(r, 0)
	defer cancel()

	id, err := rt.Activate(ctx, req.ConversationID, req.Topic)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		s.log.Error("activate conversation", "user_id", rt.UserID(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conversationIDResponse{ConversationID: id})
}

// ───────────────────────── admin ─────────────────────────

type dumpRequest struct {
	OutputFolder string `json:"output_folder"`
}

type dumpResponse struct {
	OutputFolder string `json:"output_folder"`
	Users        int    `json:"users"`
}

// handleDumpAllConversations writes every user's conversations to one JSONL
// file per user under the requested folder.
func (s *Server) handleDumpAllConversations(w http.ResponseWriter, r *http.Request) {
	var req dumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OutputFolder == "" {
		http.Error(w, "output_folder is required", http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(req.OutputFolder, 0o755); err != nil {
		s.log.Error("create dump folder", "folder", req.OutputFolder, "error", err)
		http.Error(w, "cannot create output folder", http.StatusInternalServerError)
		return
	}
	all, err := s.store.DumpAll(r.Context())
	if err != nil {
		s.log.Error("dump conversations", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for userID, convs := range all {
		path := filepath.Join(req.OutputFolder, safeFileName(userID)+".jsonl")
		if err := writeJSONL(path, convs); err != nil {
			s.log.Error("write dump file", "user_id", userID, "path", path, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	s.log.Info("conversations dumped", "users", len(all), "folder", req.OutputFolder)
	writeJSON(w, http.StatusOK, dumpResponse{OutputFolder: req.OutputFolder, Users: len(all)})
}

func writeJSONL(path string, convs []types.Conversation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, conv := range convs {
		if err := enc.Encode(conv); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// safeFileName keeps user ids from escaping the dump folder.
func safeFileName(userID string) string {
	out := make([]rune, 0, len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

type mcpTokenRequest struct {
	UserID string `json:"user_id"`
}

type mcpTokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleGenerateMCPToken(w http.ResponseWriter, r *http.Request) {
	var req mcpTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	token, expiresAt, err := s.tokens.IssueMCP(req.UserID)
	if err != nil {
		s.log.Error("issue mcp token", "user_id", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Info("mcp token issued", "user_id", req.UserID, "expires_at", expiresAt)
	writeJSON(w, http.StatusOK, mcpTokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	})
}
