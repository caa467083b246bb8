package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// kindFinalResponse closes every stream. Its data carries the command output
// and conversation id the non-streaming endpoint would have returned; the
// trace events themselves were already delivered as individual frames.
const kindFinalResponse types.TraceKind = "final_response"

// handleInvokeAgentStream runs an agentic invocation and streams its trace
// events live, framed in the format the session picked at /initialize.
func (s *Server) handleInvokeAgentStream(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserQuery == "" {
		http.Error(w, "user_query is required", http.StatusBadRequest)
		return
	}
	rt, info, ok := s.sessionFor(r)
	if !ok {
		writeSessionGone(w)
		return
	}
	if !rt.AgentAvailable() {
		http.Error(w, "agent not configured", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sw := newStreamWriter(w, flusher, info.format)
	ctx, cancel := s.invocationContext(r, req.TimeoutSeconds)
	defer cancel()

	res, err := rt.InvokeAgent(ctx, req.UserQuery, runtime.WithTraceSink(sw.event))
	if err != nil {
		if ctx.Err() != nil {
			sw.final(queueTimeoutOutput(), rt.ConversationID())
			return
		}
		s.log.Error("streamed invocation failed", "user_id", rt.UserID(), "error", err)
		sw.event(types.TraceEvent{
			Kind: types.TraceError,
			Data: map[string]any{"error": "internal error"},
			TS:   time.Now().UTC(),
		})
		return
	}
	sw.final(res.Output, res.ConversationID)
}

// streamWriter frames trace events as NDJSON lines or SSE events. Writes are
// serialized by the runtime's trace collector, so no extra locking here.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	format  StreamFormat
}

// newStreamWriter commits the response headers; from here on errors can only
// be reported in-band.
func newStreamWriter(w http.ResponseWriter, flusher http.Flusher, format StreamFormat) *streamWriter {
	h := w.Header()
	switch format {
	case StreamSSE:
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
	default:
		h.Set("Content-Type", "application/x-ndjson")
		h.Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &streamWriter{w: w, flusher: flusher, format: format}
}

// event writes one frame and flushes so the client sees progress while the
// turn is still running.
func (sw *streamWriter) event(ev types.TraceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	switch sw.format {
	case StreamSSE:
		fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
	default:
		fmt.Fprintf(sw.w, "%s\n", payload)
	}
	sw.flusher.Flush()
}

func (sw *streamWriter) final(output *types.CommandOutput, conversationID int) {
	sw.event(types.TraceEvent{
		Kind: kindFinalResponse,
		Data: map[string]any{
			"command_output":  output,
			"conversation_id": conversationID,
		},
		TS: time.Now().UTC(),
	})
}
