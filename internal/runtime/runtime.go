// Package runtime hosts the per-user execution environment: one session, one
// turn gate, and the bounded queues that connect a detached agent run to the
// caller.
//
// Every invocation for a user acquires the user's gate before touching the
// session, so concurrent requests for the same user execute one at a time in
// arrival order while different users run fully in parallel. Completed turns
// are appended to the in-memory conversation history and incrementally
// persisted; rotation stamps a generated topic and summary and reserves the
// next conversation id.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/internal/observe"
	"github.com/fastworkflow/fastworkflow/internal/pipeline"
	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

var (
	// ErrAgentUnavailable is returned by InvokeAgent when no agent is
	// configured.
	ErrAgentUnavailable = errors.New("runtime: no agent configured")

	// ErrNoTurns is returned by PostFeedback when the current conversation has
	// no turns to attach feedback to.
	ErrNoTurns = errors.New("runtime: conversation has no turns yet")
)

const (
	defaultQueueCapacity   = 16
	defaultAgentRunTimeout = 10 * time.Minute

	// finalOutputGrace bounds how long a finishing agent run waits for an
	// invocation to collect its last output before dropping it.
	finalOutputGrace = 30 * time.Second

	// maxSummaryReplyRunes bounds the assistant half of a turn summary.
	maxSummaryReplyRunes = 400
)

// Interaction lets a detached agent run exchange messages with the user
// through the runtime's queues.
type Interaction interface {
	// AskUser delivers a clarification question to the user and blocks until
	// the next invocation feeds an answer, bounded by ctx.
	AskUser(ctx context.Context, question string) (string, error)
}

// AgentRunner executes one agentic query against a session. Implementations
// emit tool-loop events through the tracer and may suspend on interact to ask
// the user for missing information.
type AgentRunner interface {
	Run(ctx context.Context, sess *session.Session, query string, tracer pipeline.Tracer, interact Interaction) (*types.CommandOutput, error)
}

// Result is the outcome of one invocation: the command output, the buffered
// trace events, and the conversation the turn was recorded under.
type Result struct {
	Output         *types.CommandOutput
	Traces         []types.TraceEvent
	ConversationID int
}

// invokeSettings collects per-invocation options.
type invokeSettings struct {
	sinks []func(types.TraceEvent)
}

// InvokeOption configures a single invocation.
type InvokeOption func(*invokeSettings)

// WithTraceSink streams every trace event of the invocation to sink as it is
// emitted. Sinks run synchronously on the emitting goroutine.
func WithTraceSink(sink func(types.TraceEvent)) InvokeOption {
	return func(s *invokeSettings) { s.sinks = append(s.sinks, sink) }
}

// agentItem is one output of a detached agent run. final marks the run's
// terminal output; the invocation that consumes it also retires the run.
type agentItem struct {
	out   *types.CommandOutput
	final bool
}

// Runtime is the execution environment of one user.
type Runtime struct {
	userID       string
	sess         *session.Session
	engine       *pipeline.Engine
	store        convstore.Store
	summarizer   convstore.TopicSummarizer
	agent        AgentRunner
	metrics      *observe.Metrics
	log          *slog.Logger
	agentTimeout time.Duration

	// gate serializes invocations. Capacity 1: holding the token means an
	// invocation is executing; blocked senders wake in arrival order.
	gate chan struct{}

	msgQ *Queue[string]
	outQ *Queue[agentItem]

	histMu  sync.Mutex
	convID  int // 0 until the first persist reserves one
	history []types.Turn

	traceMu  sync.Mutex
	curTrace *TraceCollector

	agentMu      sync.Mutex
	agentRunning bool
}

// newRuntime builds the runtime for one user. Callers go through
// [Manager.Open].
func newRuntime(userID, sessionID string, cfg Config) *Runtime {
	nav := cfg.newNavigator()
	return &Runtime{
		userID:       userID,
		sess:         session.New(sessionID, userID, cfg.Definition, nav),
		engine:       cfg.Engine,
		store:        cfg.Store,
		summarizer:   cfg.Summarizer,
		agent:        cfg.Agent,
		metrics:      cfg.Metrics,
		log:          cfg.logger(),
		agentTimeout: cfg.agentRunTimeout(),
		gate:         make(chan struct{}, 1),
		msgQ:         NewQueue[string](cfg.queueCapacity()),
		outQ:         NewQueue[agentItem](cfg.queueCapacity()),
	}
}

// UserID returns the user the runtime belongs to.
func (r *Runtime) UserID() string { return r.userID }

// AgentAvailable reports whether agentic invocations are configured.
func (r *Runtime) AgentAvailable() bool { return r.agent != nil }

// Session returns the runtime's session.
func (r *Runtime) Session() *session.Session { return r.sess }

// ConversationID returns the id of the current conversation, 0 before the
// first turn persists.
func (r *Runtime) ConversationID() int {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	return r.convID
}

// acquire takes the turn gate, queueing behind earlier invocations.
func (r *Runtime) acquire(ctx context.Context) error {
	if r.metrics != nil {
		r.metrics.QueuedInvocations.Add(ctx, 1)
		defer r.metrics.QueuedInvocations.Add(ctx, -1)
	}
	select {
	case r.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) release() { <-r.gate }

// beginTrace installs a fresh collector as the invocation's trace target.
func (r *Runtime) beginTrace(opts []InvokeOption) *TraceCollector {
	var st invokeSettings
	for _, o := range opts {
		o(&st)
	}
	tc := NewTraceCollector(st.sinks...)
	r.traceMu.Lock()
	r.curTrace = tc
	r.traceMu.Unlock()
	return tc
}

// endTrace detaches the collector. Taking the trace mutex here waits out any
// agent emit in flight, so no sink write can race the caller's final response
// write.
func (r *Runtime) endTrace() {
	r.traceMu.Lock()
	r.curTrace = nil
	r.traceMu.Unlock()
}

// emitTrace routes an event from the detached agent goroutine into whichever
// invocation is currently collecting. Events emitted between invocations are
// dropped.
func (r *Runtime) emitTrace(kind types.TraceKind, data map[string]any) {
	r.traceMu.Lock()
	defer r.traceMu.Unlock()
	if r.curTrace != nil {
		r.curTrace.Emit(kind, data)
	}
}

// forwardTracer adapts emitTrace to the pipeline's Tracer interface for the
// agent goroutine, whose run outlives any single invocation.
type forwardTracer struct{ r *Runtime }

func (f forwardTracer) Emit(kind types.TraceKind, data map[string]any) {
	f.r.emitTrace(kind, data)
}

// Invoke runs one deterministic pipeline turn. Concurrent invocations for the
// same user queue on the turn gate and execute in arrival order.
func (r *Runtime) Invoke(ctx context.Context, utterance string, opts ...InvokeOption) (*Result, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, fmt.Errorf("runtime: acquire turn gate: %w", err)
	}
	defer r.release()

	tc := r.beginTrace(opts)
	defer r.endTrace()

	out, err := r.engine.ProcessTurn(ctx, r.sess, utterance, pipeline.WithTracer(tc))
	if err != nil {
		if ctx.Err() != nil {
			r.recordTurn(ctx, "timeout")
			return r.timeoutResult(tc), nil
		}
		r.recordTurn(ctx, "error")
		return nil, err
	}

	r.completeTurn(ctx, utterance, out, tc)
	r.recordTurn(ctx, statusOf(out))
	return r.result(out, tc), nil
}

// PerformAction dispatches a fully specified action, bypassing intent
// resolution and extraction. Gating, tracing, and history recording match
// Invoke.
func (r *Runtime) PerformAction(ctx context.Context, action types.Action, opts ...InvokeOption) (*Result, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, fmt.Errorf("runtime: acquire turn gate: %w", err)
	}
	defer r.release()

	tc := r.beginTrace(opts)
	defer r.endTrace()

	out, err := r.engine.PerformAction(ctx, r.sess, action, pipeline.WithTracer(tc))
	if err != nil {
		if ctx.Err() != nil {
			r.recordTurn(ctx, "timeout")
			return r.timeoutResult(tc), nil
		}
		r.recordTurn(ctx, "error")
		return nil, err
	}

	summary := action.CommandText
	if summary == "" {
		summary = "action: " + action.CommandName
	}
	r.completeTurn(ctx, summary, out, tc)
	r.recordTurn(ctx, statusOf(out))
	return r.result(out, tc), nil
}

// InvokeAgent runs one agentic exchange. The first call starts a detached
// agent run; while that run waits inside its ask_user tool, subsequent calls
// feed the user's answer to it. The returned output is the next item the
// agent produces: a clarification question or the final answer.
func (r *Runtime) InvokeAgent(ctx context.Context, query string, opts ...InvokeOption) (*Result, error) {
	if r.agent == nil {
		return nil, ErrAgentUnavailable
	}
	if err := r.acquire(ctx); err != nil {
		return nil, fmt.Errorf("runtime: acquire turn gate: %w", err)
	}
	defer r.release()

	tc := r.beginTrace(opts)
	defer r.endTrace()

	r.agentMu.Lock()
	feeding := r.agentRunning
	if !feeding {
		r.agentRunning = true
	}
	r.agentMu.Unlock()

	if feeding {
		if err := r.msgQ.Put(ctx, query); err != nil {
			r.recordTurn(ctx, "timeout")
			return r.timeoutResult(tc), nil
		}
	} else {
		r.drainStale()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.agentTimeout)
		go r.runAgent(runCtx, cancel, query)
	}

	item, err := r.outQ.Get(ctx)
	if err != nil {
		// The agent is still working; its next output waits for the next
		// invocation.
		r.recordTurn(ctx, "timeout")
		return r.timeoutResult(tc), nil
	}
	if item.final {
		// The run is retired here, not in the agent goroutine: a new query
		// arriving right after this return can never mistake a finished run
		// for a live one.
		r.setAgentRunning(false)
	}

	r.completeTurn(ctx, query, item.out, tc)
	r.recordTurn(ctx, statusOf(item.out))
	return r.result(item.out, tc), nil
}

// runAgent executes one detached agent run. The terminal output goes out as a
// final item and the consuming invocation clears the running flag; the
// goroutine clears it itself only when there is no item to consume.
func (r *Runtime) runAgent(ctx context.Context, cancel context.CancelFunc, query string) {
	defer cancel()

	out, err := r.agent.Run(ctx, r.sess, query, forwardTracer{r: r}, r)
	if err != nil {
		if ctx.Err() != nil {
			// Run timed out with nobody waiting; there is no one to deliver
			// a response to.
			r.log.Warn("agent run abandoned", "user_id", r.userID, "err", err)
			r.setAgentRunning(false)
			return
		}
		r.emitTrace(types.TraceError, map[string]any{"error": err.Error()})
		out = failureOutput("Agent failed: " + err.Error())
	}
	if out == nil {
		out = failureOutput("The agent returned no output.")
	}

	putCtx, done := context.WithTimeout(context.Background(), finalOutputGrace)
	defer done()
	if perr := r.outQ.Put(putCtx, agentItem{out: out, final: true}); perr != nil {
		r.log.Warn("agent output dropped", "user_id", r.userID, "err", perr)
		r.setAgentRunning(false)
	}
}

func (r *Runtime) setAgentRunning(v bool) {
	r.agentMu.Lock()
	r.agentRunning = v
	r.agentMu.Unlock()
}

// AskUser implements [Interaction]: the question goes out on the output queue
// as this invocation's response, and the answer arrives with the next
// invocation.
func (r *Runtime) AskUser(ctx context.Context, question string) (string, error) {
	out := &types.CommandOutput{CommandResponses: []types.CommandResponse{{
		Response: question,
		Success:  true,
	}}}
	if err := r.outQ.Put(ctx, agentItem{out: out}); err != nil {
		return "", fmt.Errorf("runtime: deliver question: %w", err)
	}
	answer, err := r.msgQ.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("runtime: wait for answer: %w", err)
	}
	return answer, nil
}

// drainStale discards queued leftovers of a previous agent run before a new
// one starts.
func (r *Runtime) drainStale() {
	for {
		item, ok := r.outQ.TryGet()
		if !ok {
			break
		}
		r.log.Warn("dropping unconsumed agent output", "user_id", r.userID, "response", item.out.Text())
	}
	for {
		if _, ok := r.msgQ.TryGet(); !ok {
			break
		}
	}
}

// completeTurn appends the exchange to the in-memory history and persists
// incrementally. Persistence failures degrade to a warning; the turn stays in
// memory and the next persist retries.
func (r *Runtime) completeTurn(ctx context.Context, utterance string, out *types.CommandOutput, tc *TraceCollector) {
	turn := types.Turn{Summary: turnSummary(utterance, out), Traces: tc.Events()}

	r.histMu.Lock()
	r.history = append(r.history, turn)
	err := r.persistLocked(ctx)
	r.histMu.Unlock()

	if err != nil {
		r.log.Warn("conversation persist failed", "user_id", r.userID, "err", err)
	}
}

// persistLocked saves the in-memory history under the reserved conversation
// id, reserving one on first use. Caller holds histMu.
func (r *Runtime) persistLocked(ctx context.Context) error {
	if len(r.history) == 0 {
		return nil
	}
	if r.convID == 0 {
		id, err := r.store.ReserveNextID(ctx, r.userID)
		if err != nil {
			return fmt.Errorf("runtime: reserve conversation id: %w", err)
		}
		r.convID = id
	}
	turns := make([]types.Turn, len(r.history))
	copy(turns, r.history)
	if err := r.store.SaveTurns(ctx, r.userID, r.convID, turns); err != nil {
		return fmt.Errorf("runtime: save turns: %w", err)
	}
	return nil
}

// Rotate closes the current conversation and starts a new one: the in-memory
// turns are flushed with a generated topic and summary, the next id is
// reserved, and the history resets. Rotating an empty conversation keeps the
// current id. Returns the id of the conversation now active.
func (r *Runtime) Rotate(ctx context.Context) (int, error) {
	if err := r.acquire(ctx); err != nil {
		return 0, fmt.Errorf("runtime: acquire turn gate: %w", err)
	}
	defer r.release()

	r.histMu.Lock()
	defer r.histMu.Unlock()

	if len(r.history) == 0 {
		return r.convID, nil
	}
	if err := r.flushLocked(ctx); err != nil {
		return 0, err
	}
	id, err := r.store.ReserveNextID(ctx, r.userID)
	if err != nil {
		return 0, fmt.Errorf("runtime: reserve conversation id: %w", err)
	}
	r.convID = id
	r.history = nil
	if r.metrics != nil {
		r.metrics.RecordRotation(ctx)
	}
	return id, nil
}

// Activate loads a persisted conversation into the in-memory history,
// flushing the current one first. Selection is by id when id > 0, otherwise
// by normalized topic. Returns the activated conversation's id.
func (r *Runtime) Activate(ctx context.Context, id int, topic string) (int, error) {
	if err := r.acquire(ctx); err != nil {
		return 0, fmt.Errorf("runtime: acquire turn gate: %w", err)
	}
	defer r.release()

	r.histMu.Lock()
	defer r.histMu.Unlock()

	var (
		conv *types.Conversation
		err  error
	)
	if id > 0 {
		conv, err = r.store.Get(ctx, r.userID, id)
	} else {
		conv, err = r.store.GetByTopic(ctx, r.userID, topic)
	}
	if err != nil {
		return 0, fmt.Errorf("runtime: load conversation: %w", err)
	}
	if conv.ID == r.convID {
		// Already active; the in-memory history is at least as new as the
		// persisted copy.
		return conv.ID, nil
	}
	if err := r.flushLocked(ctx); err != nil {
		return 0, err
	}
	r.convID = conv.ID
	r.history = conv.Turns
	r.log.Info("conversation activated",
		"user_id", r.userID, "conversation_id", conv.ID, "turns", len(conv.Turns))
	return conv.ID, nil
}

// PostFeedback overwrites the last turn's feedback in memory. The next
// incremental persist writes it through. At least one of score or text must
// be set.
func (r *Runtime) PostFeedback(fb types.Feedback) error {
	if fb.Score == nil && fb.Text == "" {
		return errors.New("runtime: feedback needs a score or text")
	}
	r.histMu.Lock()
	defer r.histMu.Unlock()
	if len(r.history) == 0 {
		return ErrNoTurns
	}
	f := fb
	r.history[len(r.history)-1].Feedback = &f
	return nil
}

// Flush persists the in-memory turns and stamps the current conversation's
// topic and summary. Used at shutdown and before activating another
// conversation.
func (r *Runtime) Flush(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return fmt.Errorf("runtime: acquire turn gate: %w", err)
	}
	defer r.release()

	r.histMu.Lock()
	defer r.histMu.Unlock()
	return r.flushLocked(ctx)
}

// flushLocked persists the history and stamps a generated topic and summary.
// No-op when the history is empty. Caller holds histMu.
func (r *Runtime) flushLocked(ctx context.Context) error {
	if len(r.history) == 0 {
		return nil
	}
	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	ts := r.topicSummary(ctx)
	final, err := r.store.UpdateTopicSummary(ctx, r.userID, r.convID, ts.Topic, ts.Summary)
	if err != nil {
		return fmt.Errorf("runtime: stamp topic: %w", err)
	}
	r.log.Info("conversation closed",
		"user_id", r.userID, "conversation_id", r.convID, "topic", final, "turns", len(r.history))
	return nil
}

// topicSummary generates the conversation topic and summary from the turn
// summaries only, falling back to a numbered topic when no generator is
// configured or the model call fails.
func (r *Runtime) topicSummary(ctx context.Context) convstore.TopicSummary {
	sums := make([]string, len(r.history))
	for i, t := range r.history {
		sums[i] = t.Summary
	}
	if r.summarizer != nil {
		ts, err := r.summarizer.Summarize(ctx, sums)
		if err == nil && ts.Topic != "" {
			return ts
		}
		if err != nil {
			r.log.Warn("topic generation failed", "user_id", r.userID, "err", err)
		}
	}
	return convstore.TopicSummary{
		Topic:   fmt.Sprintf("conversation %d", r.convID),
		Summary: sums[0],
	}
}

func (r *Runtime) result(out *types.CommandOutput, tc *TraceCollector) *Result {
	return &Result{Output: out, Traces: tc.Events(), ConversationID: r.ConversationID()}
}

func (r *Runtime) timeoutResult(tc *TraceCollector) *Result {
	return &Result{Output: timeoutOutput(), Traces: tc.Events(), ConversationID: r.ConversationID()}
}

func (r *Runtime) recordTurn(ctx context.Context, status string) {
	if r.metrics != nil {
		r.metrics.RecordTurn(ctx, status)
	}
}

func statusOf(out *types.CommandOutput) string {
	if out.Success() {
		return "ok"
	}
	return "error"
}

// timeoutOutput is the user-facing response of an invocation that hit its
// deadline. Session state is untouched so the next turn can resume.
func timeoutOutput() *types.CommandOutput {
	return &types.CommandOutput{CommandResponses: []types.CommandResponse{{
		Response: "The request timed out before the command finished. Partial progress is kept; please try again.",
		Success:  false,
	}}}
}

func failureOutput(message string) *types.CommandOutput {
	return &types.CommandOutput{CommandResponses: []types.CommandResponse{{
		Response: message,
		Success:  false,
	}}}
}

// turnSummary renders the exchange as a compact single-line record used for
// history persistence and topic generation.
func turnSummary(utterance string, out *types.CommandOutput) string {
	reply := strings.Join(strings.Fields(out.Text()), " ")
	if runes := []rune(reply); len(runes) > maxSummaryReplyRunes {
		reply = string(runes[:maxSummaryReplyRunes]) + "..."
	}
	return "user: " + utterance + " | assistant: " + reply
}
