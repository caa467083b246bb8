// Package types defines the shared types used across all fastWorkflow packages.
//
// These types form the lingua franca between the NLU pipeline, the session
// runtime, the conversation store, and the HTTP transport. They are
// intentionally minimal: each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// CommandResponse is a single response emitted by a command's response
// generator. A command invocation may emit several responses (for example a
// result plus a recommendation block).
type CommandResponse struct {
	// Response is the user-facing text of this response.
	Response string `json:"response"`

	// Success reports whether the command completed as intended. A false
	// value halts further pipeline processing for the turn.
	Success bool `json:"success"`

	// Artifacts carries structured outputs keyed by name (result values,
	// generated identifiers, file paths). Values are JSON-encodable.
	Artifacts map[string]any `json:"artifacts,omitempty"`

	// NextActions lists follow-up invocations the application suggests.
	// Clients may submit them verbatim via the action endpoint.
	NextActions []Action `json:"next_actions,omitempty"`

	// Recommendations are short free-text hints shown alongside the response.
	Recommendations []string `json:"recommendations,omitempty"`
}

// CommandOutput is the full output of one command invocation as returned to
// the caller and recorded in the conversation history.
type CommandOutput struct {
	// CommandName is the fully qualified name of the command that produced
	// this output. Empty when the turn ended before a command was resolved
	// (clarification prompts, validation errors).
	CommandName string `json:"command_name,omitempty"`

	// CommandResponses holds the responses in emission order. Never empty.
	CommandResponses []CommandResponse `json:"command_responses"`
}

// Success reports whether every response in the output succeeded.
func (o *CommandOutput) Success() bool {
	for _, r := range o.CommandResponses {
		if !r.Success {
			return false
		}
	}
	return len(o.CommandResponses) > 0
}

// Text concatenates all response texts separated by newlines. Convenience for
// logging and turn summaries.
func (o *CommandOutput) Text() string {
	switch len(o.CommandResponses) {
	case 0:
		return ""
	case 1:
		return o.CommandResponses[0].Response
	}
	out := o.CommandResponses[0].Response
	for _, r := range o.CommandResponses[1:] {
		out += "\n" + r.Response
	}
	return out
}

// Action is a structured invocation request that bypasses natural-language
// understanding entirely: the command name and parameters are already known.
type Action struct {
	// Context optionally names the command context the action targets. Empty
	// means the session's current context.
	Context string `json:"context,omitempty"`

	// CommandName is the fully qualified command to invoke.
	CommandName string `json:"command_name"`

	// CommandText is the original utterance the action was derived from, if
	// any. Recorded in traces; not used for extraction.
	CommandText string `json:"command_text,omitempty"`

	// Parameters maps field names to already-typed values.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// TraceKind identifies the pipeline phase a trace event was emitted from.
type TraceKind string

const (
	// TraceStageEntry marks the pipeline entering a state-machine stage.
	TraceStageEntry TraceKind = "stage_entry"

	// TraceCandidates carries the candidate command set produced by the
	// intent classifier, including the resolution method that produced it.
	TraceCandidates TraceKind = "candidate_set"

	// TraceParameters carries the extracted parameter record before
	// validation.
	TraceParameters TraceKind = "extracted_parameters"

	// TraceValidation carries the validation verdict and any missing or
	// invalid field names.
	TraceValidation TraceKind = "validation_result"

	// TraceDispatch marks the hand-off of a resolved invocation to the
	// command's response generator.
	TraceDispatch TraceKind = "dispatch"

	// TraceResponse carries the final command output of the turn.
	TraceResponse TraceKind = "response"

	// TraceAgent carries agent-loop events (tool calls, tool results).
	TraceAgent TraceKind = "agent"

	// TraceError carries a non-fatal error surfaced during the turn.
	TraceError TraceKind = "error"
)

// TraceEvent is a single timestamped event emitted at a pipeline phase
// boundary. Events stream live to the caller and are also buffered into the
// turn record.
type TraceEvent struct {
	// Kind identifies the phase that emitted the event.
	Kind TraceKind `json:"kind"`

	// Data holds the event payload. Keys are event-specific; values are
	// JSON-encodable.
	Data map[string]any `json:"data"`

	// TS is the emission time.
	TS time.Time `json:"ts"`
}

// Feedback is a caller-supplied judgement of a turn. At least one field is
// set; later submissions overwrite earlier ones (last write wins).
type Feedback struct {
	// Score is a binary or numeric rating, when given.
	Score *float64 `json:"binary_or_numeric_score,omitempty"`

	// Text is free-form natural-language feedback, when given.
	Text string `json:"nl_feedback,omitempty"`
}

// Turn is one utterance/response exchange recorded in a conversation.
type Turn struct {
	// Summary is a compact one-line record of the exchange. Never empty for
	// a persisted turn.
	Summary string `json:"summary"`

	// Traces holds the buffered trace events of the invocation.
	Traces []TraceEvent `json:"traces,omitempty"`

	// Feedback is attached after the fact via the feedback endpoint. Nil
	// until submitted.
	Feedback *Feedback `json:"feedback,omitempty"`
}

// Conversation is a persisted, ordered sequence of turns with generated topic
// and summary. IDs increase monotonically per user.
type Conversation struct {
	ID        int       `json:"id"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// ConversationSummary is the listing form of a conversation: everything
// except the turns.
type ConversationSummary struct {
	ID        int       `json:"id"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}
