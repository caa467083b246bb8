// Package llm defines the provider abstraction for language model backends.
//
// The engine runs several model roles against this one interface: intent
// classification votes, parameter extraction, conversation summaries, and the
// agent loop. Implementations wrap one backend SDK each and must be safe for
// concurrent use, since every per-user runtime shares the same providers.
package llm

import "context"

// Usage is the token accounting a backend reports for one exchange. Counts
// are in the backend's own token unit and are not comparable across
// providers.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is the backend-reported total when available, otherwise
	// the sum of the two parts.
	TotalTokens int
}

// CompletionRequest describes one model invocation. Messages must be
// non-empty.
type CompletionRequest struct {
	// Messages is the conversation in order; the final entry drives the
	// response.
	Messages []Message

	// Tools offered to the model for this call. Callers should check
	// Capabilities().SupportsToolCalling before setting this.
	Tools []ToolDefinition

	// Temperature in [0, 2]. Zero asks for near-deterministic decoding,
	// which the classification and extraction stages rely on.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider
	// default.
	MaxTokens int

	// SystemPrompt is injected ahead of Messages. Backends without a
	// dedicated system channel prepend it as a "system" message.
	SystemPrompt string
}

// Chunk is one fragment of a streamed completion. Any combination of fields
// may be set on a single chunk.
type Chunk struct {
	// Text is the incremental content.
	Text string

	// FinishReason is non-empty only on the final chunk: "stop", "length",
	// "tool_calls", or "error" when the stream died mid-flight.
	FinishReason string

	// ToolCalls requested by the model, fully assembled.
	ToolCalls []ToolCall
}

// CompletionResponse is the result of a blocking Complete call.
type CompletionResponse struct {
	// Content is the assistant text. Empty when the model answered with
	// tool calls only.
	Content string

	// ToolCalls are invocations the caller must execute and answer with
	// "tool" messages before continuing the conversation.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is implemented once per backend SDK.
type Provider interface {
	// StreamCompletion starts a completion and emits chunks as they
	// arrive. The implementation closes the channel when generation ends
	// or ctx is cancelled; callers must drain it. A non-nil error means
	// the stream never started, and the channel is non-nil whenever the
	// error is nil. Failures after the first chunk surface as a final
	// chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs the request to completion and returns the assembled
	// response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context cost of messages. The estimate
	// may be approximate but should not undercount, since the agent loop
	// trims history against this number.
	CountTokens(messages []Message) (int, error)

	// Capabilities is constant for the provider's lifetime.
	Capabilities() ModelCapabilities
}
