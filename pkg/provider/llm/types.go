package llm

// Message is one entry in a model conversation.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the speaker when one role covers several
	// participants.
	Name string

	// ToolCalls carries the invocations an assistant message requests.
	ToolCalls []ToolCall

	// ToolCallID pairs a "tool" message with the call it answers.
	ToolCallID string
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID is assigned by the backend and echoed back in the tool result.
	ID string

	// Name of the tool to invoke.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the tool's arguments.
	Parameters map[string]any
}

// ModelCapabilities reports static limits and features of a model.
type ModelCapabilities struct {
	// ContextWindow is the combined input and output token budget.
	ContextWindow int

	// MaxOutputTokens bounds a single completion.
	MaxOutputTokens int

	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
