package llm

// ToolCallAssembler stitches streamed tool call fragments back together.
// Streaming backends interleave fragments of concurrent calls keyed by index;
// a call's ID and name arrive on its first fragment and the argument JSON
// accretes across many. Not safe for concurrent use; one assembler serves one
// stream.
type ToolCallAssembler struct {
	calls map[int]*ToolCall
	order []int
}

// NewToolCallAssembler returns an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{calls: map[int]*ToolCall{}}
}

// Add folds one fragment into the call at index. An empty id or name leaves
// the value from earlier fragments in place; args is always appended.
func (a *ToolCallAssembler) Add(index int, id, name, args string) {
	call, ok := a.calls[index]
	if !ok {
		call = &ToolCall{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += args
}

// Assembled returns the completed calls in first-seen order, or nil when the
// stream requested none.
func (a *ToolCallAssembler) Assembled() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.calls[idx])
	}
	return out
}
