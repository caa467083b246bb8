package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// defaultMaxExamples caps how many labeled examples are included in the
// extraction prompt.
const defaultMaxExamples = 3

// extractionSystemPrompt fixes the extraction output contract.
const extractionSystemPrompt = `You extract typed parameter values from a user message.
Respond with a single JSON object mapping field names to values.
Use null for every field the message does not provide. Never invent values.`

// LLMExtractor prompts a model with the command's field schema and labeled
// examples and parses the returned JSON object into a typed record. Fields
// the model reports as null, omits, or mistypes keep their sentinel.
//
// Safe for concurrent use.
type LLMExtractor struct {
	provider    llm.Provider
	maxExamples int
}

var _ Extractor = (*LLMExtractor)(nil)

// LLMOption configures an [LLMExtractor].
type LLMOption func(*LLMExtractor)

// WithMaxExamples caps the few-shot examples per prompt. Defaults to 3.
func WithMaxExamples(n int) LLMOption {
	return func(e *LLMExtractor) { e.maxExamples = n }
}

// NewLLMExtractor creates an extractor over the given provider.
func NewLLMExtractor(provider llm.Provider, opts ...LLMOption) *LLMExtractor {
	e := &LLMExtractor{
		provider:    provider,
		maxExamples: defaultMaxExamples,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract implements [Extractor]. Transport and parse failures are returned
// so the caller can log them and fall back to defaults.
func (e *LLMExtractor) Extract(ctx context.Context, desc *workflow.CommandDescriptor, text string) (workflow.ParameterRecord, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: e.buildPrompt(desc, text)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: completion for %s: %w", desc.QualifiedName, err)
	}
	if resp == nil {
		return blankRecord(desc), nil
	}

	payload, err := parseExtractionPayload(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("extract: parse model reply for %s: %w", desc.QualifiedName, err)
	}

	rec := blankRecord(desc)
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		v, ok := payload[f.Name]
		if !ok || v == nil {
			continue
		}
		if coerced, ok := coerceJSON(f, v); ok {
			rec[f.Name] = coerced
		}
	}
	return rec, nil
}

// buildPrompt renders the field schema, the few-shot examples, and the text.
func (e *LLMExtractor) buildPrompt(desc *workflow.CommandDescriptor, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", desc.QualifiedName)
	if desc.Description != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", desc.Description)
	}
	b.WriteString("Fields:\n")
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.Kind)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of: %s", strings.Join(f.Enum, ", "))
		}
		if len(f.Examples) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(f.Examples, ", "))
		}
		if f.Default != nil {
			fmt.Fprintf(&b, " (default %v)", f.Default)
		}
		b.WriteByte('\n')
	}

	for i, ex := range desc.ExtractionExamples {
		if i >= e.maxExamples {
			break
		}
		if i == 0 {
			b.WriteString("\nExamples:\n")
		}
		params, err := json.Marshal(ex.Parameters)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "Message: %s\nParameters: %s\n", ex.Utterance, params)
	}

	fmt.Fprintf(&b, "\nMessage: %s\nParameters:", text)
	return b.String()
}

// parseExtractionPayload pulls the outermost JSON object out of a model
// reply, tolerating surrounding prose or fencing.
func parseExtractionPayload(raw string) (map[string]any, error) {
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", truncate(raw, 120))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// coerceJSON converts a JSON-decoded value into the field's runtime type.
// The model's sentinel echoes ("NOT_FOUND", empty strings) count as unset.
func coerceJSON(f *workflow.ParameterField, v any) (any, bool) {
	switch t := v.(type) {
	case string:
		if t == "" || t == workflow.NotFound {
			return nil, false
		}
		coerced, err := workflow.Coerce(f, t)
		if err != nil {
			return nil, false
		}
		return coerced, true

	case float64:
		switch f.Kind {
		case workflow.KindInt:
			return int64(t), true
		case workflow.KindFloat:
			return t, true
		case workflow.KindString:
			return workflow.StringForm(workflow.KindFloat, t), true
		}
		return nil, false

	case bool:
		if f.Kind == workflow.KindBool {
			return t, true
		}
		return nil, false

	case []any:
		if f.Kind != workflow.KindStringList {
			return nil, false
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out, true

	default:
		return nil, false
	}
}

// truncate shortens s for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
