// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the llm.Provider
// interface, giving one constructor for every hosted or local backend the
// config may name: OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral,
// Groq, llama.cpp, and llamafile.
//
// Credentials left out of the options fall back to each backend's usual
// environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on).
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

// Provider routes llm.Provider calls through one any-llm-go backend. The
// engine builds several at different sizes: a small model for first-tier
// intent votes, a larger one for tie-breaks and extraction, and whichever
// the operator picked for summaries and the agent loop.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// backends maps config names to any-llm-go constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// SupportedBackends lists the backend names New accepts, sorted.
func SupportedBackends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a provider on the named backend. The name is matched case
// insensitively against [SupportedBackends].
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	build, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (supported: %s)",
			name, strings.Join(SupportedBackends(), ", "))
	}
	backend, err := build(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.newParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		asm := llm.NewToolCallAssembler()
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			// Fragments carry no stable call index on this API, so slot
			// position within the delta stands in for it.
			for i, tc := range choice.Delta.ToolCalls {
				asm.Add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.ToolCalls = asm.Assembled()
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after chunks is drained.
		if err := <-errs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.newParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: response has no choices")
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content: choice.Message.ContentString(),
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// CountTokens approximates four characters per token plus a fixed
// per-message overhead. The backends behind this package tokenize
// differently, so the estimate leans high rather than exact.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// newParams converts a completion request into any-llm-go wire params.
func (p *Provider) newParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: msgs,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// wireMessage maps one conversation message onto the any-llm-go shape.
func wireMessage(m llm.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capsRule pairs a model name test with the capabilities it implies.
type capsRule struct {
	match func(string) bool
	caps  llm.ModelCapabilities
}

func byPrefix(p string, c llm.ModelCapabilities) capsRule {
	return capsRule{match: func(s string) bool { return strings.HasPrefix(s, p) }, caps: c}
}

func byInfix(p string, c llm.ModelCapabilities) capsRule {
	return capsRule{match: func(s string) bool { return strings.Contains(s, p) }, caps: c}
}

func caps(window, maxOut int, tools, vision bool) llm.ModelCapabilities {
	return llm.ModelCapabilities{
		ContextWindow:       window,
		MaxOutputTokens:     maxOut,
		SupportsToolCalling: tools,
		SupportsVision:      vision,
		SupportsStreaming:   true,
	}
}

// capsRules is checked in order, so specific names sit above their family
// catch-alls. Claude and Gemini entries match by infix because gateways often
// prefix the vendor ("anthropic/claude-3-opus").
var capsRules = []capsRule{
	byPrefix("gpt-4o-mini", caps(128_000, 16_384, true, true)),
	byPrefix("gpt-4o", caps(128_000, 16_384, true, true)),
	byPrefix("gpt-4-turbo", caps(128_000, 4_096, true, true)),
	byPrefix("gpt-4", caps(8_192, 4_096, true, false)),
	byPrefix("gpt-3.5-turbo", caps(16_385, 4_096, true, false)),
	byPrefix("o1-mini", caps(128_000, 65_536, false, false)),
	byPrefix("o1", caps(200_000, 100_000, true, true)),
	byPrefix("o3-mini", caps(200_000, 100_000, true, false)),
	byPrefix("o3", caps(200_000, 100_000, true, true)),
	byInfix("claude-3-opus", caps(200_000, 4_096, true, true)),
	byInfix("claude", caps(200_000, 8_192, true, true)),
	byInfix("gemini-1.5-pro", caps(2_097_152, 8_192, true, true)),
	byInfix("gemini-2.0-flash", caps(1_048_576, 8_192, true, true)),
	byInfix("gemini-1.5-flash", caps(1_048_576, 8_192, true, true)),
	byPrefix("gemini", caps(128_000, 8_192, true, true)),
}

// fallbackCaps covers model names no rule recognizes.
var fallbackCaps = caps(128_000, 4_096, true, false)

func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, rule := range capsRules {
		if rule.match(lower) {
			return rule.caps
		}
	}
	return fallbackCaps
}
