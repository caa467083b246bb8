// Package agent runs the tool-loop planner behind agentic invocations.
//
// The agent hands the user's task to a planning model together with two
// tools: run_workflow_query, which drives one utterance through the
// deterministic workflow engine, and ask_user, which suspends the run until
// the user sends another message. Every tool result is fed back to the model
// verbatim, and the loop ends when the model answers in plain text instead
// of calling a tool. Tool mistakes (unknown tool, malformed arguments, an
// unsuccessful command output) are reported back as tool results so the
// model can correct course; only context expiry and provider transport
// failures abort a run.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fastworkflow/fastworkflow/internal/pipeline"
	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// DefaultMaxIterations bounds the planning loop when the config leaves it
// unset.
const DefaultMaxIterations = 10

// planTemperature keeps tool planning near-deterministic.
const planTemperature = 0.2

// Tool names exposed to the planning model.
const (
	toolRunWorkflowQuery = "run_workflow_query"
	toolAskUser          = "ask_user"
)

// Config assembles an [Agent].
type Config struct {
	// Provider is the planning model. Required.
	Provider llm.Provider

	// Engine executes run_workflow_query calls. Required.
	Engine *pipeline.Engine

	// MaxIterations caps planning rounds per run. Defaults to
	// DefaultMaxIterations.
	MaxIterations int

	// SystemPrompt is appended to the built-in instructions as an operator
	// section, for application-specific guidance. Optional.
	SystemPrompt string

	// Logger receives planning diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Agent is the tool-loop runner. Safe for concurrent use: all per-run state
// lives on the stack of Run.
type Agent struct {
	provider      llm.Provider
	engine        *pipeline.Engine
	maxIterations int
	extraPrompt   string
	tools         []llm.ToolDefinition
	log           *slog.Logger
}

var _ runtime.AgentRunner = (*Agent)(nil)

// New validates cfg and builds an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: config needs a provider")
	}
	if cfg.Engine == nil {
		return nil, errors.New("agent: config needs a pipeline engine")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		provider:      cfg.Provider,
		engine:        cfg.Engine,
		maxIterations: cfg.MaxIterations,
		extraPrompt:   strings.TrimSpace(cfg.SystemPrompt),
		tools:         toolDefinitions(),
		log:           cfg.Logger,
	}, nil
}

// Run drives the planning loop for one task.
func (a *Agent) Run(ctx context.Context, sess *session.Session, query string, tracer pipeline.Tracer, interact runtime.Interaction) (*types.CommandOutput, error) {
	system := a.systemPrompt(sess)
	hist := newHistory(a.provider.Capabilities().ContextWindow)
	hist.add(llm.Message{Role: "user", Content: query})

	emit(tracer, map[string]any{"step": "start", "query": query})

	for round := 1; round <= a.maxIterations; round++ {
		resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     hist.messages(),
			Tools:        a.tools,
			Temperature:  planTemperature,
		})
		if err != nil {
			return nil, fmt.Errorf("agent: planning round %d: %w", round, err)
		}
		if resp == nil || len(resp.ToolCalls) == 0 {
			emit(tracer, map[string]any{"step": "answer", "rounds": round})
			return answerOutput(resp), nil
		}

		hist.add(llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result, err := a.runTool(ctx, sess, call, tracer, interact)
			if err != nil {
				return nil, err
			}
			hist.add(llm.Message{Role: "tool", Content: result, ToolCallID: call.ID})
		}
	}

	a.log.Warn("agent exhausted planning rounds", "user", sess.UserID(), "rounds", a.maxIterations)
	return exhaustedOutput(a.maxIterations), nil
}

// runTool dispatches a single tool call and renders its result for the
// model. Recoverable problems come back as the result string, not as a Go
// error: the model reads its own mistake and retries.
func (a *Agent) runTool(ctx context.Context, sess *session.Session, call llm.ToolCall, tracer pipeline.Tracer, interact runtime.Interaction) (string, error) {
	switch call.Name {
	case toolRunWorkflowQuery:
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("error: bad arguments for %s: %v", call.Name, err), nil
		}
		if strings.TrimSpace(args.Query) == "" {
			return "error: run_workflow_query needs a non-empty query", nil
		}
		emit(tracer, map[string]any{"tool": call.Name, "query": args.Query})
		out, err := a.engine.ProcessTurn(ctx, sess, args.Query,
			pipeline.WithTracer(tracer),
			pipeline.WithTaggedExtraction(),
		)
		if err != nil {
			return "", fmt.Errorf("agent: workflow query: %w", err)
		}
		return renderOutput(out), nil

	case toolAskUser:
		var args struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("error: bad arguments for %s: %v", call.Name, err), nil
		}
		if strings.TrimSpace(args.Question) == "" {
			return "error: ask_user needs a non-empty question", nil
		}
		emit(tracer, map[string]any{"tool": call.Name, "question": args.Question})
		answer, err := interact.AskUser(ctx, args.Question)
		if err != nil {
			return "", fmt.Errorf("agent: ask user: %w", err)
		}
		return "The user answered: " + answer, nil

	default:
		a.log.Debug("model called unknown tool", "tool", call.Name)
		return fmt.Sprintf("error: unknown tool %q, available tools are %s and %s", call.Name, toolRunWorkflowQuery, toolAskUser), nil
	}
}

// toolDefinitions declares the planner's tools. Both schemas take a single
// required string.
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolRunWorkflowQuery,
			Description: `Execute one workflow command. Write the query as the command name followed by tagged parameter values, e.g. "add_two_numbers <first_num>5</first_num> <second_num>3</second_num>".`,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Command name plus tagged parameter values.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolAskUser,
			Description: "Ask the user one question and wait for the answer. Use only when the task text does not contain the information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to put to the user.",
					},
				},
				"required": []string{"question"},
			},
		},
	}
}

// emit forwards an agent-loop event when a tracer is attached.
func emit(tracer pipeline.Tracer, data map[string]any) {
	if tracer != nil {
		tracer.Emit(types.TraceAgent, data)
	}
}

// renderOutput serializes a command output as the tool result. JSON keeps
// the success flag, artifacts, and suggested next actions visible to the
// planner; if an artifact refuses to marshal, fall back to the plain text.
func renderOutput(out *types.CommandOutput) string {
	b, err := json.Marshal(out)
	if err != nil {
		return out.Text()
	}
	return string(b)
}

// answerOutput wraps the model's final text as a successful output.
func answerOutput(resp *llm.CompletionResponse) *types.CommandOutput {
	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		text = "Done."
	}
	return &types.CommandOutput{
		CommandResponses: []types.CommandResponse{{
			Response: text,
			Success:  true,
		}},
	}
}

// exhaustedOutput reports a run that hit the planning-round cap.
func exhaustedOutput(rounds int) *types.CommandOutput {
	return &types.CommandOutput{
		CommandResponses: []types.CommandResponse{{
			Response: fmt.Sprintf("I could not finish this task within %d planning rounds. Try breaking it into smaller steps.", rounds),
			Success:  false,
		}},
	}
}
