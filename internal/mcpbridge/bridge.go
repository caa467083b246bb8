// Package mcpbridge mounts the engine as an MCP tool server.
//
// MCP clients hold a long-lived token minted by /admin/generate_mcp_token;
// the HTTP layer verifies it and stores the claims in the request context
// before the bridge sees the call. Two tools are exposed: invoke_assistant
// runs a natural-language query through the workflow pipeline, and
// perform_action dispatches a structured command. Both open (or reuse) the
// runtime of the token's user, so an MCP client shares conversation state
// with the same user's HTTP sessions.
//
// Engine-level failures (unknown command, missing parameters, handler
// errors) are normal results whose JSON carries success=false, matching the
// HTTP surface. IsError is reserved for bridge-level problems: missing
// authentication, malformed arguments, a shut-down manager.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fastworkflow/fastworkflow/internal/auth"
	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// defaultCallTimeout bounds a tool call when the client does not pass
// timeout_seconds. Matches the HTTP invocation default.
const defaultCallTimeout = 120 * time.Second

// Tool names advertised to MCP clients.
const (
	toolInvokeAssistant = "invoke_assistant"
	toolPerformAction   = "perform_action"
)

// Config assembles a [Bridge].
type Config struct {
	// Manager opens per-user runtimes. Required.
	Manager *runtime.Manager

	// Version is advertised in the MCP initialize handshake. Defaults to
	// "dev".
	Version string

	// DefaultTimeout bounds tool calls that carry no timeout_seconds.
	// Defaults to defaultCallTimeout.
	DefaultTimeout time.Duration

	// Logger receives bridge diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bridge serves the engine's MCP tool surface.
type Bridge struct {
	mgr     *runtime.Manager
	timeout time.Duration
	log     *slog.Logger
	server  *mcpsdk.Server
}

// New validates cfg, builds the MCP server, and registers the tools.
func New(cfg Config) (*Bridge, error) {
	if cfg.Manager == nil {
		return nil, errors.New("mcpbridge: config needs a runtime manager")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Bridge{
		mgr:     cfg.Manager,
		timeout: cfg.DefaultTimeout,
		log:     cfg.Logger,
	}
	b.server = mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "fastworkflow", Version: cfg.Version},
		nil,
	)
	b.server.AddTool(assistantTool(), b.invokeAssistant)
	b.server.AddTool(actionTool(), b.performAction)
	return b, nil
}

// Handler returns the streamable-HTTP mount for the bridge. The caller is
// responsible for wrapping it in token verification.
func (b *Bridge) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return b.server },
		nil,
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tool descriptors
// ──────────────────────────────────────────────────────────────────────────────

func assistantTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        toolInvokeAssistant,
		Description: "Run one natural-language command through the workflow engine. The reply carries the command output (success flag, responses, suggested next actions) and the conversation id.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "The command to run, in natural language or as a command name with tagged parameters.",
				},
				"timeout_seconds": {
					Type:        "number",
					Description: "Per-call deadline in seconds. Defaults to the server's invocation timeout.",
				},
			},
			Required: []string{"query"},
		},
	}
}

func actionTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        toolPerformAction,
		Description: "Dispatch one structured command, bypassing intent resolution. Parameters are coerced against the command's declared schema and validated before dispatch.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command": {
					Type:        "string",
					Description: "Command name, qualified (Context/name) or bare.",
				},
				"parameters": {
					Type:        "object",
					Description: "Field values, keyed by parameter name.",
				},
				"timeout_seconds": {
					Type:        "number",
					Description: "Per-call deadline in seconds. Defaults to the server's invocation timeout.",
				},
			},
			Required: []string{"command"},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Tool handlers
// ──────────────────────────────────────────────────────────────────────────────

type assistantArgs struct {
	Query          string  `json:"query"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func (b *Bridge) invokeAssistant(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args assistantArgs
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError(fmt.Sprintf("bad arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return toolError("query must not be empty"), nil
	}

	rt, res := b.runtimeFor(ctx)
	if res != nil {
		return res, nil
	}

	callCtx, cancel := b.callContext(ctx, args.TimeoutSeconds)
	defer cancel()

	result, err := rt.Invoke(callCtx, args.Query)
	if err != nil {
		return b.invokeError(callCtx, rt, err), nil
	}
	return outputResult(result.Output, result.ConversationID), nil
}

type actionArgs struct {
	Command        string         `json:"command"`
	Parameters     map[string]any `json:"parameters"`
	TimeoutSeconds float64        `json:"timeout_seconds"`
}

func (b *Bridge) performAction(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args actionArgs
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError(fmt.Sprintf("bad arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Command) == "" {
		return toolError("command must not be empty"), nil
	}

	rt, res := b.runtimeFor(ctx)
	if res != nil {
		return res, nil
	}

	callCtx, cancel := b.callContext(ctx, args.TimeoutSeconds)
	defer cancel()

	result, err := rt.PerformAction(callCtx, types.Action{
		CommandName: args.Command,
		Parameters:  args.Parameters,
	})
	if err != nil {
		return b.invokeError(callCtx, rt, err), nil
	}
	return outputResult(result.Output, result.ConversationID), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// runtimeFor opens the runtime named by the call's token claims. The second
// return value is a ready error result when no runtime can be had.
func (b *Bridge) runtimeFor(ctx context.Context) (*runtime.Runtime, *mcpsdk.CallToolResult) {
	claims := auth.FromContext(ctx)
	if claims == nil || claims.UserID == "" {
		return nil, toolError("no authenticated user on this connection")
	}
	rt, err := b.mgr.Open(claims.UserID)
	if err != nil {
		b.log.Warn("mcp tool call rejected", "user", claims.UserID, "error", err)
		return nil, toolError("service is shutting down")
	}
	return rt, nil
}

// callContext applies the per-call deadline.
func (b *Bridge) callContext(ctx context.Context, seconds float64) (context.Context, context.CancelFunc) {
	timeout := b.timeout
	if seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}
	return context.WithTimeout(ctx, timeout)
}

// invokeError maps a runtime error: deadline expiry becomes the standard
// timed-out output, anything else is a bridge-level error result.
func (b *Bridge) invokeError(ctx context.Context, rt *runtime.Runtime, err error) *mcpsdk.CallToolResult {
	if ctx.Err() != nil {
		return outputResult(timeoutOutput(), rt.ConversationID())
	}
	b.log.Error("mcp tool call failed", "user", rt.UserID(), "error", err)
	return toolError("internal error")
}

// outputResult renders the terminal shape shared with the HTTP surface:
// {"command_output": ..., "conversation_id": N} as text content.
func outputResult(out *types.CommandOutput, conversationID int) *mcpsdk.CallToolResult {
	payload, err := json.Marshal(map[string]any{
		"command_output":  out,
		"conversation_id": conversationID,
	})
	if err != nil {
		payload = []byte(out.Text())
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(payload)}},
	}
}

func toolError(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: message}},
	}
}

func timeoutOutput() *types.CommandOutput {
	return &types.CommandOutput{
		CommandResponses: []types.CommandResponse{{
			Response: "The request timed out while waiting for an earlier command to finish. Please try again.",
			Success:  false,
		}},
	}
}
