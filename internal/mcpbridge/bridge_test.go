package mcpbridge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fastworkflow/fastworkflow/internal/auth"
	"github.com/fastworkflow/fastworkflow/internal/convstore/mock"
	"github.com/fastworkflow/fastworkflow/internal/extract"
	"github.com/fastworkflow/fastworkflow/internal/intent"
	"github.com/fastworkflow/fastworkflow/internal/mcpbridge"
	"github.com/fastworkflow/fastworkflow/internal/pipeline"
	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/pkg/types"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// addUtterance resolves by prefix and extracts both parameters from the pair
// notation, so a turn dispatches without any model in the loop.
const addUtterance = "add_two_numbers first_num=5 second_num=3"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func loadTestDefinition(t *testing.T) *workflow.Definition {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_commands", "add_two_numbers.json"), `{
  "description": "Add two numbers together.",
  "parameters": [
    {"name": "first_num", "type": "float", "required": true},
    {"name": "second_num", "type": "float", "required": true}
  ],
  "plain_utterances": ["add two numbers"]
}`)
	def, err := workflow.NewLoader().Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return def
}

// fixture serves the bridge over HTTP with claims injected the way the API
// server's bearer middleware does, and connects an SDK client to it.
type fixture struct {
	store *mock.Store
	mgr   *runtime.Manager
	ts    *httptest.Server
}

func newFixture(t *testing.T, user string) *fixture {
	t.Helper()
	def := loadTestDefinition(t)
	reg := workflow.NewHandlerRegistry()
	reg.RegisterResponse("add_two_numbers", func(_ context.Context, _ workflow.AppContext, req workflow.Request) (*types.CommandOutput, error) {
		a, _ := req.Parameters["first_num"].(float64)
		b, _ := req.Parameters["second_num"].(float64)
		return &types.CommandOutput{
			CommandResponses: []types.CommandResponse{{Response: fmt.Sprintf("%g", a+b), Success: true}},
		}, nil
	})

	engine, err := pipeline.New(pipeline.Config{
		Definition: def,
		Registry:   reg,
		Classifier: intent.NewClassifier(intent.Config{Definition: def}),
		Validator:  extract.NewValidator(reg),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	store := mock.New()
	mgr, err := runtime.NewManager(runtime.Config{
		Definition: def,
		Registry:   reg,
		Engine:     engine,
		Store:      store,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	bridge, err := mcpbridge.New(mcpbridge.Config{Manager: mgr})
	if err != nil {
		t.Fatalf("mcpbridge.New: %v", err)
	}

	handler := bridge.Handler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != "" {
			claims := &auth.Claims{UserID: user, Type: auth.TypeAccess, Scope: auth.ScopeMCP}
			r = r.WithContext(auth.NewContext(r.Context(), claims))
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return &fixture{store: store, mgr: mgr, ts: ts}
}

// connect opens an SDK client session against the fixture server.
func (fx *fixture) connect(t *testing.T) *mcpsdk.ClientSession {
	t.Helper()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "bridge-test", Version: "0.0.1"}, nil)
	session, err := client.Connect(context.Background(),
		&mcpsdk.StreamableClientTransport{Endpoint: fx.ts.URL}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	return res
}

// resultText concatenates the text contents of a tool result.
func resultText(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// resultBody decodes the bridge's terminal payload.
func resultBody(t *testing.T, res *mcpsdk.CallToolResult) (types.CommandOutput, int) {
	t.Helper()
	var body struct {
		CommandOutput  types.CommandOutput `json:"command_output"`
		ConversationID int                 `json:"conversation_id"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode result %q: %v", resultText(t, res), err)
	}
	return body.CommandOutput, body.ConversationID
}

func TestListTools(t *testing.T) {
	fx := newFixture(t, "alice")
	session := fx.connect(t)

	names := map[string]bool{}
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		names[tool.Name] = true
	}
	if !names["invoke_assistant"] || !names["perform_action"] {
		t.Fatalf("tools = %v, want invoke_assistant and perform_action", names)
	}
}

func TestInvokeAssistant_DispatchesAndPersists(t *testing.T) {
	fx := newFixture(t, "alice")
	session := fx.connect(t)

	res := callTool(t, session, "invoke_assistant", map[string]any{"query": addUtterance})
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	out, convID := resultBody(t, res)
	if !out.Success() || out.Text() != "8" {
		t.Fatalf("output = %q (success=%v)", out.Text(), out.Success())
	}
	if convID != 1 {
		t.Errorf("conversation_id = %d, want 1", convID)
	}

	conv, err := fx.store.Get(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Turns) != 1 {
		t.Fatalf("persisted turns = %d, want 1", len(conv.Turns))
	}
}

func TestPerformAction_Dispatches(t *testing.T) {
	fx := newFixture(t, "alice")
	session := fx.connect(t)

	res := callTool(t, session, "perform_action", map[string]any{
		"command":    "add_two_numbers",
		"parameters": map[string]any{"first_num": 5, "second_num": 7},
	})
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	out, _ := resultBody(t, res)
	if !out.Success() || out.Text() != "12" {
		t.Fatalf("output = %q (success=%v)", out.Text(), out.Success())
	}
}

func TestPerformAction_UnknownCommandIsUnsuccessfulOutput(t *testing.T) {
	fx := newFixture(t, "alice")
	session := fx.connect(t)

	res := callTool(t, session, "perform_action", map[string]any{"command": "launch_rocket"})
	if res.IsError {
		t.Fatalf("engine-level failure must not be a tool error: %s", resultText(t, res))
	}
	out, _ := resultBody(t, res)
	if out.Success() {
		t.Fatal("unknown command must not succeed")
	}
	if !strings.Contains(out.Text(), "launch_rocket") {
		t.Errorf("output should name the unknown command, got %q", out.Text())
	}
}

func TestInvokeAssistant_EmptyQueryIsToolError(t *testing.T) {
	fx := newFixture(t, "alice")
	session := fx.connect(t)

	res := callTool(t, session, "invoke_assistant", map[string]any{"query": "   "})
	if !res.IsError {
		t.Fatal("expected a tool error for an empty query")
	}
	if !strings.Contains(resultText(t, res), "query must not be empty") {
		t.Errorf("error text = %q", resultText(t, res))
	}
}

func TestCallWithoutClaimsIsToolError(t *testing.T) {
	fx := newFixture(t, "")
	session := fx.connect(t)

	res := callTool(t, session, "invoke_assistant", map[string]any{"query": addUtterance})
	if !res.IsError {
		t.Fatal("expected a tool error without authentication")
	}
	if !strings.Contains(resultText(t, res), "no authenticated user") {
		t.Errorf("error text = %q", resultText(t, res))
	}
}

func TestSharesRuntimeWithUser(t *testing.T) {
	fx := newFixture(t, "alice")
	session := fx.connect(t)

	if _, err := fx.mgr.Open("alice"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	callTool(t, session, "invoke_assistant", map[string]any{"query": addUtterance})

	rt, ok := fx.mgr.Get("alice")
	if !ok {
		t.Fatal("runtime for alice should exist")
	}
	if rt.ConversationID() != 1 {
		t.Errorf("ConversationID = %d, want 1 (bridge call landed in the user's runtime)", rt.ConversationID())
	}
}
