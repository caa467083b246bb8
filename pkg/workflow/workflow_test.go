package workflow_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// writeFile creates path (and its parents) with the given content.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeRetailWorkflow lays out a small workflow folder:
//
//	reset_password (global), Order/cancel, Order/track, PremiumOrder/expedite
//	with PremiumOrder inheriting from Order.
func writeRetailWorkflow(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "context_inheritance_model.json"), `{
  "PremiumOrder": {"base": ["Order"]}
}`)

	writeFile(t, filepath.Join(root, "_commands", "reset_password.json"), `{
  "description": "Reset the account password.",
  "parameters": [
    {"name": "email", "type": "string", "required": true}
  ],
  "plain_utterances": ["reset my password", "i forgot my password"]
}`)

	writeFile(t, filepath.Join(root, "_commands", "Order", "cancel.json"), `{
  "display_name": "cancel order",
  "description": "Cancel an order that has not shipped yet.",
  "parameters": [
    {"name": "order_id", "type": "string", "required": true, "pattern": "ORD-[0-9]+", "examples": ["ORD-100", "ORD-205"]},
    {"name": "reason", "type": "enum", "enum": ["damaged", "too late", "changed mind"]}
  ],
  "plain_utterances": ["cancel my order"],
  "template_utterances": ["cancel order {order_id}"]
}`)

	writeFile(t, filepath.Join(root, "_commands", "Order", "track.json"), `{
  "plain_utterances": ["where is my order"]
}`)

	writeFile(t, filepath.Join(root, "_commands", "PremiumOrder", "expedite.json"), `{
  "display_name": "expedite delivery",
  "plain_utterances": ["expedite my order"]
}`)

	// Reserved and foreign entries that the loader must skip.
	writeFile(t, filepath.Join(root, "_commands", "_drafts.json"), `{not even json`)
	writeFile(t, filepath.Join(root, "_commands", "___convo_info", "cache.db"), "binary")
	writeFile(t, filepath.Join(root, "_commands", "notes.txt"), "not a command")

	return root
}

func TestLoad_Shape(t *testing.T) {
	t.Parallel()

	def, err := workflow.NewLoader().Load(writeRetailWorkflow(t))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}

	cancel, ok := def.Command("Order/cancel")
	if !ok {
		t.Fatal("Command(Order/cancel): not found")
	}
	if cancel.DisplayName != "cancel order" {
		t.Errorf("display name: expected %q, got %q", "cancel order", cancel.DisplayName)
	}
	if cancel.Context != "Order" || cancel.Name != "cancel" {
		t.Errorf("context/name: expected Order/cancel, got %s/%s", cancel.Context, cancel.Name)
	}
	if len(cancel.Parameters) != 2 {
		t.Fatalf("parameters: expected 2, got %d", len(cancel.Parameters))
	}

	track, ok := def.Command("Order/track")
	if !ok {
		t.Fatal("Command(Order/track): not found")
	}
	if track.DisplayName != "track" {
		t.Errorf("default display name: expected %q, got %q", "track", track.DisplayName)
	}

	if _, ok := def.Command("reset_password"); !ok {
		t.Error("Command(reset_password): global command not found")
	}

	abort, ok := def.Command("abort")
	if !ok {
		t.Fatal("Command(abort): built-in not found")
	}
	if !abort.Builtin {
		t.Error("abort: expected Builtin true")
	}

	for _, name := range []string{"*", "Order", "PremiumOrder"} {
		if !def.Contexts.Contains(name) {
			t.Errorf("Contexts.Contains(%q): expected true", name)
		}
	}
}

func TestLoad_SkipsReservedEntries(t *testing.T) {
	t.Parallel()

	def, err := workflow.NewLoader().Load(writeRetailWorkflow(t))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	for _, name := range []string{"_drafts", "notes", "___convo_info"} {
		if _, ok := def.Command(name); ok {
			t.Errorf("Command(%q): reserved entry was loaded", name)
		}
	}
}

func TestLoad_TemplateExpansion(t *testing.T) {
	t.Parallel()

	def, err := workflow.NewLoader().Load(writeRetailWorkflow(t))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	cancel, _ := def.Command("Order/cancel")

	want := []string{"cancel order ORD-100", "cancel order ORD-205"}
	if !slices.Equal(cancel.GeneratedUtterances, want) {
		t.Errorf("generated utterances: expected %v, got %v", want, cancel.GeneratedUtterances)
	}
	all := cancel.AllUtterances()
	if len(all) != 3 || all[0] != "cancel my order" {
		t.Errorf("AllUtterances: expected plain first, got %v", all)
	}
}

func TestCommandsFor_InheritsAncestorsAndBuiltins(t *testing.T) {
	t.Parallel()

	def, err := workflow.NewLoader().Load(writeRetailWorkflow(t))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}

	premium := def.CommandsFor("PremiumOrder")
	want := []string{
		"Order/cancel", "Order/track", "PremiumOrder/expedite",
		"abort", "go_up", "reset_password", "what_can_i_do", "you_misunderstood",
	}
	if !slices.Equal(premium, want) {
		t.Errorf("CommandsFor(PremiumOrder): expected %v, got %v", want, premium)
	}

	order := def.CommandsFor("Order")
	if slices.Contains(order, "PremiumOrder/expedite") {
		t.Error("CommandsFor(Order): includes a descendant's command")
	}

	// Empty context means the root: globals and built-ins only.
	root := def.CommandsFor("")
	if slices.Contains(root, "Order/cancel") {
		t.Error("CommandsFor(root): includes a context command")
	}
	if !slices.Contains(root, "reset_password") || !slices.Contains(root, "abort") {
		t.Errorf("CommandsFor(root): expected globals and built-ins, got %v", root)
	}

	// Unknown contexts still reach global commands.
	unknown := def.CommandsFor("NoSuchContext")
	if !slices.Contains(unknown, "abort") {
		t.Errorf("CommandsFor(unknown): expected built-ins, got %v", unknown)
	}
}

func TestLoad_Memoized(t *testing.T) {
	t.Parallel()

	root := writeRetailWorkflow(t)
	l := workflow.NewLoader()

	d1, err := l.Load(root)
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	// Same folder through an unclean path must hit the cache.
	d2, err := l.Load(root + string(os.PathSeparator) + "." + string(os.PathSeparator))
	if err != nil {
		t.Fatalf("Load (unclean path): unexpected error: %v", err)
	}
	if d1 != d2 {
		t.Error("Load: expected memoized definition for the same resolved path")
	}
}

func TestLoad_FailedLoadNotCached(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "wf")
	l := workflow.NewLoader()

	if _, err := l.Load(root); err == nil {
		t.Fatal("Load: expected error for missing folder, got nil")
	}

	writeFile(t, filepath.Join(root, "_commands", "ping.json"), `{"plain_utterances": ["ping"]}`)
	def, err := l.Load(root)
	if err != nil {
		t.Fatalf("Load after fix: unexpected error: %v", err)
	}
	if _, ok := def.Command("ping"); !ok {
		t.Error("Command(ping): not found after retry")
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(t *testing.T) string
		wantSub string
	}{
		{
			name: "workflow path is a file",
			prepare: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "wf")
				writeFile(t, path, "not a folder")
				return path
			},
			wantSub: "not a directory",
		},
		{
			name: "missing _commands",
			prepare: func(t *testing.T) string {
				return t.TempDir()
			},
			wantSub: "_commands",
		},
		{
			name: "nested context directory",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "_commands", "Order", "Nested", "x.json"), `{}`)
				return root
			},
			wantSub: "nested context directories",
		},
		{
			name: "malformed command file",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "_commands", "broken.json"), `{"plain_utterances": [`)
				return root
			},
			wantSub: "parse",
		},
		{
			name: "command shadows a built-in",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "_commands", "abort.json"), `{"plain_utterances": ["abort"]}`)
				return root
			},
			wantSub: "shadows a built-in",
		},
		{
			name: "unknown parameter type",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "_commands", "pay.json"),
					`{"parameters": [{"name": "amount", "type": "decimal"}]}`)
				return root
			},
			wantSub: "unknown type",
		},
		{
			name: "enum without values",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "_commands", "pick.json"),
					`{"parameters": [{"name": "color", "type": "enum"}]}`)
				return root
			},
			wantSub: "enum type requires",
		},
		{
			name: "invalid pattern",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "_commands", "find.json"),
					`{"parameters": [{"name": "id", "type": "string", "pattern": "(["}]}`)
				return root
			},
			wantSub: "pattern",
		},
		{
			name: "inheritance cycle",
			prepare: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, filepath.Join(root, "context_inheritance_model.json"),
					`{"A": {"base": ["B"]}, "B": {"base": ["A"]}}`)
				writeFile(t, filepath.Join(root, "_commands", "A", "x.json"), `{}`)
				return root
			},
			wantSub: "cycle",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := workflow.NewLoader().Load(tc.prepare(t))
			if err == nil {
				t.Fatal("Load: expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("Load error: expected substring %q, got %q", tc.wantSub, err)
			}
		})
	}
}

func TestQualify_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		context string
		command string
		want    string
	}{
		{"Order", "cancel", "Order/cancel"},
		{"*", "abort", "abort"},
		{"", "reset_password", "reset_password"},
	}
	for _, tc := range tests {
		got := workflow.Qualify(tc.context, tc.command)
		if got != tc.want {
			t.Errorf("Qualify(%q, %q): expected %q, got %q", tc.context, tc.command, tc.want, got)
		}
	}

	ctx, cmd := workflow.SplitQualified("Order/cancel")
	if ctx != "Order" || cmd != "cancel" {
		t.Errorf("SplitQualified: expected Order/cancel, got %s/%s", ctx, cmd)
	}
	ctx, cmd = workflow.SplitQualified("abort")
	if ctx != workflow.RootContext || cmd != "abort" {
		t.Errorf("SplitQualified(abort): expected */abort, got %s/%s", ctx, cmd)
	}
}
