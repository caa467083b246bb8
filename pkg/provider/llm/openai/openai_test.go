package openai

import (
	"strings"
	"testing"
	"time"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("empty api key accepted")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestNew_AcceptsClientOptions(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini",
		WithBaseURL("https://proxy.internal/v1"),
		WithOrganization("org-42"),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", p.model)
	}
}

func TestWireMessage_MapsRoles(t *testing.T) {
	for _, role := range []string{"system", "user", "assistant", "tool"} {
		msg, err := wireMessage(llm.Message{Role: role, Content: "x", ToolCallID: "call_0"})
		if err != nil {
			t.Fatalf("wireMessage(%s): %v", role, err)
		}
		var set bool
		switch role {
		case "system":
			set = msg.OfSystem != nil
		case "user":
			set = msg.OfUser != nil
		case "assistant":
			set = msg.OfAssistant != nil
		case "tool":
			set = msg.OfTool != nil
		}
		if !set {
			t.Errorf("role %s not mapped onto its union field", role)
		}
	}
}

func TestWireMessage_RejectsUnknownRole(t *testing.T) {
	if _, err := wireMessage(llm.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestWireMessage_CarriesAssistantToolCalls(t *testing.T) {
	msg, err := wireMessage(llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "call_7", Name: "set_home_city", Arguments: `{"city":"Paris"}`},
		},
	})
	if err != nil {
		t.Fatalf("wireMessage: %v", err)
	}
	calls := msg.OfAssistant.ToolCalls
	if len(calls) != 1 {
		t.Fatalf("wire message has %d tool calls, want 1", len(calls))
	}
	if calls[0].ID != "call_7" || calls[0].Function.Name != "set_home_city" {
		t.Errorf("tool call = %+v, want id call_7 name set_home_city", calls[0])
	}
	if calls[0].Function.Arguments != `{"city":"Paris"}` {
		t.Errorf("arguments = %s, want the original JSON", calls[0].Function.Arguments)
	}
}

func TestWireMessage_ToolResultKeepsCallID(t *testing.T) {
	msg, err := wireMessage(llm.Message{Role: "tool", Content: "done", ToolCallID: "call_7"})
	if err != nil {
		t.Fatalf("wireMessage: %v", err)
	}
	if msg.OfTool == nil || msg.OfTool.ToolCallID != "call_7" {
		t.Error("tool result lost its call ID")
	}
}

func TestModelCapabilities_KnownModels(t *testing.T) {
	for _, tc := range []struct {
		model       string
		window      int
		maxOut      int
		vision      bool
		toolCalling bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true, true},
		{"gpt-4o", 128_000, 16_384, true, true},
		{"gpt-4-turbo", 128_000, 4_096, true, true},
		{"gpt-4", 8_192, 4_096, false, true},
		{"gpt-3.5-turbo", 16_385, 4_096, false, true},
		{"o1-mini", 128_000, 65_536, false, false},
		{"o3-mini", 200_000, 100_000, false, true},
	} {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.window)
			}
			if caps.MaxOutputTokens != tc.maxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tc.maxOut)
			}
			if caps.SupportsVision != tc.vision {
				t.Errorf("SupportsVision = %v, want %v", caps.SupportsVision, tc.vision)
			}
			if caps.SupportsToolCalling != tc.toolCalling {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tc.toolCalling)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming = false, want true")
			}
		})
	}
}

func TestModelCapabilities_DatedNamesMatchPrefix(t *testing.T) {
	caps := modelCapabilities("gpt-4o-mini-2024-07-18")
	if caps.MaxOutputTokens != 16_384 {
		t.Errorf("dated model MaxOutputTokens = %d, want 16384", caps.MaxOutputTokens)
	}
}

func TestModelCapabilities_UnknownModelGetsDefaults(t *testing.T) {
	caps := modelCapabilities("my-finetune")
	if caps.ContextWindow <= 0 || caps.MaxOutputTokens <= 0 {
		t.Errorf("fallback capabilities not positive: %+v", caps)
	}
	if !caps.SupportsStreaming {
		t.Error("fallback should support streaming")
	}
}

func TestCountTokens_ScalesWithContent(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	short, err := p.CountTokens([]llm.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	long, err := p.CountTokens([]llm.Message{
		{Role: "user", Content: strings.Repeat("add two numbers ", 40)},
	})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}

	if short <= 0 {
		t.Errorf("short estimate = %d, want positive", short)
	}
	if long <= short {
		t.Errorf("long estimate %d not greater than short %d", long, short)
	}
}

