package convstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	llmmock "github.com/fastworkflow/fastworkflow/pkg/provider/llm/mock"
)

func TestLLMTopicSummarizer_EmptyInput(t *testing.T) {
	p := &llmmock.Provider{}
	s := NewLLMTopicSummarizer(p)

	got, err := s.Summarize(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (TopicSummary{}) {
		t.Errorf("empty input should yield a zero summary, got %+v", got)
	}
	if len(p.CompleteCalls) != 0 {
		t.Errorf("model should not be called for empty input, got %d calls", len(p.CompleteCalls))
	}
}

func TestLLMTopicSummarizer_LabelsConversation(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"topic\": \" Order tracking \", \"summary\": \"The user asked where order 42 was and got a delivery estimate.\"}\n```",
		},
	}
	s := NewLLMTopicSummarizer(p)

	got, err := s.Summarize(context.Background(), []string{
		"asked to track order 42",
		"gave the delivery estimate",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Topic != "Order tracking" {
		t.Errorf("topic: got %q, want %q", got.Topic, "Order tracking")
	}
	if !strings.Contains(got.Summary, "order 42") {
		t.Errorf("summary: got %q", got.Summary)
	}

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("expected one model call, got %d", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.SystemPrompt == "" {
		t.Error("request carries no system prompt")
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected one user message, got %d", len(req.Messages))
	}
	want := "1. asked to track order 42\n2. gave the delivery estimate\n"
	if req.Messages[0].Content != want {
		t.Errorf("user message:\ngot  %q\nwant %q", req.Messages[0].Content, want)
	}
}

func TestLLMTopicSummarizer_ProviderError(t *testing.T) {
	wantErr := errors.New("model offline")
	p := &llmmock.Provider{CompleteErr: wantErr}
	s := NewLLMTopicSummarizer(p)

	_, err := s.Summarize(context.Background(), []string{"asked about returns"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected provider error, got: %v", err)
	}
}

func TestParseTopicSummary(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    TopicSummary
		wantErr bool
	}{
		{
			name:    "bare object",
			content: `{"topic":"Returns","summary":"Handled a return request."}`,
			want:    TopicSummary{Topic: "Returns", Summary: "Handled a return request."},
		},
		{
			name:    "fenced with lead-in prose",
			content: "Sure! Here is the label:\n```json\n{\"topic\":\"Password reset\",\"summary\":\"Walked through a reset.\"}\n```",
			want:    TopicSummary{Topic: "Password reset", Summary: "Walked through a reset."},
		},
		{
			name:    "fields are trimmed",
			content: `{"topic":"  Billing  ","summary":"  Resolved a double charge.  "}`,
			want:    TopicSummary{Topic: "Billing", Summary: "Resolved a double charge."},
		},
		{
			name:    "braces inside the summary",
			content: `{"topic":"Templates","summary":"Explained the {name} placeholder."}`,
			want:    TopicSummary{Topic: "Templates", Summary: "Explained the {name} placeholder."},
		},
		{
			name:    "no JSON object",
			content: "the conversation was about returns",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			content: "{topic: returns}",
			wantErr: true,
		},
		{
			name:    "blank topic",
			content: `{"topic":"   ","summary":"something happened"}`,
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTopicSummary(tc.content)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
