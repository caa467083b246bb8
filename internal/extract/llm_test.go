package extract_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fastworkflow/fastworkflow/internal/extract"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	llmmock "github.com/fastworkflow/fastworkflow/pkg/provider/llm/mock"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

func TestLLMExtractor_ParsesTypedValues(t *testing.T) {
	desc := loadCancelOrder(t)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `Here you go:
{"order_id": "#W0000001", "reason": "Ordered By Mistake", "note": null, "cc": ["a@b.c"]}`,
	}}
	e := extract.NewLLMExtractor(p)

	rec, err := e.Extract(context.Background(), desc, "cancel #W0000001, i ordered it by mistake")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec["order_id"] != "#W0000001" {
		t.Errorf("order_id = %v", rec["order_id"])
	}
	if rec["reason"] != "ordered by mistake" {
		t.Errorf("reason = %v, want canonical enum spelling", rec["reason"])
	}
	if !workflow.IsSentinel(workflow.KindString, rec["note"]) {
		t.Errorf("note = %v, want sentinel for null", rec["note"])
	}
	if got, ok := rec["cc"].([]string); !ok || len(got) != 1 || got[0] != "a@b.c" {
		t.Errorf("cc = %v", rec["cc"])
	}
}

func TestLLMExtractor_NumbersAndEchoedSentinels(t *testing.T) {
	desc := loadAddNumbers(t)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"first_num": 5, "second_num": "NOT_FOUND"}`,
	}}
	e := extract.NewLLMExtractor(p)

	rec, err := e.Extract(context.Background(), desc, "add 5")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec["first_num"] != 5.0 {
		t.Errorf("first_num = %v, want 5", rec["first_num"])
	}
	if !workflow.IsSentinel(workflow.KindFloat, rec["second_num"]) {
		t.Errorf("second_num = %v, want sentinel for echoed NOT_FOUND", rec["second_num"])
	}
}

func TestLLMExtractor_PromptCarriesSchemaAndExamples(t *testing.T) {
	desc := loadCancelOrder(t)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{}`}}
	e := extract.NewLLMExtractor(p)

	if _, err := e.Extract(context.Background(), desc, "cancel my order"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(p.CompleteCalls))
	}
	prompt := p.CompleteCalls[0].Req.Messages[0].Content
	for _, want := range []string{
		"order_id", "required",
		"reason", "no longer needed",
		"cancel order #W0000001 because i ordered it by mistake",
		"cancel my order",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLLMExtractor_Failures(t *testing.T) {
	desc := loadCancelOrder(t)

	t.Run("transport error is returned", func(t *testing.T) {
		p := &llmmock.Provider{CompleteErr: errors.New("model offline")}
		e := extract.NewLLMExtractor(p)
		if _, err := e.Extract(context.Background(), desc, "x"); err == nil {
			t.Fatal("Extract returned nil error for a failed completion")
		}
	})

	t.Run("reply without JSON is an error", func(t *testing.T) {
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "sorry, cannot help"}}
		e := extract.NewLLMExtractor(p)
		if _, err := e.Extract(context.Background(), desc, "x"); err == nil {
			t.Fatal("Extract returned nil error for an unparseable reply")
		}
	})
}
