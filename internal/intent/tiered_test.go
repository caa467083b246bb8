package intent_test

import (
	"context"
	"strings"
	"testing"

	"github.com/fastworkflow/fastworkflow/internal/intent"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	llmmock "github.com/fastworkflow/fastworkflow/pkg/provider/llm/mock"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

func testDescriptors(t *testing.T) []*workflow.CommandDescriptor {
	t.Helper()
	def := loadTestDefinition(t)
	var out []*workflow.CommandDescriptor
	for _, name := range def.CommandsFor("Order") {
		d, ok := def.Command(name)
		if !ok {
			t.Fatalf("descriptor for %q missing", name)
		}
		out = append(out, d)
	}
	return out
}

func jsonResponse(body string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: body}
}

func TestTieredPredictor_SmallTierConfident(t *testing.T) {
	small := &llmmock.Provider{CompleteResponse: jsonResponse(
		`{"candidates": [{"command": "Order/cancel", "confidence": 0.95}, {"command": "Order/track", "confidence": 0.9}]}`,
	)}
	large := &llmmock.Provider{}
	p := intent.NewTieredPredictor(intent.TieredConfig{
		Small:               small,
		Large:               large,
		ConfidenceThreshold: 0.9,
	})

	got, err := p.Predict(context.Background(), "cancel it", testDescriptors(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0].Command != "Order/cancel" {
		t.Fatalf("candidates = %v, want single Order/cancel", got)
	}
	if len(large.CompleteCalls) != 0 {
		t.Errorf("large tier was consulted %d times despite a confident small tier", len(large.CompleteCalls))
	}
}

func TestTieredPredictor_FallsToLargeTier(t *testing.T) {
	small := &llmmock.Provider{CompleteResponse: jsonResponse(
		`{"candidates": [{"command": "Order/cancel", "confidence": 0.4}]}`,
	)}
	large := &llmmock.Provider{CompleteResponse: jsonResponse(
		`{"candidates": [{"command": "Order/track", "confidence": 0.8}]}`,
	)}
	p := intent.NewTieredPredictor(intent.TieredConfig{Small: small, Large: large})

	got, err := p.Predict(context.Background(), "where is it", testDescriptors(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0].Command != "Order/track" {
		t.Fatalf("candidates = %v, want Order/track from the large tier", got)
	}
	if len(small.CompleteCalls) != 1 || len(large.CompleteCalls) != 1 {
		t.Errorf("calls = small %d / large %d, want 1 / 1", len(small.CompleteCalls), len(large.CompleteCalls))
	}
}

func TestTieredPredictor_LargeFailureKeepsSmallResult(t *testing.T) {
	small := &llmmock.Provider{CompleteResponse: jsonResponse(
		`{"candidates": [{"command": "Order/cancel", "confidence": 0.4}]}`,
	)}
	large := &llmmock.Provider{CompleteErr: context.DeadlineExceeded}
	p := intent.NewTieredPredictor(intent.TieredConfig{Small: small, Large: large})

	got, err := p.Predict(context.Background(), "cancel it maybe", testDescriptors(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0].Command != "Order/cancel" {
		t.Fatalf("candidates = %v, want the unconfident small tier result", got)
	}
}

func TestTieredPredictor_MajorityVote(t *testing.T) {
	cancel := `{"candidates": [{"command": "Order/cancel", "confidence": 0.7}]}`
	track := `{"candidates": [{"command": "Order/track", "confidence": 0.7}]}`

	small := &llmmock.Provider{CompleteResponse: jsonResponse(`{"candidates": []}`)}
	large := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		jsonResponse(cancel), jsonResponse(track), jsonResponse(cancel),
	}}
	p := intent.NewTieredPredictor(intent.TieredConfig{Small: small, Large: large, Votes: 3})

	got, err := p.Predict(context.Background(), "drop the order", testDescriptors(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0].Command != "Order/cancel" {
		t.Fatalf("candidates = %v, want the modal Order/cancel", got)
	}
	if len(large.CompleteCalls) != 3 {
		t.Errorf("large tier called %d times, want 3", len(large.CompleteCalls))
	}
}

func TestTieredPredictor_AllVotesEmptyFallsBackToDirect(t *testing.T) {
	small := &llmmock.Provider{CompleteResponse: jsonResponse(`{"candidates": []}`)}
	large := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			jsonResponse("no idea"), jsonResponse("beats me"), jsonResponse("unclear"),
		},
		CompleteResponse: jsonResponse(`{"candidates": [{"command": "Order/track", "confidence": 0.9}]}`),
	}
	p := intent.NewTieredPredictor(intent.TieredConfig{Small: small, Large: large, Votes: 3})

	got, err := p.Predict(context.Background(), "hmm", testDescriptors(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0].Command != "Order/track" {
		t.Fatalf("candidates = %v, want Order/track from the direct fallback", got)
	}
	if len(large.CompleteCalls) != 4 {
		t.Errorf("large tier called %d times, want 3 votes + 1 fallback", len(large.CompleteCalls))
	}
}

func TestTieredPredictor_ParsesBareNameReply(t *testing.T) {
	small := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Order/cancel"}}
	p := intent.NewTieredPredictor(intent.TieredConfig{Small: small, ConfidenceThreshold: 0.9})

	got, err := p.Predict(context.Background(), "cancel it", testDescriptors(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 1 || got[0].Command != "Order/cancel" || got[0].Score != 1 {
		t.Fatalf("candidates = %v, want Order/cancel at confidence 1", got)
	}
}

func TestTieredPredictor_PromptNamesEveryCommand(t *testing.T) {
	small := &llmmock.Provider{CompleteResponse: jsonResponse(`{"candidates": []}`)}
	p := intent.NewTieredPredictor(intent.TieredConfig{Small: small})
	descs := testDescriptors(t)

	if _, err := p.Predict(context.Background(), "anything", descs); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(small.CompleteCalls) != 1 {
		t.Fatalf("small tier called %d times, want 1", len(small.CompleteCalls))
	}
	prompt := small.CompleteCalls[0].Req.Messages[0].Content
	for _, d := range descs {
		if !strings.Contains(prompt, d.QualifiedName) {
			t.Errorf("prompt does not mention %q", d.QualifiedName)
		}
	}
	if !strings.Contains(prompt, "anything") {
		t.Error("prompt does not contain the utterance")
	}
}
