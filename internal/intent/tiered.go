package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fastworkflow/fastworkflow/internal/fuzzy"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

const (
	// defaultConfidenceThreshold is the small-tier confidence at which the
	// large tier is skipped.
	defaultConfidenceThreshold = 0.9

	// maxVoteWorkers caps the parallel large-tier calls regardless of the
	// configured vote count.
	maxVoteWorkers = 10

	// voteTemperature is used for ensemble runs so they do not all produce
	// the identical completion. Single-shot predictions run at 0.
	voteTemperature = 0.7

	// maxSampleUtterances caps how many training phrases per command are
	// included in the prediction prompt.
	maxSampleUtterances = 3
)

// classifierSystemPrompt fixes the prediction output contract. The model must
// answer with a JSON object so confidences survive the transport.
const classifierSystemPrompt = `You classify a user utterance into one of the listed commands.
Respond with a single JSON object of the form
{"candidates": [{"command": "<name>", "confidence": <0..1>}]}
listing every plausible command, most likely first. Use only command names
from the list. Respond with {"candidates": []} if nothing fits.`

// TieredConfig assembles a [TieredPredictor].
type TieredConfig struct {
	// Small is the first-tier model. Required.
	Small llm.Provider

	// Large is the second-tier model consulted when the small tier is not
	// confident. When nil the small tier's full candidate set is used as the
	// composite result.
	Large llm.Provider

	// ConfidenceThreshold is the small-tier acceptance bar. Zero means
	// defaultConfidenceThreshold.
	ConfidenceThreshold float64

	// Votes is the number of parallel large-tier predictions to run; the
	// modal candidate set wins. Values below two disable voting.
	Votes int
}

// TieredPredictor implements [Predictor] with a two-tier model pair: a small
// model answers first and a larger one is consulted only when the small
// model's top confidence falls below the threshold. The large tier optionally
// runs as an N-way majority vote.
//
// Safe for concurrent use.
type TieredPredictor struct {
	small llm.Provider
	large llm.Provider

	confidenceThreshold float64
	votes               int
}

var _ Predictor = (*TieredPredictor)(nil)

// NewTieredPredictor creates a TieredPredictor from cfg, filling zero values
// with defaults.
func NewTieredPredictor(cfg TieredConfig) *TieredPredictor {
	p := &TieredPredictor{
		small:               cfg.Small,
		large:               cfg.Large,
		confidenceThreshold: cfg.ConfidenceThreshold,
		votes:               cfg.Votes,
	}
	if p.confidenceThreshold <= 0 {
		p.confidenceThreshold = defaultConfidenceThreshold
	}
	if p.votes < 1 {
		p.votes = 1
	}
	return p
}

// Predict implements [Predictor]. A confident small-tier answer is returned
// as a single candidate; otherwise the large tier's candidate set is the
// result. When both tiers fail the last error is returned.
func (p *TieredPredictor) Predict(ctx context.Context, utterance string, commands []*workflow.CommandDescriptor) ([]Candidate, error) {
	small, smallErr := p.predictOnce(ctx, p.small, utterance, commands, 0)
	if smallErr != nil {
		slog.Warn("intent: small tier prediction failed", "error", smallErr)
	} else if len(small) > 0 && small[0].Score >= p.confidenceThreshold {
		return small[:1], nil
	}

	if p.large == nil {
		return small, smallErr
	}
	large, err := p.predictLarge(ctx, utterance, commands)
	if err != nil {
		// An unconfident small answer still beats nothing.
		if len(small) > 0 {
			slog.Warn("intent: large tier prediction failed, keeping small tier result", "error", err)
			return small, nil
		}
		return nil, err
	}
	return large, nil
}

// predictLarge runs the large tier, majority-voted when configured. Failed
// ensemble runs are skipped; when every run fails, one direct prediction is
// attempted before giving up.
func (p *TieredPredictor) predictLarge(ctx context.Context, utterance string, commands []*workflow.CommandDescriptor) ([]Candidate, error) {
	if p.votes < 2 {
		return p.predictOnce(ctx, p.large, utterance, commands, 0)
	}

	results := make([][]Candidate, p.votes)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(min(p.votes, maxVoteWorkers))
	for i := range p.votes {
		eg.Go(func() error {
			cands, err := p.predictOnce(egCtx, p.large, utterance, commands, voteTemperature)
			if err != nil {
				slog.Warn("intent: vote run failed, skipping", "run", i, "error", err)
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	// Run errors are swallowed above; Wait only reports context trouble.
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("intent: vote ensemble: %w", err)
	}

	counts := make(map[string]int)
	for _, cands := range results {
		if len(cands) > 0 {
			counts[voteKey(cands)]++
		}
	}
	if len(counts) == 0 {
		return p.predictOnce(ctx, p.large, utterance, commands, 0)
	}

	bestCount := 0
	for _, n := range counts {
		if n > bestCount {
			bestCount = n
		}
	}
	// The earliest run holding the modal set keeps the pick deterministic.
	for _, cands := range results {
		if len(cands) > 0 && counts[voteKey(cands)] == bestCount {
			return cands, nil
		}
	}
	return nil, fmt.Errorf("intent: vote ensemble produced no candidates")
}

// predictOnce performs one completion round-trip and parses the candidates.
func (p *TieredPredictor) predictOnce(ctx context.Context, provider llm.Provider, utterance string, commands []*workflow.CommandDescriptor, temperature float64) ([]Candidate, error) {
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifierSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildClassifierPrompt(utterance, commands)},
		},
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("intent: completion: %w", err)
	}
	if resp == nil {
		return nil, nil
	}
	cands := parseCandidates(resp.Content, commands)
	if len(cands) == 0 {
		return nil, nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Command < cands[j].Command
	})
	return cands, nil
}

// buildClassifierPrompt renders the candidate universe and the utterance.
// Each command contributes its description and a few sample phrasings so the
// model can separate near-identical names.
func buildClassifierPrompt(utterance string, commands []*workflow.CommandDescriptor) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range commands {
		b.WriteString("- ")
		b.WriteString(c.QualifiedName)
		if c.Description != "" {
			b.WriteString(": ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
		for i, u := range c.AllUtterances() {
			if i >= maxSampleUtterances {
				break
			}
			fmt.Fprintf(&b, "  e.g. %q\n", u)
		}
	}
	b.WriteString("\nUtterance: ")
	b.WriteString(utterance)
	return b.String()
}

// predictionPayload mirrors the JSON contract in classifierSystemPrompt.
type predictionPayload struct {
	Candidates []struct {
		Command    string  `json:"command"`
		Confidence float64 `json:"confidence"`
	} `json:"candidates"`
}

// parseCandidates extracts candidates from a model reply. The primary path is
// the JSON contract; a reply that is nothing but a known command name is
// accepted as a single full-confidence candidate so lightly misbehaving
// models still resolve.
func parseCandidates(raw string, commands []*workflow.CommandDescriptor) []Candidate {
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		var payload predictionPayload
		if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err == nil {
			out := make([]Candidate, 0, len(payload.Candidates))
			for _, c := range payload.Candidates {
				if name, ok := matchCommandName(c.Command, commands); ok {
					out = append(out, Candidate{Command: name, Score: clampScore(c.Confidence)})
				}
			}
			return out
		}
	}

	cleaned := strings.Trim(strings.TrimSpace(raw), "`\"' \n")
	if name, ok := matchCommandName(cleaned, commands); ok {
		return []Candidate{{Command: name, Score: 1}}
	}
	return nil
}

// matchCommandName resolves a model-reported name against the universe,
// tolerating bare names and case differences.
func matchCommandName(name string, commands []*workflow.CommandDescriptor) (string, bool) {
	normalized := fuzzy.Normalize(name)
	for _, c := range commands {
		if normalized == fuzzy.Normalize(c.QualifiedName) || normalized == fuzzy.Normalize(c.Name) {
			return c.QualifiedName, true
		}
	}
	return "", false
}

// voteKey canonicalizes a candidate set so identical sets from separate runs
// count as one vote option.
func voteKey(cands []Candidate) string {
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Command
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// clampScore bounds a model-reported confidence to [0, 1].
func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
