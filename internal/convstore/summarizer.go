package convstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

// topicPrompt is the system prompt sent to the LLM when generating the topic
// and summary of a rotated conversation. It is fed the per-turn summaries
// only; verbose trace payloads never reach the model.
const topicPrompt = `You label completed assistant conversations for a conversation list.
Given the numbered turn summaries of one conversation, respond with a single JSON object:
{"topic": "<at most eight words naming what the conversation was about>", "summary": "<two or three sentences covering what the user wanted and what happened>"}
Respond with the JSON object only, no prose around it.`

// TopicSummary is the generated label of a rotated conversation.
type TopicSummary struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
}

// TopicSummarizer produces a topic and summary for a finished conversation
// from its per-turn summaries.
type TopicSummarizer interface {
	// Summarize takes the turn summaries in order and returns the generated
	// label. An empty input yields a zero TopicSummary and no error.
	Summarize(ctx context.Context, turnSummaries []string) (TopicSummary, error)
}

// LLMTopicSummarizer uses an LLM provider to generate conversation labels.
type LLMTopicSummarizer struct {
	llm llm.Provider
}

// NewLLMTopicSummarizer creates a new [LLMTopicSummarizer] backed by the
// given provider.
func NewLLMTopicSummarizer(provider llm.Provider) *LLMTopicSummarizer {
	return &LLMTopicSummarizer{llm: provider}
}

// Summarize formats the turn summaries into a numbered list, asks the model
// for a JSON label, and parses it.
func (s *LLMTopicSummarizer) Summarize(ctx context.Context, turnSummaries []string) (TopicSummary, error) {
	if len(turnSummaries) == 0 {
		return TopicSummary{}, nil
	}

	var sb strings.Builder
	for i, summary := range turnSummaries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, summary)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: topicPrompt,
		Messages: []llm.Message{
			{
				Role:    "user",
				Content: sb.String(),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return TopicSummary{}, fmt.Errorf("convstore: summarize conversation: %w", err)
	}

	ts, err := parseTopicSummary(resp.Content)
	if err != nil {
		return TopicSummary{}, fmt.Errorf("convstore: summarize conversation: %w", err)
	}
	return ts, nil
}

// parseTopicSummary extracts the JSON object from a model response. Models
// occasionally wrap the object in code fences or lead-in text, so parsing
// starts at the first brace and ends at the last.
func parseTopicSummary(content string) (TopicSummary, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return TopicSummary{}, fmt.Errorf("no JSON object in response %q", content)
	}

	var ts TopicSummary
	if err := json.Unmarshal([]byte(content[start:end+1]), &ts); err != nil {
		return TopicSummary{}, fmt.Errorf("parse response: %w", err)
	}
	ts.Topic = strings.TrimSpace(ts.Topic)
	ts.Summary = strings.TrimSpace(ts.Summary)
	if ts.Topic == "" {
		return TopicSummary{}, fmt.Errorf("response carries no topic: %q", content)
	}
	return ts, nil
}
