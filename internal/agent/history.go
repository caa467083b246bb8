package agent

import (
	"fmt"
	"strings"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

// foldRatio is the fraction of the context window at which the oldest half
// of the transcript is folded into a digest.
const foldRatio = 0.75

// defaultContextWindow is assumed when the provider reports no window size.
const defaultContextWindow = 32768

// digestLineRunes caps how much of a folded message survives in the digest.
const digestLineRunes = 160

// history is the planning transcript for a single run. When the estimated
// token count crosses foldRatio of the model's context window, the oldest
// half of the exchange is collapsed into a compact digest line so that the
// task statement and the recent tool results stay verbatim.
//
// A history belongs to one Run call and is not safe for concurrent use.
type history struct {
	budget  int
	tokens  int
	digests []string
	msgs    []llm.Message
}

func newHistory(contextWindow int) *history {
	if contextWindow <= 0 {
		contextWindow = defaultContextWindow
	}
	return &history{budget: int(float64(contextWindow) * foldRatio)}
}

// add appends one message and folds the transcript if it outgrew the budget.
func (h *history) add(m llm.Message) {
	h.msgs = append(h.msgs, m)
	h.tokens += estimateTokens(m)
	if h.tokens > h.budget && len(h.msgs) > 2 {
		h.fold()
	}
}

// messages returns the transcript ready for a completion request: the task
// statement first, then digest notes for folded rounds, then the live tail.
func (h *history) messages() []llm.Message {
	out := make([]llm.Message, 0, len(h.msgs)+len(h.digests))
	out = append(out, h.msgs[0])
	for _, d := range h.digests {
		out = append(out, llm.Message{
			Role:    "system",
			Content: "[Earlier steps]\n" + d,
		})
	}
	out = append(out, h.msgs[1:]...)
	return out
}

// fold collapses the oldest half of the transcript after the task statement
// into one digest entry. The boundary is pushed past tool-result messages so
// the kept tail never starts with a result whose call was folded away.
func (h *history) fold() {
	half := (len(h.msgs) - 1) / 2
	if half == 0 {
		half = 1
	}
	for 1+half < len(h.msgs) && h.msgs[1+half].Role == "tool" {
		half++
	}

	var b strings.Builder
	for _, m := range h.msgs[1 : 1+half] {
		line := m.Content
		if line == "" && len(m.ToolCalls) > 0 {
			line = "requested " + m.ToolCalls[0].Name
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, truncateLine(line, digestLineRunes))
		h.tokens -= estimateTokens(m)
	}
	digest := strings.TrimRight(b.String(), "\n")

	h.digests = append(h.digests, digest)
	h.tokens += len(digest) / charsPerToken
	h.msgs = append(h.msgs[:1], h.msgs[1+half:]...)
}

// estimateTokens returns a rough token count for a single message using
// the 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name) + len(m.ToolCallID)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

func truncateLine(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
