// Package intent resolves a free-form utterance to a qualified command name.
//
// Resolution walks a fixed ladder and stops at the first hit:
//
//  1. Command-prefix parse: the utterance starts with a command name.
//  2. Exact match against the correction built-ins (abort, what_can_i_do,
//     you_misunderstood), checked before any model call.
//  3. Utterance-cache lookup by embedding cosine similarity.
//  4. Fuzzy match against command names by normalized Levenshtein distance.
//  5. Tiered model prediction: a small model first, a larger one when the
//     small model is not confident, optionally majority-voted.
//
// Infrastructure failures on any rung (embedding transport, cache backend,
// model call) are logged and treated as "no match on this rung"; the ladder
// continues downward. Only the model rung can return an ambiguous candidate
// set.
package intent

import (
	"github.com/fastworkflow/fastworkflow/internal/session"
)

// Method names the ladder rung that produced a resolution. It is recorded in
// trace events and metrics so operators can see how utterances resolve.
type Method string

const (
	// MethodPrefix means the utterance began with a literal command name.
	MethodPrefix Method = "prefix"

	// MethodBuiltin means an exact match against a correction built-in.
	MethodBuiltin Method = "builtin"

	// MethodCache means a confirmed prior utterance was close enough.
	MethodCache Method = "cache"

	// MethodFuzzy means the utterance was within edit distance of a name.
	MethodFuzzy Method = "fuzzy"

	// MethodModel means a tiered model prediction produced the result.
	MethodModel Method = "model"

	// MethodNone means every rung came up empty.
	MethodNone Method = "none"
)

// Input is one classification request.
type Input struct {
	// Utterance is the raw user text.
	Utterance string

	// Context is the current command context name ("*" when global).
	Context string

	// Stage selects the candidate universe. In the ambiguity stage the
	// universe is Candidates plus abort and what_can_i_do; in the
	// misunderstanding stage it is the built-ins plus the current context's
	// own commands. Otherwise it is everything reachable from Context.
	Stage session.Stage

	// Candidates is the stored suggestion list from the previous turn.
	// Only consulted when Stage is the ambiguity clarification stage.
	Candidates []string
}

// Result is the outcome of one classification.
type Result struct {
	// Command is the resolved qualified name. Empty when no single command
	// was chosen (ambiguous or unmatched).
	Command string

	// CommandText is the parameter-bearing text to hand to extraction. For a
	// prefix parse this is the utterance with the command name stripped;
	// otherwise it is the full utterance.
	CommandText string

	// Candidates holds two or more names when the model rung could not
	// separate them by the ambiguity margin.
	Candidates []string

	// Method is the rung that produced this result.
	Method Method

	// Builtin reports whether Command is an engine built-in.
	Builtin bool
}

// Matched reports whether the ladder produced any usable outcome, either a
// single command or an ambiguous candidate set.
func (r Result) Matched() bool {
	return r.Command != "" || r.Ambiguous()
}

// Ambiguous reports whether the result is a candidate set needing
// clarification.
func (r Result) Ambiguous() bool {
	return len(r.Candidates) > 1
}

// Candidate is one scored command name from a model prediction.
type Candidate struct {
	// Command is the qualified command name.
	Command string

	// Score is the model's confidence in [0, 1].
	Score float64
}
