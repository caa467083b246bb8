// Package extract fills a command's typed parameter record from user text.
//
// Three extractors implement the same narrow interface: [TaggedExtractor]
// parses structured notation (<field>value</field> tags and field=value
// pairs), [LLMExtractor] prompts a model with the field schema and few-shot
// examples, and [DeterministicExtractor] returns the declared defaults. The
// pipeline composes them and never knows which one produced a record.
//
// On repair turns the previous turn's partial record is continued: the new
// utterance is treated as bare field values and zipped onto the fields still
// holding their sentinel, in declared order. All extraction results pass
// through [Merge], which lets new concrete values win over sentinels but
// never lets a sentinel erase a stored value, and then [Validator.Validate],
// which canonicalizes, checks, and renders the user-facing error message.
package extract

import (
	"context"
	"strings"

	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// Extractor derives parameter values for one command from user text. The
// returned record holds a value for every declared field, with sentinels
// where the text yielded nothing. Implementations must be safe for
// concurrent use.
type Extractor interface {
	Extract(ctx context.Context, desc *workflow.CommandDescriptor, text string) (workflow.ParameterRecord, error)
}

// blankRecord returns a record with every declared field at its sentinel.
// Unlike [workflow.NewRecord] it does not apply defaults; extractors report
// only what the text itself provided.
func blankRecord(desc *workflow.CommandDescriptor) workflow.ParameterRecord {
	rec := make(workflow.ParameterRecord, len(desc.Parameters))
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		rec[f.Name] = workflow.SentinelFor(f.Kind)
	}
	return rec
}

// CarryOver continues a partially-filled record with a repair utterance.
// With several fields still at their sentinel, the utterance is split on
// commas and the parts are assigned to them in declared order. With exactly
// one field missing the utterance is taken whole, so a value that itself
// contains a comma can be supplied alone on its own turn (list fields still
// split, their values arrive comma-separated). Values that fail type
// coercion leave their field at the sentinel for validation to report.
func CarryOver(desc *workflow.CommandDescriptor, prior workflow.ParameterRecord, utterance string) workflow.ParameterRecord {
	out := prior.Clone()
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return out
	}

	missing := workflow.SentinelFields(desc.Parameters, prior)
	if len(missing) == 0 {
		return out
	}

	if len(missing) == 1 {
		if f, ok := desc.Field(missing[0]); ok {
			if v, err := workflow.Coerce(f, utterance); err == nil {
				out[missing[0]] = v
			}
		}
		return out
	}

	var parts []string
	for _, p := range strings.Split(utterance, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	for i, name := range missing {
		if i >= len(parts) {
			break
		}
		f, ok := desc.Field(name)
		if !ok {
			continue
		}
		if v, err := workflow.Coerce(f, parts[i]); err == nil {
			out[name] = v
		}
	}
	return out
}

// Merge folds an extraction result into the prior record. A concrete new
// value replaces whatever was stored; sentinels never overwrite. A nil prior
// starts from the declared defaults.
func Merge(desc *workflow.CommandDescriptor, prior, extracted workflow.ParameterRecord) workflow.ParameterRecord {
	if prior == nil {
		prior = workflow.NewRecord(desc.Parameters)
	}
	out := prior.Clone()
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		if v, ok := extracted[f.Name]; ok && !workflow.IsSentinel(f.Kind, v) {
			out[f.Name] = v
		}
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = workflow.SentinelFor(f.Kind)
		}
	}
	return out
}

// Found reports whether rec carries at least one non-sentinel value for the
// declared fields. The pipeline uses it to decide whether structured
// extraction succeeded or the model extractor should run.
func Found(desc *workflow.CommandDescriptor, rec workflow.ParameterRecord) bool {
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		if v, ok := rec[f.Name]; ok && !workflow.IsSentinel(f.Kind, v) {
			return true
		}
	}
	return false
}
