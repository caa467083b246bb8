package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// defaultMaxSuggestions caps the "did you mean" alternatives per field.
const defaultMaxSuggestions = 3

// FieldIssue is one field that failed validation.
type FieldIssue struct {
	// Field is the declared field name.
	Field string

	// Reason is a short human fragment such as `"ORD-1x" does not match the
	// expected format`.
	Reason string

	// Suggestions are close alternatives from enum values or a lookup
	// source, best first.
	Suggestions []string
}

// ValidationResult is the outcome of validating a merged record.
type ValidationResult struct {
	// Valid reports whether every field passed. Dispatch requires it.
	Valid bool

	// Record is the validated record: canonical spellings applied and every
	// failed field reset to its sentinel. This is what gets stored for the
	// next repair turn.
	Record workflow.ParameterRecord

	// Issues lists the failed fields in declared order.
	Issues []FieldIssue

	// Message is the user-facing error text. Empty when Valid.
	Message string
}

// MissingFields returns the names of the failed fields in declared order.
func (r ValidationResult) MissingFields() []string {
	out := make([]string, len(r.Issues))
	for i, is := range r.Issues {
		out[i] = is.Field
	}
	return out
}

// Validator checks a merged record against the command's schema and its
// registered extraction hooks. Safe for concurrent use.
type Validator struct {
	registry       *workflow.HandlerRegistry
	maxSuggestions int
}

// ValidatorOption configures a [Validator].
type ValidatorOption func(*Validator)

// WithSuggestionLimit caps per-field suggestions. Defaults to 3.
func WithSuggestionLimit(n int) ValidatorOption {
	return func(v *Validator) { v.maxSuggestions = n }
}

// NewValidator creates a validator resolving hooks from registry. A nil
// registry disables lookup and domain validation.
func NewValidator(registry *workflow.HandlerRegistry, opts ...ValidatorOption) *Validator {
	v := &Validator{
		registry:       registry,
		maxSuggestions: defaultMaxSuggestions,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate checks rec field by field in declared order: required presence,
// full-string pattern match, enum membership, lookup canonicalization, then
// the command's domain validator once everything else passed. Failed fields
// are reset to their sentinel in the returned record so a later revalidation
// of a passing record stays passing.
func (v *Validator) Validate(ctx context.Context, app workflow.AppContext, desc *workflow.CommandDescriptor, rec workflow.ParameterRecord) ValidationResult {
	out := rec.Clone()
	var issues []FieldIssue

	var hooks workflow.ExtractionHooks
	if v.registry != nil {
		hooks, _ = v.registry.Extraction(desc.QualifiedName)
	}

	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		val, ok := out[f.Name]
		if !ok {
			val = workflow.SentinelFor(f.Kind)
			out[f.Name] = val
		}

		if workflow.IsSentinel(f.Kind, val) {
			if f.Required {
				issues = append(issues, FieldIssue{Field: f.Name, Reason: "is required"})
			}
			continue
		}

		s := workflow.StringForm(f.Kind, val)
		if !f.MatchesPattern(s) {
			reason := fmt.Sprintf("%q does not match the expected format", s)
			if len(f.Examples) > 0 {
				reason += fmt.Sprintf(" (e.g. %s)", strings.Join(f.Examples, ", "))
			}
			issues = append(issues, FieldIssue{Field: f.Name, Reason: reason})
			continue
		}

		if f.Kind == workflow.KindEnum {
			canon, ok := f.CanonEnum(s)
			if !ok {
				issues = append(issues, FieldIssue{
					Field:       f.Name,
					Reason:      fmt.Sprintf("%q is not an accepted value", s),
					Suggestions: capSuggestions(f.Enum, v.maxSuggestions),
				})
				continue
			}
			out[f.Name] = canon
			s = canon
		}

		if f.DBLookup && hooks.DBLookup != nil {
			found, canonical, suggestions, err := hooks.DBLookup(ctx, f.Name, s)
			switch {
			case err != nil:
				// The lookup source being down must not block the command;
				// the value passes through unverified.
				slog.Warn("extract: db lookup failed, accepting value unverified",
					"command", desc.QualifiedName,
					"field", f.Name,
					"error", err,
				)
			case found:
				out[f.Name] = canonical
			default:
				issues = append(issues, FieldIssue{
					Field:       f.Name,
					Reason:      fmt.Sprintf("%q was not found", s),
					Suggestions: capSuggestions(suggestions, v.maxSuggestions),
				})
			}
		}
	}

	if len(issues) == 0 && hooks.Validate != nil {
		if ok, msg := hooks.Validate(ctx, app, out); !ok {
			return ValidationResult{
				Valid:   false,
				Record:  out,
				Message: msg + "\n" + correctionHints(),
			}
		}
	}

	for _, is := range issues {
		if f, ok := desc.Field(is.Field); ok {
			out[is.Field] = workflow.SentinelFor(f.Kind)
		}
	}

	if len(issues) == 0 {
		return ValidationResult{Valid: true, Record: out}
	}
	return ValidationResult{
		Valid:   false,
		Record:  out,
		Issues:  issues,
		Message: buildErrorMessage(desc, out, issues),
	}
}

// buildErrorMessage renders the repair prompt: the values extracted so far,
// the fields still needed in declared order, the comma rule, and the
// correction verbs.
func buildErrorMessage(desc *workflow.CommandDescriptor, rec workflow.ParameterRecord, issues []FieldIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cannot run %q yet.\n", desc.DisplayName)

	var have []string
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		if v, ok := rec[f.Name]; ok && !workflow.IsSentinel(f.Kind, v) {
			have = append(have, fmt.Sprintf("%s=%s", f.Name, workflow.StringForm(f.Kind, v)))
		}
	}
	if len(have) > 0 {
		fmt.Fprintf(&b, "Extracted so far: %s.\n", strings.Join(have, ", "))
	}

	b.WriteString("Still needed, in order:\n")
	for _, is := range issues {
		f, ok := desc.Field(is.Field)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  - %s %s: %s", f.Name, describeKind(f), is.Reason)
		if len(is.Suggestions) > 0 {
			fmt.Fprintf(&b, "; did you mean %s?", quoteJoin(is.Suggestions))
		}
		b.WriteByte('\n')
	}

	b.WriteString("Provide the values in that order, separated by commas when giving more than one.\n")
	b.WriteString(correctionHints())
	return b.String()
}

// describeKind renders a field's type hint for error messages.
func describeKind(f *workflow.ParameterField) string {
	if f.Kind == workflow.KindEnum && len(f.Enum) > 0 {
		return fmt.Sprintf("(one of: %s)", strings.Join(f.Enum, ", "))
	}
	return fmt.Sprintf("(%s)", f.Kind)
}

// correctionHints names the two correction verbs every repair prompt offers.
func correctionHints() string {
	return `Say "abort" to cancel, or "you misunderstood" if this is not the right command.`
}

// quoteJoin renders suggestions as a quoted, comma-separated list.
func quoteJoin(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}

// capSuggestions bounds a suggestion list.
func capSuggestions(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}
