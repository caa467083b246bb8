package workflow

import (
	"fmt"
	"regexp"
)

// FieldKind is the declared type of a command parameter.
type FieldKind string

const (
	KindString     FieldKind = "string"
	KindInt        FieldKind = "integer"
	KindFloat      FieldKind = "float"
	KindBool       FieldKind = "boolean"
	KindStringList FieldKind = "string-list"
	KindEnum       FieldKind = "enum"
)

// IsValid reports whether k is a recognised field kind.
func (k FieldKind) IsValid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindStringList, KindEnum:
		return true
	}
	return false
}

// ParameterField declares one typed parameter of a command. Fields appear in
// the schema in declared order; that order drives comma-split carry-over and
// the wording of missing-field error messages.
type ParameterField struct {
	// Name is the field identifier used in extraction tags and records.
	Name string `json:"name"`

	// Kind is the declared type.
	Kind FieldKind `json:"type"`

	// Required marks the field as mandatory for dispatch.
	Required bool `json:"required"`

	// Default, when non-nil, is used in place of the sentinel when extraction
	// yields nothing for this field.
	Default any `json:"default,omitempty"`

	// Pattern is an optional regular expression the string form of the value
	// must match in full. Compile errors are fatal at workflow load.
	Pattern string `json:"pattern,omitempty"`

	// Enum lists the admissible values when Kind is enum.
	Enum []string `json:"enum,omitempty"`

	// Examples are sample values, used for template utterance expansion and
	// few-shot prompts.
	Examples []string `json:"examples,omitempty"`

	// Description is the human-readable field purpose, fed to the extraction
	// model.
	Description string `json:"description,omitempty"`

	// DBLookup marks the field for canonicalization against an application
	// lookup (exact match first, fuzzy suggestions otherwise).
	DBLookup bool `json:"db_lookup,omitempty"`

	// AvailableFrom optionally names a workflow-context key whose value
	// pre-fills this field when extraction leaves it unset.
	AvailableFrom string `json:"available_from,omitempty"`

	// UsedBy lists related commands that consume this field. Metadata only.
	UsedBy []string `json:"used_by,omitempty"`

	pattern *regexp.Regexp
}

// MatchesPattern reports whether s fully matches the declared pattern.
// Fields without a pattern match everything.
func (f *ParameterField) MatchesPattern(s string) bool {
	if f.pattern == nil {
		return true
	}
	return f.pattern.MatchString(s)
}

// CanonEnum resolves s against the declared enum values, tolerating case and
// space/underscore differences, and returns the canonical declared spelling.
func (f *ParameterField) CanonEnum(s string) (string, bool) {
	want := normalizeToken(s)
	for _, v := range f.Enum {
		if normalizeToken(v) == want {
			return v, true
		}
	}
	return "", false
}

// ExtractionExample is one labeled utterance used for few-shot extraction
// prompting.
type ExtractionExample struct {
	Utterance  string         `json:"utterance"`
	Parameters map[string]any `json:"parameters"`
}

// CommandDescriptor is the immutable registered shape of one command.
type CommandDescriptor struct {
	// QualifiedName is "Context/command", or the bare command name when global.
	QualifiedName string

	// Context is the owning context name; "*" for global commands.
	Context string

	// Name is the bare command name (the descriptor file's basename).
	Name string

	// DisplayName is the human-facing label; defaults to Name.
	DisplayName string

	// Description documents the command for models and what_can_i_do listings.
	Description string

	// Parameters is the ordered field schema.
	Parameters []ParameterField

	// Utterances are verbatim training phrases for this command.
	Utterances []string

	// TemplateUtterances contain {field} placeholders expanded against field
	// examples at load time.
	TemplateUtterances []string

	// GeneratedUtterances holds the expanded template utterances.
	GeneratedUtterances []string

	// ExtractionExamples are labeled utterances for few-shot extraction.
	ExtractionExamples []ExtractionExample

	// Builtin marks engine-injected commands (abort, what_can_i_do, ...).
	Builtin bool
}

// AllUtterances returns plain plus generated utterances, in that order.
func (c *CommandDescriptor) AllUtterances() []string {
	out := make([]string, 0, len(c.Utterances)+len(c.GeneratedUtterances))
	out = append(out, c.Utterances...)
	out = append(out, c.GeneratedUtterances...)
	return out
}

// Field returns the declared field with the given name.
func (c *CommandDescriptor) Field(name string) (*ParameterField, bool) {
	for i := range c.Parameters {
		if c.Parameters[i].Name == name {
			return &c.Parameters[i], true
		}
	}
	return nil, false
}

// compile validates the schema and compiles declared patterns. Patterns are
// anchored so validation is always a full-string match.
func (c *CommandDescriptor) compile() error {
	seen := make(map[string]struct{}, len(c.Parameters))
	for i := range c.Parameters {
		f := &c.Parameters[i]
		if f.Name == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate parameter %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		if !f.Kind.IsValid() {
			return fmt.Errorf("parameter %q: unknown type %q", f.Name, f.Kind)
		}
		if f.Kind == KindEnum && len(f.Enum) == 0 {
			return fmt.Errorf("parameter %q: enum type requires enum values", f.Name)
		}
		if f.Kind != KindEnum && len(f.Enum) > 0 {
			return fmt.Errorf("parameter %q: enum values declared for non-enum type %q", f.Name, f.Kind)
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(`\A(?:` + f.Pattern + `)\z`)
			if err != nil {
				return fmt.Errorf("parameter %q: pattern: %w", f.Name, err)
			}
			f.pattern = re
		}
	}
	return nil
}

// commandFile mirrors one descriptor document under _commands/.
type commandFile struct {
	DisplayName        string              `json:"display_name"`
	Description        string              `json:"description"`
	Parameters         []ParameterField    `json:"parameters"`
	PlainUtterances    []string            `json:"plain_utterances"`
	TemplateUtterances []string            `json:"template_utterances"`
	ExtractionExamples []ExtractionExample `json:"extraction_examples"`
}
