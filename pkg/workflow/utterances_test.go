package workflow

import (
	"fmt"
	"slices"
	"testing"
)

func TestExpandTemplates(t *testing.T) {
	t.Parallel()

	desc := &CommandDescriptor{
		Parameters: []ParameterField{
			{Name: "item", Kind: KindString, Examples: []string{"mug", "shirt"}},
			{Name: "size", Kind: KindEnum, Enum: []string{"small", "large"}},
		},
		TemplateUtterances: []string{
			"order a {size} {item}",
			"order a {item}",
		},
	}

	got := expandTemplates(desc)
	want := []string{
		"order a small mug",
		"order a small shirt",
		"order a large mug",
		"order a large shirt",
		"order a mug",
		"order a shirt",
	}
	if !slices.Equal(got, want) {
		t.Errorf("expandTemplates: expected %v, got %v", want, got)
	}
}

func TestExpandTemplates_NoPlaceholders(t *testing.T) {
	t.Parallel()

	desc := &CommandDescriptor{
		TemplateUtterances: []string{"just a phrase"},
	}
	got := expandTemplates(desc)
	if !slices.Equal(got, []string{"just a phrase"}) {
		t.Errorf("expandTemplates: expected passthrough, got %v", got)
	}
}

func TestExpandTemplates_UnresolvablePlaceholderSkipsTemplate(t *testing.T) {
	t.Parallel()

	desc := &CommandDescriptor{
		Parameters: []ParameterField{
			{Name: "item", Kind: KindString}, // no examples, no enum
		},
		TemplateUtterances: []string{
			"order a {item}",
			"list my orders",
		},
	}
	got := expandTemplates(desc)
	if !slices.Equal(got, []string{"list my orders"}) {
		t.Errorf("expandTemplates: expected only the resolvable template, got %v", got)
	}
}

func TestExpandTemplates_Deduplicates(t *testing.T) {
	t.Parallel()

	desc := &CommandDescriptor{
		Parameters: []ParameterField{
			{Name: "x", Kind: KindString, Examples: []string{"a"}},
		},
		TemplateUtterances: []string{"say {x}", "say a"},
	}
	got := expandTemplates(desc)
	if !slices.Equal(got, []string{"say a"}) {
		t.Errorf("expandTemplates: expected deduplicated [say a], got %v", got)
	}
}

func TestExpandTemplates_CapsCrossProduct(t *testing.T) {
	t.Parallel()

	wide := make([]string, 20)
	for i := range wide {
		wide[i] = fmt.Sprintf("v%d", i)
	}
	desc := &CommandDescriptor{
		Parameters: []ParameterField{
			{Name: "a", Kind: KindString, Examples: wide},
			{Name: "b", Kind: KindString, Examples: wide},
		},
		TemplateUtterances: []string{"{a} and {b}"},
	}
	got := expandTemplates(desc)
	if len(got) > maxExpansions {
		t.Errorf("expandTemplates: expected at most %d expansions, got %d", maxExpansions, len(got))
	}
}

func TestExpandTemplates_RepeatedPlaceholder(t *testing.T) {
	t.Parallel()

	desc := &CommandDescriptor{
		Parameters: []ParameterField{
			{Name: "x", Kind: KindString, Examples: []string{"a", "b"}},
		},
		TemplateUtterances: []string{"{x} or {x}"},
	}
	got := expandTemplates(desc)
	want := []string{"a or a", "b or b"}
	if !slices.Equal(got, want) {
		t.Errorf("expandTemplates: expected %v, got %v", want, got)
	}
}
