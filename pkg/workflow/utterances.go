package workflow

import (
	"regexp"
	"strings"
)

// maxExpansions bounds the cross product of one template's placeholder
// substitutions, so a template over two wide enums cannot blow up the
// utterance set fed to the classifier and the cache seeder.
const maxExpansions = 64

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandTemplates produces concrete utterances from the descriptor's template
// utterances. Each {field} placeholder is substituted with the field's example
// values, falling back to its enum values. Templates referencing a field with
// no substitutions are skipped. Output order is deterministic: templates in
// declared order, substitutions in declared value order.
func expandTemplates(desc *CommandDescriptor) []string {
	if len(desc.TemplateUtterances) == 0 {
		return nil
	}

	subs := make(map[string][]string, len(desc.Parameters))
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		vals := f.Examples
		if len(vals) == 0 {
			vals = f.Enum
		}
		if len(vals) > 0 {
			subs[f.Name] = vals
		}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, tmpl := range desc.TemplateUtterances {
		for _, u := range expandOne(tmpl, subs) {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

// expandOne substitutes every placeholder combination of one template. It
// returns nil when a referenced field has no example or enum values.
func expandOne(tmpl string, subs map[string][]string) []string {
	names := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	if len(names) == 0 {
		return []string{tmpl}
	}

	// Unique placeholder names in first-appearance order.
	var order []string
	seen := make(map[string]struct{})
	for _, m := range names {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if len(subs[name]) == 0 {
			return nil
		}
		order = append(order, name)
	}

	results := []string{tmpl}
	for _, name := range order {
		next := make([]string, 0, len(results)*len(subs[name]))
		for _, partial := range results {
			for _, val := range subs[name] {
				next = append(next, strings.ReplaceAll(partial, "{"+name+"}", val))
				if len(next) >= maxExpansions {
					return next
				}
			}
		}
		results = next
	}
	return results
}
