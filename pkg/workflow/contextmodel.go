package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// RootContext is the sentinel name of the implicit global context. Every
// other context inherits from it, directly or transitively.
const RootContext = "*"

// ContextModel is the context inheritance DAG. Immutable after construction
// and safe for concurrent readers.
type ContextModel struct {
	parents   map[string][]string
	ancestors map[string][]string // memoized BFS order, nearest first
}

// newContextModel builds the DAG from declared inheritance plus contexts
// discovered under _commands/. Contexts without a declaration hang directly
// off the root. Returns an error on any inheritance cycle.
func newContextModel(declared map[string][]string, discovered []string) (*ContextModel, error) {
	parents := make(map[string][]string)

	for name, bases := range declared {
		if name == RootContext {
			return nil, fmt.Errorf("context model: %q cannot declare bases", RootContext)
		}
		cleaned := make([]string, 0, len(bases))
		for _, b := range bases {
			if b == name {
				return nil, fmt.Errorf("context model: %q inherits from itself", name)
			}
			cleaned = append(cleaned, b)
		}
		if len(cleaned) == 0 {
			cleaned = []string{RootContext}
		}
		parents[name] = cleaned
	}

	for _, name := range discovered {
		if _, ok := parents[name]; !ok {
			parents[name] = []string{RootContext}
		}
	}

	// Referenced base contexts without their own declaration default to the
	// root as well.
	for _, bases := range parents {
		for _, b := range bases {
			if b == RootContext {
				continue
			}
			if _, ok := parents[b]; !ok {
				parents[b] = []string{RootContext}
			}
		}
	}

	m := &ContextModel{
		parents:   parents,
		ancestors: make(map[string][]string, len(parents)),
	}
	if cycle := m.findCycle(); cycle != nil {
		return nil, fmt.Errorf("context model: inheritance cycle: %s", strings.Join(cycle, " -> "))
	}
	for name := range parents {
		m.ancestors[name] = m.walkAncestors(name)
	}
	return m, nil
}

// Contains reports whether name is a known context.
func (m *ContextModel) Contains(name string) bool {
	if name == RootContext {
		return true
	}
	_, ok := m.parents[name]
	return ok
}

// Parents returns the directly declared base contexts of name. The root has
// none.
func (m *ContextModel) Parents(name string) []string {
	if name == RootContext {
		return nil
	}
	bases := m.parents[name]
	out := make([]string, len(bases))
	copy(out, bases)
	return out
}

// Ancestors returns every context name inherits from, nearest first, ending
// with the root. Unknown contexts still report the root so global commands
// remain reachable.
func (m *ContextModel) Ancestors(name string) []string {
	if name == RootContext {
		return nil
	}
	if anc, ok := m.ancestors[name]; ok {
		out := make([]string, len(anc))
		copy(out, anc)
		return out
	}
	return []string{RootContext}
}

// Names returns all known context names including the root, sorted.
func (m *ContextModel) Names() []string {
	names := make([]string, 0, len(m.parents)+1)
	names = append(names, RootContext)
	for name := range m.parents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// walkAncestors computes the BFS ancestor order for name, deduplicated, with
// the root forced last.
func (m *ContextModel) walkAncestors(name string) []string {
	var order []string
	seen := map[string]struct{}{name: {}}
	queue := slices.Clone(m.parents[name])

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, dup := seen[cur]; dup {
			continue
		}
		seen[cur] = struct{}{}
		if cur == RootContext {
			continue
		}
		order = append(order, cur)
		queue = append(queue, m.parents[cur]...)
	}

	// Every chain terminates at the root.
	return append(order, RootContext)
}

// findCycle runs a three-color DFS over the inheritance edges and returns a
// witness path when a cycle exists.
func (m *ContextModel) findCycle() []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(m.parents))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		if name == RootContext {
			return nil
		}
		switch color[name] {
		case grey:
			// Found a back edge; cut the stack at the repeated name.
			for i, s := range stack {
				if s == name {
					return append(slices.Clone(stack[i:]), name)
				}
			}
			return []string{name, name}
		case black:
			return nil
		}
		color[name] = grey
		stack = append(stack, name)
		for _, p := range m.parents[name] {
			if cycle := visit(p); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(m.parents))
	for name := range m.parents {
		names = append(names, name)
	}
	slices.Sort(names) // deterministic witness
	for _, name := range names {
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}
