// Package navigator tracks which command context a session is currently
// operating in.
//
// A session starts at its root command context (the application object handed
// to the engine at session start) and moves around the object graph as
// commands execute: drilling into a child object, going up to a parent, or
// resetting back to the root. Movement between objects is delegated to the
// [workflow.ContextHooks] registered for each context name, so the engine
// never needs to know the application's types.
package navigator

import (
	"errors"
	"sync"

	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// ErrRootAlreadySet is returned by [Navigator.SetRoot] when a root command
// context was already established for the session.
var ErrRootAlreadySet = errors.New("navigator: root command context already set")

// maxChainDepth caps parent-chain walks so a buggy Parent hook cannot loop
// forever.
const maxChainDepth = 32

// Frame is one (context name, application object) pair on the navigation
// chain.
type Frame struct {
	// Name is the context name, used to look up commands and hooks.
	Name string

	// Obj is the application object, nil for the global context.
	Obj any
}

// Navigator is the per-session cursor over the application's context objects.
// Safe for concurrent use, though a session runs one command at a time.
type Navigator struct {
	reg *workflow.HandlerRegistry

	mu      sync.RWMutex
	rootSet bool
	root    Frame
	cur     Frame
	atRoot  bool
}

var _ workflow.AppContext = (*Navigator)(nil)

// New returns a navigator positioned at the global context. Sessions that
// operate on an application object call [Navigator.SetRoot] before the first
// command.
func New(reg *workflow.HandlerRegistry) *Navigator {
	return &Navigator{
		reg:    reg,
		cur:    Frame{Name: workflow.RootContext},
		atRoot: true,
	}
}

// SetRoot establishes the session's root command context. It can only be
// called once per session; later calls return [ErrRootAlreadySet] without
// changing anything. The cursor moves to the root.
func (n *Navigator) SetRoot(name string, obj any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rootSet {
		return ErrRootAlreadySet
	}
	n.rootSet = true
	n.root = Frame{Name: name, Obj: obj}
	n.cur = n.root
	n.atRoot = true
	return nil
}

// Root returns the root application object, nil when no root was set.
func (n *Navigator) Root() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.root.Obj
}

// RootName returns the root context name, the global context when no root was
// set.
func (n *Navigator) RootName() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.rootSet {
		return workflow.RootContext
	}
	return n.root.Name
}

// CurrentName returns the name of the active command context.
func (n *Navigator) CurrentName() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cur.Name
}

// Current returns the active command context object, nil at the global
// context.
func (n *Navigator) Current() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cur.Obj
}

// SetCurrent moves the cursor to the given context. Passing the global
// context name with a nil object resets to the root.
func (n *Navigator) SetCurrent(name string, obj any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name == workflow.RootContext && obj == nil {
		n.resetLocked()
		return
	}
	n.cur = Frame{Name: name, Obj: obj}
	n.atRoot = false
}

// Reset moves the cursor back to the root command context.
func (n *Navigator) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetLocked()
}

func (n *Navigator) resetLocked() {
	if n.rootSet {
		n.cur = n.root
	} else {
		n.cur = Frame{Name: workflow.RootContext}
	}
	n.atRoot = true
}

// DisplayName renders the active context for prompts and logs. The registered
// DisplayName hook wins; without one the context name is used, and the global
// context renders as "global".
func (n *Navigator) DisplayName() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.displayLocked(n.cur)
}

func (n *Navigator) displayLocked(f Frame) string {
	if h, ok := n.reg.ContextFor(f.Name); ok && h.DisplayName != nil {
		if name := h.DisplayName(f.Obj); name != "" {
			return name
		}
	}
	if f.Name == workflow.RootContext {
		return "global"
	}
	return f.Name
}

// Ascend moves the cursor to the parent of the active context and reports
// whether it moved. The Parent hook of the active context decides the parent;
// without one the parent is the session root. At the root there is nowhere to
// go and Ascend reports false.
func (n *Navigator) Ascend() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.atRoot {
		return false
	}
	if p, ok := n.parentLocked(n.cur); ok {
		n.cur = p
		// Hook chains that climb back to the root's context stop there.
		n.atRoot = n.rootSet && p.Name == n.root.Name
		return true
	}
	n.resetLocked()
	return true
}

// Chain returns the navigation frames from the active context up to the root,
// nearest first. The walk follows Parent hooks and is capped at maxChainDepth
// frames. The final frame is always the session root, or the global context
// when no root was set, mirroring where [Navigator.Ascend] bottoms out.
func (n *Navigator) Chain() []Frame {
	n.mu.RLock()
	defer n.mu.RUnlock()

	frames := []Frame{n.cur}
	f := n.cur
	atRoot := n.atRoot
	for len(frames) < maxChainDepth && !atRoot {
		p, ok := n.parentLocked(f)
		if !ok {
			if n.rootSet && f.Name != n.root.Name {
				frames = append(frames, n.root)
			} else if !n.rootSet && f.Name != workflow.RootContext {
				frames = append(frames, Frame{Name: workflow.RootContext})
			}
			break
		}
		frames = append(frames, p)
		atRoot = n.rootSet && p.Name == n.root.Name
		f = p
	}
	return frames
}

// parentLocked resolves the parent frame of f through the registered hooks.
func (n *Navigator) parentLocked(f Frame) (Frame, bool) {
	h, ok := n.reg.ContextFor(f.Name)
	if !ok || h.Parent == nil {
		return Frame{}, false
	}
	name, obj := h.Parent(f.Obj)
	if obj == nil && name == "" {
		return Frame{}, false
	}
	return Frame{Name: name, Obj: obj}, true
}
