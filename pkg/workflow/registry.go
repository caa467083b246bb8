package workflow

import (
	"context"
	"sync"

	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// ModuleKind selects which module of a command a lookup targets. A command
// is data (its descriptor) plus up to three registered behaviors.
type ModuleKind string

const (
	// ModuleResponseGenerator is the function that executes the command.
	ModuleResponseGenerator ModuleKind = "response_generator"

	// ModuleInputForParamExtraction is the command's extraction hook set.
	ModuleInputForParamExtraction ModuleKind = "input_for_param_extraction"

	// ModuleParametersClass is the command's declared parameter schema.
	ModuleParametersClass ModuleKind = "parameters_class"

	// ModuleContextClass is the hook set of the command's declaring context.
	ModuleContextClass ModuleKind = "context_class"
)

// AppContext is the live application state a workflow operates on. The
// pipeline and response generators read and move the current command context
// through it.
type AppContext interface {
	// CurrentName returns the name of the active command context.
	// RootContext when no application object is active.
	CurrentName() string

	// Current returns the active command context object, nil at root.
	Current() any

	// SetCurrent makes obj the active command context object under the given
	// context name. A RootContext name with a nil obj returns to root.
	SetCurrent(name string, obj any)

	// Root returns the application object the session was started with.
	Root() any

	// DisplayName renders the active context for prompts and logs.
	DisplayName() string
}

// Request is one resolved command invocation handed to a response generator.
type Request struct {
	// Command is the qualified name of the resolved command.
	Command string

	// CommandText is the utterance the command was resolved from. Preserved
	// across clarification turns, so it reflects the original phrasing.
	CommandText string

	// Parameters is the validated parameter record. Every declared field is
	// present; unset optional fields hold their sentinel.
	Parameters ParameterRecord
}

// ResponseFunc executes a command and produces its output.
type ResponseFunc func(ctx context.Context, app AppContext, req Request) (*types.CommandOutput, error)

// ContextHooks customizes how a command context behaves during navigation.
// Zero-value hooks fall back to defaults (parent is root, display name is the
// context name).
type ContextHooks struct {
	// Parent resolves the parent of a context object, returning the parent's
	// context name and object. A nil func or a nil returned object means the
	// parent is the root.
	Parent func(obj any) (name string, parent any)

	// DisplayName renders a context object for prompts. Nil falls back to
	// the context name.
	DisplayName func(obj any) string
}

// ExtractionHooks customizes parameter extraction for one command.
type ExtractionHooks struct {
	// DBLookup resolves a raw value against the lookup source declared by
	// field. It reports whether an exact canonical match exists, the
	// canonical value when found, and close alternatives otherwise.
	DBLookup func(ctx context.Context, field, value string) (found bool, canonical string, suggestions []string, err error)

	// Validate runs after per-field checks pass and may normalize the record
	// in place. A false return fails the whole record with the message.
	Validate func(ctx context.Context, app AppContext, rec ParameterRecord) (ok bool, message string)
}

// HandlerRegistry binds registered behaviors to command and context names.
// Commands are keyed by qualified name; contexts by bare name. Safe for
// concurrent use.
type HandlerRegistry struct {
	mu         sync.RWMutex
	responses  map[string]ResponseFunc
	extraction map[string]ExtractionHooks
	contexts   map[string]ContextHooks
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		responses:  make(map[string]ResponseFunc),
		extraction: make(map[string]ExtractionHooks),
		contexts:   make(map[string]ContextHooks),
	}
}

// RegisterResponse registers the response generator for a qualified command
// name (for example "Order/cancel", or "*/abort" for a built-in override).
func (r *HandlerRegistry) RegisterResponse(command string, fn ResponseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[command] = fn
}

// RegisterExtraction registers extraction hooks for a qualified command name.
func (r *HandlerRegistry) RegisterExtraction(command string, h ExtractionHooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extraction[command] = h
}

// RegisterContext registers navigation hooks for a context name.
func (r *HandlerRegistry) RegisterContext(name string, h ContextHooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[name] = h
}

// Response returns the response generator registered for a qualified command
// name.
func (r *HandlerRegistry) Response(command string) (ResponseFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.responses[command]
	return fn, ok
}

// Extraction returns the extraction hooks registered for a qualified command
// name.
func (r *HandlerRegistry) Extraction(command string) (ExtractionHooks, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.extraction[command]
	return h, ok
}

// ContextFor returns the navigation hooks registered for a context name.
func (r *HandlerRegistry) ContextFor(name string) (ContextHooks, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.contexts[name]
	return h, ok
}

// Module resolves the requested module of a command against the definition
// and this registry. It returns false when the command is unknown or has no
// module of that kind. The concrete type depends on the kind:
//
//	ModuleResponseGenerator       ResponseFunc
//	ModuleInputForParamExtraction ExtractionHooks
//	ModuleParametersClass         []ParameterField
//	ModuleContextClass            ContextHooks
func (r *HandlerRegistry) Module(def *Definition, command string, kind ModuleKind) (any, bool) {
	if def == nil {
		return nil, false
	}
	desc, ok := def.Command(command)
	if !ok {
		return nil, false
	}

	switch kind {
	case ModuleResponseGenerator:
		if fn, ok := r.Response(desc.QualifiedName); ok {
			return fn, true
		}
		return nil, false
	case ModuleInputForParamExtraction:
		if h, ok := r.Extraction(desc.QualifiedName); ok {
			return h, true
		}
		return nil, false
	case ModuleParametersClass:
		if len(desc.Parameters) == 0 {
			return nil, false
		}
		return desc.Parameters, true
	case ModuleContextClass:
		if h, ok := r.ContextFor(desc.Context); ok {
			return h, true
		}
		return nil, false
	default:
		return nil, false
	}
}
