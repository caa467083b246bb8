// Package session holds the per-session state of the command resolution
// state machine: the current stage, the command being resolved, the utterance
// that started the cycle, and partially extracted parameters carried across
// clarification turns.
//
// A Session is pure state. The pipeline decides transitions; the session only
// records them. All methods are safe for concurrent use, though the runtime
// processes one utterance per session at a time.
package session

import (
	"maps"
	"sync"

	"github.com/fastworkflow/fastworkflow/internal/navigator"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// Session is the engine-side state of one conversation partner.
type Session struct {
	id       string
	parentID string
	userID   string
	def      *workflow.Definition
	nav      *navigator.Navigator

	mu           sync.Mutex
	stage        Stage
	command      string
	commandText  string
	storedParams workflow.ParameterRecord
	candidates   []string
	wfContext    map[string]any
	complete     bool
}

// Option configures a Session at construction.
type Option func(*Session)

// WithParent marks the session as a child of another session. Child sessions
// run nested workflows and report completion back to their parent.
func WithParent(parentID string) Option {
	return func(s *Session) { s.parentID = parentID }
}

// WithContext seeds the session's workflow context with the given key-value
// pairs.
func WithContext(kv map[string]any) Option {
	return func(s *Session) {
		for k, v := range kv {
			s.wfContext[k] = v
		}
	}
}

// New creates a session bound to a loaded workflow definition. The session
// starts in intent detection with the navigator positioned wherever the
// caller left it.
func New(id, userID string, def *workflow.Definition, nav *navigator.Navigator, opts ...Option) *Session {
	s := &Session{
		id:        id,
		userID:    userID,
		def:       def,
		nav:       nav,
		stage:     StageIntentDetection,
		wfContext: make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ParentID returns the parent session identifier, empty for top-level
// sessions.
func (s *Session) ParentID() string { return s.parentID }

// UserID returns the user the session belongs to.
func (s *Session) UserID() string { return s.userID }

// Definition returns the workflow definition the session runs.
func (s *Session) Definition() *workflow.Definition { return s.def }

// Folder returns the resolved workflow folder path.
func (s *Session) Folder() string { return s.def.Root }

// Navigator returns the session's context cursor.
func (s *Session) Navigator() *navigator.Navigator { return s.nav }

// Stage returns the current state machine stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// SetStage records a stage transition.
func (s *Session) SetStage(st Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = st
}

// Command returns the qualified name of the command being resolved, empty
// when no command is active.
func (s *Session) Command() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command
}

// SetCommand records the resolved command for the active cycle.
func (s *Session) SetCommand(qualifiedName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.command = qualifiedName
}

// CommandText returns the preserved utterance that started the active command
// cycle.
func (s *Session) CommandText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandText
}

// PreserveCommandText records utterance as the cycle's command text unless
// one is already preserved, and returns the preserved text. Clarification
// replies therefore never displace the utterance that actually named the
// command.
func (s *Session) PreserveCommandText(utterance string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commandText == "" {
		s.commandText = utterance
	}
	return s.commandText
}

// StoredParameters returns a copy of the partial parameter record carried
// from a failed validation, nil when none is stored.
func (s *Session) StoredParameters() workflow.ParameterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storedParams == nil {
		return nil
	}
	return s.storedParams.Clone()
}

// SetStoredParameters keeps a partial parameter record for the next
// extraction turn.
func (s *Session) SetStoredParameters(rec workflow.ParameterRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		s.storedParams = nil
		return
	}
	s.storedParams = rec.Clone()
}

// Candidates returns the clarification candidate commands, nil outside
// clarification stages.
func (s *Session) Candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidates == nil {
		return nil
	}
	out := make([]string, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// SetCandidates records the restricted command universe for the next
// clarification turn.
func (s *Session) SetCandidates(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if names == nil {
		s.candidates = nil
		return
	}
	s.candidates = make([]string, len(names))
	copy(s.candidates, names)
}

// EndCommandProcessing resets the command cycle: command, command text,
// stored parameters, and candidates are cleared and the stage returns to
// intent detection. The navigator and workflow context are untouched.
func (s *Session) EndCommandProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.command = ""
	s.commandText = ""
	s.storedParams = nil
	s.candidates = nil
	s.stage = StageIntentDetection
}

// ContextValue reads one workflow context entry.
func (s *Session) ContextValue(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.wfContext[key]
	return v, ok
}

// SetContextValue writes one workflow context entry. Response generators use
// this to publish values that later commands pick up through their
// available_from declarations.
func (s *Session) SetContextValue(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wfContext[key] = v
}

// ContextSnapshot returns a copy of the workflow context map.
func (s *Session) ContextSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.wfContext)
}

// Complete reports whether the session's workflow has finished.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// MarkComplete flags the session's workflow as finished. Child sessions are
// marked complete when their nested workflow ends.
func (s *Session) MarkComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = true
}
