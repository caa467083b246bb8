package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/internal/navigator"
	"github.com/fastworkflow/fastworkflow/internal/observe"
	"github.com/fastworkflow/fastworkflow/internal/pipeline"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// Config collects everything a per-user runtime needs. Definition, Registry,
// Engine, and Store are required; the rest defaults sensibly.
type Config struct {
	// Definition is the loaded workflow.
	Definition *workflow.Definition

	// Registry holds the workflow's response generators and context hooks.
	Registry *workflow.HandlerRegistry

	// Engine is the shared NLU pipeline.
	Engine *pipeline.Engine

	// Store persists conversations.
	Store convstore.Store

	// Summarizer generates conversation topics and summaries at rotation.
	// Nil falls back to numbered topics.
	Summarizer convstore.TopicSummarizer

	// Agent serves InvokeAgent. Nil disables agentic invocations.
	Agent AgentRunner

	// Metrics records runtime instrumentation. Nil disables it.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// QueueCapacity bounds the message and output queues. Default 16.
	QueueCapacity int

	// AgentRunTimeout bounds one detached agent run across invocations.
	// Default 10 minutes.
	AgentRunTimeout time.Duration

	// StartupContext names the command context new sessions begin in. The
	// context starts without an application object; hooks attach one later.
	// Empty starts sessions at the root context.
	StartupContext string
}

func (c Config) validate() error {
	var errs []error
	if c.Definition == nil {
		errs = append(errs, errors.New("runtime: config needs a workflow definition"))
	}
	if c.Registry == nil {
		errs = append(errs, errors.New("runtime: config needs a handler registry"))
	}
	if c.Engine == nil {
		errs = append(errs, errors.New("runtime: config needs a pipeline engine"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("runtime: config needs a conversation store"))
	}
	return errors.Join(errs...)
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) queueCapacity() int {
	if c.QueueCapacity > 0 {
		return c.QueueCapacity
	}
	return defaultQueueCapacity
}

func (c Config) agentRunTimeout() time.Duration {
	if c.AgentRunTimeout > 0 {
		return c.AgentRunTimeout
	}
	return defaultAgentRunTimeout
}

func (c Config) newNavigator() *navigator.Navigator {
	nav := navigator.New(c.Registry)
	if c.StartupContext != "" && c.StartupContext != workflow.RootContext {
		nav.SetCurrent(c.StartupContext, nil)
	}
	return nav
}

// Manager owns the per-user runtimes. Runtimes are created lazily on Open and
// live until Shutdown.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
	closed   bool
}

// NewManager validates the config and returns an empty manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.logger(),
		runtimes: make(map[string]*Runtime),
	}, nil
}

// Open returns the user's runtime, creating it on first use. Reopening an
// existing user returns the live runtime with its state intact.
func (m *Manager) Open(userID string) (*Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("runtime: manager is shut down")
	}
	if rt, ok := m.runtimes[userID]; ok {
		return rt, nil
	}
	rt := newRuntime(userID, uuid.NewString(), m.cfg)
	m.runtimes[userID] = rt
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddActiveSessions(context.Background(), 1)
	}
	m.log.Info("session runtime opened", "user_id", userID, "session_id", rt.sess.ID())
	return rt, nil
}

// Get returns the user's runtime when one exists. Callers that reach here
// without a prior Open should be redirected to initialization.
func (m *Manager) Get(userID string) (*Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[userID]
	return rt, ok
}

// Active returns the number of live runtimes.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runtimes)
}

// Shutdown flushes every runtime's in-memory conversation state and stops
// accepting new sessions. Errors are collected per user; flushing continues
// past failures.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	runtimes := make(map[string]*Runtime, len(m.runtimes))
	for id, rt := range m.runtimes {
		runtimes[id] = rt
	}
	m.mu.Unlock()

	var errs []error
	for userID, rt := range runtimes {
		if err := rt.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runtime: flush user %s: %w", userID, err))
		}
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddActiveSessions(context.Background(), -int64(len(runtimes)))
	}
	m.log.Info("session runtimes flushed", "count", len(runtimes), "errors", len(errs))
	return errors.Join(errs...)
}
