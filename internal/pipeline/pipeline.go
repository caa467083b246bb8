// Package pipeline drives one user utterance through the command resolution
// state machine: intent detection, the two clarification stages, parameter
// extraction, and dispatch to the command's response generator.
//
// The engine is stateless between calls; all per-conversation state (stage,
// resolved command, preserved command text, stored parameters, candidate set)
// lives on the [session.Session]. Exactly one stage handler runs per call,
// though a successful resolution continues into extraction and dispatch
// within the same turn. Infrastructure failures (classifier models, the
// utterance cache, extraction models) degrade the turn instead of erroring
// it: the engine only returns an error when the context is cancelled or the
// session is unusable.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fastworkflow/fastworkflow/internal/extract"
	"github.com/fastworkflow/fastworkflow/internal/intent"
	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/internal/uttcache"
	"github.com/fastworkflow/fastworkflow/pkg/types"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// Tracer receives the events the engine emits at phase boundaries. The
// runtime attaches its trace collector here; nil-safe helpers inside the
// engine make the tracer optional.
type Tracer interface {
	Emit(kind types.TraceKind, data map[string]any)
}

// TracerFunc adapts a function to the [Tracer] interface.
type TracerFunc func(kind types.TraceKind, data map[string]any)

// Emit calls f.
func (f TracerFunc) Emit(kind types.TraceKind, data map[string]any) { f(kind, data) }

// Config holds the engine's collaborators.
type Config struct {
	// Definition is the loaded workflow.
	Definition *workflow.Definition

	// Registry holds the application's response generators and hooks.
	Registry *workflow.HandlerRegistry

	// Classifier resolves utterances to command names.
	Classifier *intent.Classifier

	// Extractor fills parameter records from command text. Nil disables
	// model extraction; records then come from carry-over and defaults only.
	Extractor extract.Extractor

	// Validator checks merged records. Required.
	Validator *extract.Validator

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Engine executes turns against a loaded workflow. Safe for concurrent use
// across sessions; per-session serialization is the runtime's job.
type Engine struct {
	def        *workflow.Definition
	registry   *workflow.HandlerRegistry
	classifier *intent.Classifier
	extractor  extract.Extractor
	tagged     *extract.TaggedExtractor
	validator  *extract.Validator
	log        *slog.Logger
}

// New validates cfg and returns an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Definition == nil {
		return nil, fmt.Errorf("pipeline: config requires a workflow definition")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("pipeline: config requires a handler registry")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("pipeline: config requires an intent classifier")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("pipeline: config requires a validator")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		def:        cfg.Definition,
		registry:   cfg.Registry,
		classifier: cfg.Classifier,
		extractor:  cfg.Extractor,
		tagged:     &extract.TaggedExtractor{},
		validator:  cfg.Validator,
		log:        log,
	}, nil
}

// turnSettings carries per-call options.
type turnSettings struct {
	tracer Tracer
	tagged bool
}

// TurnOption configures a single ProcessTurn call.
type TurnOption func(*turnSettings)

// WithTracer attaches a trace sink to the turn.
func WithTracer(t Tracer) TurnOption {
	return func(s *turnSettings) { s.tracer = t }
}

// WithTaggedExtraction enables <field>value</field> extraction for the turn.
// The agent composes tagged command text; plain chat input never carries
// tags, so the handler only pays the regex cost when asked to.
func WithTaggedExtraction() TurnOption {
	return func(s *turnSettings) { s.tagged = true }
}

// turn bundles the per-call state the stage handlers share.
type turn struct {
	sess   *session.Session
	tracer Tracer
	tagged bool
}

func (t *turn) emit(kind types.TraceKind, data map[string]any) {
	if t.tracer == nil {
		return
	}
	t.tracer.Emit(kind, data)
}

// ProcessTurn runs one utterance through the stage the session is in and
// returns the turn's output. The returned output is never nil when the error
// is nil. Context cancellation is the only hard failure; everything else
// surfaces as an unsuccessful [types.CommandOutput].
func (e *Engine) ProcessTurn(ctx context.Context, sess *session.Session, utterance string, opts ...TurnOption) (*types.CommandOutput, error) {
	if sess == nil {
		return nil, fmt.Errorf("pipeline: nil session")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: turn aborted before start: %w", err)
	}

	var settings turnSettings
	for _, opt := range opts {
		opt(&settings)
	}
	t := &turn{sess: sess, tracer: settings.tracer, tagged: settings.tagged}

	stage := sess.Stage()
	t.emit(types.TraceStageEntry, map[string]any{
		"stage":   string(stage),
		"context": sess.Navigator().CurrentName(),
	})
	e.log.Debug("pipeline: turn start",
		"session_id", sess.ID(),
		"stage", string(stage),
		"context", sess.Navigator().CurrentName(),
	)

	var out *types.CommandOutput
	var err error
	switch stage {
	case session.StageAmbiguityClarification:
		out, err = e.clarifyAmbiguity(ctx, t, utterance)
	case session.StageMisunderstandingClarification:
		out, err = e.clarifyMisunderstanding(ctx, t, utterance)
	case session.StageParameterExtraction:
		out, err = e.repairParameters(ctx, t, utterance)
	default:
		out, err = e.detectIntent(ctx, t, utterance)
	}
	if err != nil {
		return nil, err
	}

	t.emit(types.TraceResponse, map[string]any{
		"command_name": out.CommandName,
		"success":      out.Success(),
	})
	return out, nil
}

// classify runs the intent classifier for the session's current context and
// stage, records the candidate trace, and returns the result.
func (e *Engine) classify(ctx context.Context, t *turn, utterance string, stage session.Stage) intent.Result {
	res := e.classifier.Classify(ctx, intent.Input{
		Utterance:  utterance,
		Context:    t.sess.Navigator().CurrentName(),
		Stage:      stage,
		Candidates: t.sess.Candidates(),
	})
	data := map[string]any{"method": string(res.Method)}
	if res.Command != "" {
		data["command"] = res.Command
	}
	if len(res.Candidates) > 0 {
		data["candidates"] = res.Candidates
	}
	t.emit(types.TraceCandidates, data)
	return res
}

// learn seeds the utterance cache with a confirmed mapping. Failures are
// logged; the cache is an accelerator, not a dependency.
func (e *Engine) learn(ctx context.Context, t *turn, utterance, command string, flag int) {
	if utterance == "" || command == "" || workflow.IsBuiltin(unqualified(command)) {
		return
	}
	if err := e.classifier.Learn(ctx, utterance, command, flag); err != nil {
		e.log.Warn("pipeline: seeding utterance cache failed",
			"session_id", t.sess.ID(),
			"command", command,
			"error", err,
		)
	}
}

// flagFor maps a stage to the cache provenance flag used when seeding after
// the stage resolves a command.
func flagFor(stage session.Stage) int {
	switch stage {
	case session.StageAmbiguityClarification:
		return uttcache.FlagClarified
	case session.StageMisunderstandingClarification:
		return uttcache.FlagCorrected
	}
	return uttcache.FlagDirect
}

// unqualified strips the context portion of a qualified command name.
func unqualified(qualifiedName string) string {
	_, name := workflow.SplitQualified(qualifiedName)
	return name
}
