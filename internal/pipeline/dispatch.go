package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/fastworkflow/fastworkflow/internal/extract"
	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/pkg/types"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// extractAndDispatch runs first-time extraction against the preserved command
// text, then validates and dispatches. Called right after a command resolves,
// from any stage.
func (e *Engine) extractAndDispatch(ctx context.Context, t *turn) (*types.CommandOutput, error) {
	sess := t.sess
	desc, ok := e.def.Command(sess.Command())
	if !ok {
		e.log.Error("pipeline: resolved command has no descriptor",
			"session_id", sess.ID(),
			"command", sess.Command(),
		)
		sess.EndCommandProcessing()
		return failureOutput(fmt.Sprintf("The command %q is not registered in this workflow.", sess.Command())), nil
	}

	text := sess.CommandText()
	extracted := workflow.NewRecord(desc.Parameters)

	// Structured notation short-circuits the model: <field>value</field> tags
	// from agent-composed queries and name=value pairs typed after a command
	// name both parse without a call.
	if rec, err := e.tagged.Extract(ctx, desc, text); err == nil && extract.Found(desc, rec) {
		extracted = rec
	}
	if !extract.Found(desc, extracted) && e.extractor != nil && len(desc.Parameters) > 0 {
		rec, err := e.extractor.Extract(ctx, desc, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("pipeline: extraction cancelled: %w", ctx.Err())
			}
			t.emit(types.TraceError, map[string]any{"phase": "extraction", "error": err.Error()})
			e.log.Warn("pipeline: model extraction failed, using defaults",
				"command", desc.QualifiedName,
				"error", err,
			)
		} else {
			extracted = rec
		}
	}

	merged := extract.Merge(desc, nil, extracted)
	return e.finishExtraction(ctx, t, desc, merged)
}

// extractWithRepair folds a repair utterance into the stored partial record.
// Comma-separated values zip onto the still-missing fields in declared order;
// tagged values (agent turns) override positional guesses.
func (e *Engine) extractWithRepair(ctx context.Context, t *turn, utterance string) (*types.CommandOutput, error) {
	sess := t.sess
	desc, ok := e.def.Command(sess.Command())
	if !ok {
		e.log.Error("pipeline: stored command lost its descriptor",
			"session_id", sess.ID(),
			"command", sess.Command(),
		)
		sess.EndCommandProcessing()
		return failureOutput(fmt.Sprintf("The command %q is not registered in this workflow.", sess.Command())), nil
	}

	prior := sess.StoredParameters()
	merged := extract.CarryOver(desc, prior, utterance)

	if t.tagged {
		if rec, err := e.tagged.Extract(ctx, desc, utterance); err == nil && extract.Found(desc, rec) {
			merged = extract.Merge(desc, merged, rec)
		}
	}

	return e.finishExtraction(ctx, t, desc, merged)
}

// finishExtraction applies context pre-fills, validates, and either persists
// the partial record for the next repair turn or dispatches.
func (e *Engine) finishExtraction(ctx context.Context, t *turn, desc *workflow.CommandDescriptor, merged workflow.ParameterRecord) (*types.CommandOutput, error) {
	sess := t.sess
	e.prefillFromContext(sess, desc, merged)

	t.emit(types.TraceParameters, map[string]any{
		"command":    desc.QualifiedName,
		"parameters": recordForTrace(desc, merged),
	})

	vr := e.validator.Validate(ctx, sess.Navigator(), desc, merged)
	t.emit(types.TraceValidation, map[string]any{
		"valid":   vr.Valid,
		"missing": vr.MissingFields(),
	})

	if !vr.Valid {
		sess.SetStoredParameters(vr.Record)
		sess.SetStage(session.StageParameterExtraction)
		return failureOutput(vr.Message), nil
	}

	sess.SetStoredParameters(nil)
	out, err := e.invoke(ctx, t, desc, vr.Record, sess.CommandText())
	if err != nil {
		return nil, err
	}
	sess.EndCommandProcessing()
	return out, nil
}

// invoke hands a validated record to the command's response generator. The
// only hard error is context cancellation; handler failures become
// unsuccessful outputs so the turn still produces a response.
func (e *Engine) invoke(ctx context.Context, t *turn, desc *workflow.CommandDescriptor, rec workflow.ParameterRecord, commandText string) (*types.CommandOutput, error) {
	fn, ok := e.registry.Response(desc.QualifiedName)
	if !ok {
		e.log.Error("pipeline: no response generator registered", "command", desc.QualifiedName)
		return failureOutput(fmt.Sprintf("The command %q has no response generator.", desc.QualifiedName)), nil
	}

	t.emit(types.TraceDispatch, map[string]any{"command": desc.QualifiedName})

	out, err := fn(ctx, t.sess.Navigator(), workflow.Request{
		Command:     desc.QualifiedName,
		CommandText: commandText,
		Parameters:  rec,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pipeline: %s cancelled: %w", desc.QualifiedName, ctx.Err())
		}
		t.emit(types.TraceError, map[string]any{"phase": "dispatch", "error": err.Error()})
		e.log.Error("pipeline: response generator failed",
			"session_id", t.sess.ID(),
			"command", desc.QualifiedName,
			"error", err,
		)
		out = failureOutput(fmt.Sprintf("Command %s failed: %v", desc.DisplayName, err))
	}
	if out == nil {
		out = &types.CommandOutput{CommandResponses: []types.CommandResponse{{Success: true}}}
	}
	if out.CommandName == "" {
		out.CommandName = desc.QualifiedName
	}
	return out, nil
}

// PerformAction dispatches a structured invocation, bypassing intent
// resolution and extraction. Parameters are coerced against the declared
// schema and still validated; the session's stage machine is left untouched
// so an in-flight clarification survives an interleaved action.
func (e *Engine) PerformAction(ctx context.Context, sess *session.Session, action types.Action, opts ...TurnOption) (*types.CommandOutput, error) {
	if sess == nil {
		return nil, fmt.Errorf("pipeline: nil session")
	}
	var settings turnSettings
	for _, opt := range opts {
		opt(&settings)
	}
	t := &turn{sess: sess, tracer: settings.tracer, tagged: settings.tagged}

	desc, err := e.resolveAction(sess, action)
	if err != nil {
		t.emit(types.TraceError, map[string]any{"phase": "action", "error": err.Error()})
		return failureOutput(err.Error()), nil
	}

	if desc.Builtin {
		return e.runBuiltin(t, desc.Name)
	}

	rec, coerceErrs := recordFromAction(desc, action.Parameters)
	for _, cerr := range coerceErrs {
		t.emit(types.TraceError, map[string]any{"phase": "action", "error": cerr.Error()})
	}

	t.emit(types.TraceParameters, map[string]any{
		"command":    desc.QualifiedName,
		"parameters": recordForTrace(desc, rec),
	})

	vr := e.validator.Validate(ctx, sess.Navigator(), desc, rec)
	t.emit(types.TraceValidation, map[string]any{
		"valid":   vr.Valid,
		"missing": vr.MissingFields(),
	})
	if !vr.Valid {
		return failureOutput(vr.Message), nil
	}

	out, err := e.invoke(ctx, t, desc, vr.Record, action.CommandText)
	if err != nil {
		return nil, err
	}
	t.emit(types.TraceResponse, map[string]any{
		"command_name": out.CommandName,
		"success":      out.Success(),
	})
	return out, nil
}

// resolveAction locates the descriptor an action names. Qualified names are
// looked up directly; bare names are tried against the action's context, the
// session's context chain, and finally the whole workflow.
func (e *Engine) resolveAction(sess *session.Session, action types.Action) (*workflow.CommandDescriptor, error) {
	name := strings.TrimSpace(action.CommandName)
	if name == "" {
		return nil, fmt.Errorf("pipeline: action carries no command name")
	}

	var tries []string
	if strings.Contains(name, "/") {
		tries = append(tries, name)
	} else {
		if action.Context != "" {
			tries = append(tries, workflow.Qualify(action.Context, name))
		}
		for _, frame := range sess.Navigator().Chain() {
			tries = append(tries, workflow.Qualify(frame.Name, name))
		}
		tries = append(tries, workflow.Qualify(workflow.RootContext, name))
	}
	for _, q := range tries {
		if desc, ok := e.def.Command(q); ok {
			return desc, nil
		}
	}

	// Bare name unique across all contexts still resolves.
	var found *workflow.CommandDescriptor
	for _, q := range e.def.QualifiedNames() {
		if unqualified(q) != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("pipeline: command name %q is ambiguous, qualify it with a context", name)
		}
		found, _ = e.def.Command(q)
	}
	if found == nil {
		return nil, fmt.Errorf("pipeline: unknown command %q", name)
	}
	return found, nil
}

// recordFromAction coerces an action's parameter map onto the declared
// schema. Unknown keys are dropped; coercion failures leave the sentinel in
// place and are reported so the caller can trace them.
func recordFromAction(desc *workflow.CommandDescriptor, params map[string]any) (workflow.ParameterRecord, []error) {
	rec := workflow.NewRecord(desc.Parameters)
	var errs []error
	for key, val := range params {
		f, ok := desc.Field(key)
		if !ok {
			errs = append(errs, fmt.Errorf("pipeline: action parameter %q is not declared by %s", key, desc.QualifiedName))
			continue
		}
		if s, isStr := val.(string); isStr {
			coerced, err := workflow.Coerce(f, s)
			if err != nil {
				errs = append(errs, fmt.Errorf("pipeline: action parameter %q: %w", key, err))
				continue
			}
			rec[key] = coerced
			continue
		}
		rec[key] = val
	}
	return rec, errs
}

// prefillFromContext copies workflow-context values into fields that declare
// an available_from key and are still unset after extraction.
func (e *Engine) prefillFromContext(sess *session.Session, desc *workflow.CommandDescriptor, rec workflow.ParameterRecord) {
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		if f.AvailableFrom == "" || !workflow.IsSentinel(f.Kind, rec[f.Name]) {
			continue
		}
		v, ok := sess.ContextValue(f.AvailableFrom)
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr {
			if coerced, err := workflow.Coerce(f, s); err == nil {
				rec[f.Name] = coerced
			}
			continue
		}
		rec[f.Name] = v
	}
}

// recordForTrace renders a record with string forms so trace payloads stay
// JSON-friendly and free of sentinel magic numbers.
func recordForTrace(desc *workflow.CommandDescriptor, rec workflow.ParameterRecord) map[string]string {
	out := make(map[string]string, len(desc.Parameters))
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		v, ok := rec[f.Name]
		if !ok || workflow.IsSentinel(f.Kind, v) {
			out[f.Name] = workflow.NotFound
			continue
		}
		out[f.Name] = workflow.StringForm(f.Kind, v)
	}
	return out
}
