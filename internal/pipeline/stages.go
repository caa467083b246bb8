package pipeline

import (
	"context"
	"strings"

	"github.com/fastworkflow/fastworkflow/internal/intent"
	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/pkg/types"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// detectIntent handles the resting stage. A single resolution continues into
// extraction and dispatch; an ambiguous set or a miss moves the session into
// the matching clarification stage and returns the prompt.
func (e *Engine) detectIntent(ctx context.Context, t *turn, utterance string) (*types.CommandOutput, error) {
	sess := t.sess
	res := e.classify(ctx, t, utterance, session.StageIntentDetection)

	// No match at the current context: retry against each ancestor before
	// giving up. The first context whose command set resolves the utterance
	// wins.
	if !res.Matched() && !res.Ambiguous() {
		res = e.walkParentChain(ctx, t, utterance)
	}

	switch {
	case res.Ambiguous():
		sess.SetCandidates(res.Candidates)
		sess.PreserveCommandText(res.CommandText)
		sess.SetStage(session.StageAmbiguityClarification)
		return ambiguityPrompt(res.Candidates), nil

	case !res.Matched():
		sess.SetStage(session.StageMisunderstandingClarification)
		return e.misunderstandingPrompt(sess), nil
	}

	if res.Builtin {
		return e.runBuiltin(t, unqualified(res.Command))
	}

	sess.SetCommand(res.Command)
	sess.PreserveCommandText(res.CommandText)
	e.learn(ctx, t, utterance, res.Command, flagFor(session.StageIntentDetection))
	return e.extractAndDispatch(ctx, t)
}

// walkParentChain re-runs intent detection against each ancestor context of
// the current one, nearest first, and returns the first concrete result.
// Ambiguous sets stop the walk too: they are a resolution, just not a single
// one.
func (e *Engine) walkParentChain(ctx context.Context, t *turn, utterance string) intent.Result {
	chain := t.sess.Navigator().Chain()
	for _, frame := range chain[1:] {
		res := e.classifier.Classify(ctx, intent.Input{
			Utterance: utterance,
			Context:   frame.Name,
			Stage:     session.StageIntentDetection,
		})
		if res.Matched() || res.Ambiguous() {
			data := map[string]any{"method": string(res.Method), "walked_to": frame.Name}
			if res.Command != "" {
				data["command"] = res.Command
			}
			if len(res.Candidates) > 0 {
				data["candidates"] = res.Candidates
			}
			t.emit(types.TraceCandidates, data)
			return res
		}
	}
	return intent.Result{CommandText: utterance, Method: intent.MethodNone}
}

// clarifyAmbiguity handles the stage where the user picks among stored
// candidates. The classifier's universe is already restricted to the stored
// set plus the escape hatches.
func (e *Engine) clarifyAmbiguity(ctx context.Context, t *turn, utterance string) (*types.CommandOutput, error) {
	sess := t.sess
	res := e.classify(ctx, t, utterance, session.StageAmbiguityClarification)

	if res.Matched() && res.Builtin {
		switch unqualified(res.Command) {
		case workflow.BuiltinAbort:
			sess.EndCommandProcessing()
			return abortOutput(), nil
		case workflow.BuiltinWhatCanIDo:
			// Stays in the clarification so the candidate set survives.
			return e.whatCanIDoOutput(sess), nil
		}
	}

	if res.Matched() {
		original := sess.CommandText()
		sess.SetCommand(res.Command)
		e.learn(ctx, t, original, res.Command, flagFor(session.StageAmbiguityClarification))
		sess.SetCandidates(nil)
		return e.extractAndDispatch(ctx, t)
	}

	// Not one of the offered names: repeat the choices.
	return ambiguityPrompt(sess.Candidates()), nil
}

// clarifyMisunderstanding handles the stage entered after a rejection or a
// full miss. The user either names a command of the current context or backs
// out.
func (e *Engine) clarifyMisunderstanding(ctx context.Context, t *turn, utterance string) (*types.CommandOutput, error) {
	sess := t.sess
	res := e.classify(ctx, t, utterance, session.StageMisunderstandingClarification)

	if res.Matched() && res.Builtin {
		switch unqualified(res.Command) {
		case workflow.BuiltinAbort:
			sess.EndCommandProcessing()
			return abortOutput(), nil
		case workflow.BuiltinWhatCanIDo:
			return e.whatCanIDoOutput(sess), nil
		case workflow.BuiltinGoUp:
			sess.EndCommandProcessing()
			return e.goUpOutput(sess), nil
		case workflow.BuiltinMisunderstood:
			// Restating the rejection keeps the stage.
			return e.misunderstandingPrompt(sess), nil
		}
	}

	if res.Matched() {
		// The correction names the command directly, so the correction
		// utterance is the better cache seed when no original was preserved.
		original := sess.CommandText()
		if original == "" {
			original = utterance
		}
		sess.SetCommand(res.Command)
		sess.PreserveCommandText(res.CommandText)
		e.learn(ctx, t, original, res.Command, flagFor(session.StageMisunderstandingClarification))
		return e.extractAndDispatch(ctx, t)
	}

	return e.misunderstandingPrompt(sess), nil
}

// repairParameters handles the stage entered after a validation failure. The
// new utterance supplies values for the still-missing fields unless it is an
// escape utterance.
func (e *Engine) repairParameters(ctx context.Context, t *turn, utterance string) (*types.CommandOutput, error) {
	sess := t.sess

	if name, ok := e.builtinByUtterance(utterance); ok {
		switch name {
		case workflow.BuiltinAbort:
			sess.EndCommandProcessing()
			return abortOutput(), nil
		case workflow.BuiltinMisunderstood:
			sess.SetStoredParameters(nil)
			sess.SetCommand("")
			sess.SetStage(session.StageMisunderstandingClarification)
			return e.misunderstandingPrompt(sess), nil
		case workflow.BuiltinWhatCanIDo:
			return e.whatCanIDoOutput(sess), nil
		}
	}

	return e.extractWithRepair(ctx, t, utterance)
}

// builtinByUtterance matches an utterance exactly against the built-in
// commands' training phrases. Used in the extraction stage, where the
// classifier does not run: a parameter value must never be eaten by a fuzzy
// or model match.
func (e *Engine) builtinByUtterance(utterance string) (string, bool) {
	u := strings.ToLower(strings.TrimSpace(utterance))
	if u == "" {
		return "", false
	}
	for _, name := range []string{
		workflow.BuiltinAbort,
		workflow.BuiltinWhatCanIDo,
		workflow.BuiltinMisunderstood,
		workflow.BuiltinGoUp,
	} {
		if u == name || u == strings.ReplaceAll(name, "_", " ") {
			return name, true
		}
		desc, ok := e.def.Command(workflow.Qualify(workflow.RootContext, name))
		if !ok {
			continue
		}
		for _, phrase := range desc.AllUtterances() {
			if strings.ToLower(phrase) == u {
				return name, true
			}
		}
	}
	return "", false
}
