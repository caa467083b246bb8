package pipeline

import (
	"fmt"
	"strings"

	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/pkg/types"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// runBuiltin executes one of the engine-injected commands. Built-ins never
// take parameters, so they skip extraction entirely.
func (e *Engine) runBuiltin(t *turn, name string) (*types.CommandOutput, error) {
	sess := t.sess
	t.emit(types.TraceDispatch, map[string]any{"command": workflow.Qualify(workflow.RootContext, name), "builtin": true})

	switch name {
	case workflow.BuiltinAbort:
		sess.EndCommandProcessing()
		return abortOutput(), nil

	case workflow.BuiltinWhatCanIDo:
		return e.whatCanIDoOutput(sess), nil

	case workflow.BuiltinMisunderstood:
		sess.SetStoredParameters(nil)
		sess.SetCommand("")
		sess.SetStage(session.StageMisunderstandingClarification)
		return e.misunderstandingPrompt(sess), nil

	case workflow.BuiltinGoUp:
		sess.EndCommandProcessing()
		return e.goUpOutput(sess), nil
	}

	e.log.Error("pipeline: unknown builtin", "name", name)
	return failureOutput(fmt.Sprintf("Unknown built-in command %q.", name)), nil
}

// abortOutput confirms the reset.
func abortOutput() *types.CommandOutput {
	return &types.CommandOutput{
		CommandName: workflow.Qualify(workflow.RootContext, workflow.BuiltinAbort),
		CommandResponses: []types.CommandResponse{{
			Response: "Aborted. What would you like to do instead?",
			Success:  true,
		}},
	}
}

// whatCanIDoOutput lists every command reachable from the current context,
// with its parameter signature, plus the always-available escape phrases.
func (e *Engine) whatCanIDoOutput(sess *session.Session) *types.CommandOutput {
	nav := sess.Navigator()
	display := nav.DisplayName()

	var names []string
	var lines []string
	for _, q := range e.def.CommandsFor(nav.CurrentName()) {
		desc, ok := e.def.Command(q)
		if !ok || desc.Builtin {
			continue
		}
		names = append(names, q)
		lines = append(lines, "- "+signature(desc))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Commands available in %s:\n", display)
	if len(lines) == 0 {
		b.WriteString("(no commands are registered for this context)\n")
	} else {
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(`You can always say "abort" to start over, "go up" to move to the parent context, or "you misunderstood" to correct me.`)

	return &types.CommandOutput{
		CommandName: workflow.Qualify(workflow.RootContext, workflow.BuiltinWhatCanIDo),
		CommandResponses: []types.CommandResponse{{
			Response: b.String(),
			Success:  true,
			Artifacts: map[string]any{
				"context":  display,
				"commands": names,
			},
		}},
	}
}

// goUpOutput reports the context the navigator landed on after ascending.
func (e *Engine) goUpOutput(sess *session.Session) *types.CommandOutput {
	nav := sess.Navigator()
	moved := nav.Ascend()
	var text string
	if moved {
		text = fmt.Sprintf("Moved up to %s.", nav.DisplayName())
	} else {
		text = fmt.Sprintf("Already at the top level (%s).", nav.DisplayName())
	}
	return &types.CommandOutput{
		CommandName: workflow.Qualify(workflow.RootContext, workflow.BuiltinGoUp),
		CommandResponses: []types.CommandResponse{{
			Response: text,
			Success:  true,
			Artifacts: map[string]any{
				"context": nav.CurrentName(),
			},
		}},
	}
}

// misunderstandingPrompt asks the user to restate, listing what the current
// context can actually do so the correction lands on a real command.
func (e *Engine) misunderstandingPrompt(sess *session.Session) *types.CommandOutput {
	nav := sess.Navigator()
	own := make([]string, 0, 8)
	for _, q := range e.def.OwnCommands(nav.CurrentName()) {
		own = append(own, unqualified(q))
	}

	var b strings.Builder
	b.WriteString("I did not catch a command there. ")
	if len(own) > 0 {
		fmt.Fprintf(&b, "In %s you can: %s. ", nav.DisplayName(), strings.Join(own, ", "))
	}
	b.WriteString(`Please rephrase, name the command directly, or say "abort" to start over.`)

	return &types.CommandOutput{
		CommandResponses: []types.CommandResponse{{
			Response: b.String(),
			Success:  false,
			Artifacts: map[string]any{
				"commands": own,
			},
		}},
	}
}

// ambiguityPrompt lists the candidate commands the user must choose from.
func ambiguityPrompt(candidates []string) *types.CommandOutput {
	short := make([]string, len(candidates))
	for i, q := range candidates {
		short[i] = unqualified(q)
	}
	text := fmt.Sprintf(
		"That could mean more than one command: %s. Reply with the one you meant, or say \"abort\" to start over.",
		strings.Join(short, ", "),
	)
	return &types.CommandOutput{
		CommandResponses: []types.CommandResponse{{
			Response: text,
			Success:  false,
			Artifacts: map[string]any{
				"candidates": candidates,
			},
		}},
	}
}

// failureOutput wraps an error message as an unsuccessful single response.
func failureOutput(message string) *types.CommandOutput {
	return &types.CommandOutput{
		CommandResponses: []types.CommandResponse{{
			Response: message,
			Success:  false,
		}},
	}
}

// signature renders a command as name(field: type, ...) with required fields
// marked.
func signature(desc *workflow.CommandDescriptor) string {
	if len(desc.Parameters) == 0 {
		return desc.Name + "()"
	}
	parts := make([]string, len(desc.Parameters))
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		p := f.Name + ": " + string(f.Kind)
		if f.Required {
			p += " (required)"
		}
		parts[i] = p
	}
	return desc.Name + "(" + strings.Join(parts, ", ") + ")"
}
