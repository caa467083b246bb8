package agent

import (
	"strings"

	"github.com/fastworkflow/fastworkflow/internal/session"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// basePrompt is the fixed part of the planner's instructions.
const basePrompt = `You are a task agent that operates a command workflow on the user's behalf.

Work through the task with your tools:
- run_workflow_query executes one command. Write the query as the command
  name followed by the parameter values you already know, each wrapped in
  tags, e.g. add_two_numbers <first_num>5</first_num> <second_num>3</second_num>.
- The workflow replies with a JSON command output. When it reports missing
  or invalid parameters, fill them in from the task text, or use ask_user
  if the task does not contain the answer.
- ask_user interrupts the run and waits for the user, so prefer information
  that is already in the task.
- When the task is done, reply with a plain-language answer and no tool call.`

// systemPrompt assembles the planner instructions for one run: the loop
// contract, where the session currently sits in the workflow, and the
// catalog of commands reachable from there. Sections with no content are
// omitted. Pure function of the session state, no side effects.
func (a *Agent) systemPrompt(sess *session.Session) string {
	nav := sess.Navigator()

	sections := []string{basePrompt}
	sections = append(sections, "## Current Context\n"+nav.DisplayName())
	if catalog := commandCatalog(sess.Definition(), nav.CurrentName()); catalog != "" {
		sections = append(sections, "## Available Commands\n"+catalog)
	}
	if a.extraPrompt != "" {
		sections = append(sections, "## Operator Instructions\n"+a.extraPrompt)
	}
	return strings.Join(sections, "\n\n")
}

// commandCatalog lists the non-builtin commands reachable from ctxName, one
// signature per line. Returns "" when the context exposes none.
func commandCatalog(def *workflow.Definition, ctxName string) string {
	var sb strings.Builder
	for _, q := range def.CommandsFor(ctxName) {
		desc, ok := def.Command(q)
		if !ok || desc.Builtin {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(commandLine(desc))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// commandLine renders one catalog entry as
// "name(field: type (required), ...): description".
func commandLine(desc *workflow.CommandDescriptor) string {
	parts := make([]string, len(desc.Parameters))
	for i := range desc.Parameters {
		f := &desc.Parameters[i]
		p := f.Name + ": " + string(f.Kind)
		if f.Required {
			p += " (required)"
		}
		parts[i] = p
	}
	line := desc.Name + "(" + strings.Join(parts, ", ") + ")"
	if desc.Description != "" {
		line += ": " + desc.Description
	}
	return line
}
