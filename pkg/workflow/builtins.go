package workflow

// Built-in command names. These are injected into the root context of every
// loaded workflow, so each context inherits them, and they resolve before any
// classifier runs.
const (
	BuiltinAbort         = "abort"
	BuiltinWhatCanIDo    = "what_can_i_do"
	BuiltinMisunderstood = "you_misunderstood"
	BuiltinGoUp          = "go_up"
)

// IsBuiltin reports whether name (unqualified) is a built-in command.
func IsBuiltin(name string) bool {
	switch name {
	case BuiltinAbort, BuiltinWhatCanIDo, BuiltinMisunderstood, BuiltinGoUp:
		return true
	}
	return false
}

// builtinDescriptors returns descriptors for the built-in commands. Their
// plain utterances serve the exact-match rung of intent resolution; none of
// them declare parameters.
func builtinDescriptors() []*CommandDescriptor {
	return []*CommandDescriptor{
		{
			QualifiedName: Qualify(RootContext, BuiltinAbort),
			Context:       RootContext,
			Name:          BuiltinAbort,
			DisplayName:   "abort",
			Description:   "Cancel the command currently being filled in and reset the conversation state.",
			Utterances: []string{
				"abort",
				"cancel",
				"never mind",
				"forget it",
				"stop",
			},
			Builtin: true,
		},
		{
			QualifiedName: Qualify(RootContext, BuiltinWhatCanIDo),
			Context:       RootContext,
			Name:          BuiltinWhatCanIDo,
			DisplayName:   "what can I do",
			Description:   "List the commands available in the current context.",
			Utterances: []string{
				"what can i do",
				"what can you do",
				"help",
				"show commands",
				"list commands",
			},
			Builtin: true,
		},
		{
			QualifiedName: Qualify(RootContext, BuiltinMisunderstood),
			Context:       RootContext,
			Name:          BuiltinMisunderstood,
			DisplayName:   "you misunderstood",
			Description:   "Reject the inferred command and restate what was meant.",
			Utterances: []string{
				"you misunderstood",
				"that is not what i meant",
				"that's not what i meant",
				"wrong command",
				"no not that",
			},
			Builtin: true,
		},
		{
			QualifiedName: Qualify(RootContext, BuiltinGoUp),
			Context:       RootContext,
			Name:          BuiltinGoUp,
			DisplayName:   "go up",
			Description:   "Move from the current command context to its parent.",
			Utterances: []string{
				"go up",
				"go back",
				"move up",
				"up one level",
			},
			Builtin: true,
		},
	}
}
