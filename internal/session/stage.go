package session

// Stage is a session's position in the command resolution state machine.
// Every utterance is handled according to the stage the previous turn left
// the session in.
type Stage string

const (
	// StageIntentDetection is the resting stage: the next utterance is
	// classified against the full command set of the current context.
	StageIntentDetection Stage = "intent_detection"

	// StageAmbiguityClarification means the previous utterance matched
	// several commands too closely; the next utterance picks among the
	// stored candidates.
	StageAmbiguityClarification Stage = "intent_ambiguity_clarification"

	// StageMisunderstandingClarification means the previous resolution was
	// rejected or nothing matched; the next utterance is classified against
	// everything except the rejected candidate.
	StageMisunderstandingClarification Stage = "intent_misunderstanding_clarification"

	// StageParameterExtraction means a command is resolved and the next
	// utterance supplies missing or corrected parameter values.
	StageParameterExtraction Stage = "parameter_extraction"
)

// IsValid reports whether s is a recognised stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageIntentDetection, StageAmbiguityClarification,
		StageMisunderstandingClarification, StageParameterExtraction:
		return true
	}
	return false
}

// Clarifying reports whether s is one of the two clarification stages.
func (s Stage) Clarifying() bool {
	return s == StageAmbiguityClarification || s == StageMisunderstandingClarification
}
