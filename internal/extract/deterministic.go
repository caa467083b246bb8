package extract

import (
	"context"

	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// DeterministicExtractor ignores the text and returns the declared defaults
// with sentinels elsewhere. It backs tests and deployments without an
// extraction model: validation then surfaces every required field as missing
// and the carry-over path collects them turn by turn.
type DeterministicExtractor struct{}

var _ Extractor = DeterministicExtractor{}

// Extract implements [Extractor].
func (DeterministicExtractor) Extract(_ context.Context, desc *workflow.CommandDescriptor, _ string) (workflow.ParameterRecord, error) {
	return workflow.NewRecord(desc.Parameters), nil
}
