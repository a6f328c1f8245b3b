package distill

import (
	"context"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// StubModel is recorded as source_model for stub theses
const StubModel = "stub"

// StubDistiller returns placeholder theses when no LLM is configured
type StubDistiller struct{}

// NewStubDistiller creates a stub distiller
func NewStubDistiller() *StubDistiller {
	return &StubDistiller{}
}

// Model returns the stub model name
func (s *StubDistiller) Model() string { return StubModel }

// Distill returns one placeholder thesis per input
func (s *StubDistiller) Distill(ctx context.Context, inputs []PromptInput) ([]*contracts.DistilledThesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*contracts.DistilledThesis, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, &contracts.DistilledThesis{
			SampleID:   in.SampleID,
			ThesisText: "LLM distillation skipped (not configured)",
			Structure: contracts.ThesisStructure{
				Claims:   []string{},
				Evidence: []string{},
				Summary:  "stub",
			},
			SourceModel: StubModel,
		})
	}
	return out, nil
}
