// Package distill turns assembled prompts into investment theses via an LLM collaborator.
package distill

import (
	"context"
	"strings"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// PromptInput is one sample handed to the distiller
type PromptInput struct {
	SampleID   int64
	PromptText string
}

// Distiller returns one thesis per input, in input order.
// Per-sample failures come back as theses with Failed set; an error means the whole batch failed.
type Distiller interface {
	Distill(ctx context.Context, inputs []PromptInput) ([]*contracts.DistilledThesis, error)
	Model() string
}

// New returns a Claude distiller when an API key is configured, the stub otherwise
func New(cfg config.LLMConfig, log *logger.Logger) Distiller {
	if cfg.APIKey == "" {
		log.Component("distill").Info("ANTHROPIC_API_KEY not set, using stub distiller")
		return NewStubDistiller()
	}
	return NewClaudeDistiller(cfg, log)
}

// ParseThesis extracts claims and evidence from bullet lines.
// Bullets under an "evidence" heading are evidence, every other "- " bullet is a claim (max 5).
func ParseThesis(text string) contracts.ThesisStructure {
	st := contracts.ThesisStructure{Claims: []string{}, Evidence: []string{}}

	inEvidence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if st.Summary == "" {
			st.Summary = strings.TrimLeft(trimmed, "# ")
		}

		if !strings.HasPrefix(trimmed, "- ") {
			if isHeading(trimmed) {
				inEvidence = strings.Contains(strings.ToLower(trimmed), "evidence")
			}
			continue
		}

		item := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if item == "" {
			continue
		}
		if inEvidence {
			st.Evidence = append(st.Evidence, item)
		} else if len(st.Claims) < 5 {
			st.Claims = append(st.Claims, item)
		}
	}

	if st.Summary == "" {
		st.Summary = "No summary"
	}
	return st
}

// isHeading accepts "## Title", "**Title**", "3. Title" and "Title:"
func isHeading(line string) bool {
	switch {
	case strings.HasPrefix(line, "#"), strings.HasPrefix(line, "**"), strings.HasSuffix(line, ":"):
		return true
	case len(line) > 2 && line[0] >= '1' && line[0] <= '9' && line[1] == '.':
		return true
	}
	return false
}

// failureThesis is the typed marker stored when a sample could not be distilled
func failureThesis(sampleID int64, model string, err error) *contracts.DistilledThesis {
	return &contracts.DistilledThesis{
		SampleID:    sampleID,
		ThesisText:  "Error generating thesis: " + err.Error(),
		Structure:   contracts.ThesisStructure{Claims: []string{}, Evidence: []string{}, Error: err.Error()},
		SourceModel: model,
		Failed:      true,
	}
}
