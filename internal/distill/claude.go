package distill

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
)

const systemPrompt = `You are a financial analyst generating concise investment theses.
Analyze the provided data and generate a structured investment thesis with:
1. Executive Summary (2-3 sentences)
2. Key Claims (3-5 bullet points starting with "- ")
3. Supporting Evidence (bullet points citing specific data points)
4. Risk Factors (2-3 key risks)
5. Outlook (bullish/bearish/neutral with brief justification)

Use only the information in the prompt. Keep the response focused and data-driven.`

// completion is one model reply
type completion struct {
	Text   string
	Tokens int64
}

// completeFunc sends one system+user exchange
type completeFunc func(ctx context.Context, system, user string) (completion, error)

// ClaudeDistiller generates theses with the Anthropic Messages API
type ClaudeDistiller struct {
	model    string
	complete completeFunc
	logger   *logger.Logger
}

// NewClaudeDistiller creates a distiller backed by anthropic-sdk-go
func NewClaudeDistiller(cfg config.LLMConfig, log *logger.Logger) *ClaudeDistiller {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	d := &ClaudeDistiller{
		model:  cfg.Model,
		logger: log.Component("distill"),
	}
	d.complete = func(ctx context.Context, system, user string) (completion, error) {
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(cfg.Model),
			MaxTokens: int64(maxTokens),
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			return completion{}, fmt.Errorf("Claude API call failed: %w", err)
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return completion{}, fmt.Errorf("no response generated from Claude API")
		}
		return completion{Text: sb.String(), Tokens: resp.Usage.InputTokens + resp.Usage.OutputTokens}, nil
	}
	return d
}

// Model returns the configured model id
func (d *ClaudeDistiller) Model() string { return d.model }

// Distill calls the model once per input; a failed call yields a failure thesis for that sample only
func (d *ClaudeDistiller) Distill(ctx context.Context, inputs []PromptInput) ([]*contracts.DistilledThesis, error) {
	out := make([]*contracts.DistilledThesis, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		user := "Based on the following financial data, generate an investment thesis:\n\n" +
			in.PromptText + "\n\nProvide a structured analysis following the format specified."

		c, err := d.complete(ctx, systemPrompt, user)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			d.logger.WithError(err).WithField("sample_id", in.SampleID).Warn("Thesis generation failed")
			out = append(out, failureThesis(in.SampleID, d.model, err))
			continue
		}

		st := ParseThesis(c.Text)
		st.Model = d.model
		st.TokensUsed = c.Tokens
		out = append(out, &contracts.DistilledThesis{
			SampleID:    in.SampleID,
			ThesisText:  c.Text,
			Structure:   st,
			SourceModel: d.model,
		})
		d.logger.WithFields(map[string]interface{}{
			"sample_id": in.SampleID,
			"chars":     len(c.Text),
			"tokens":    c.Tokens,
		}).Debug("Thesis generated")
	}
	return out, nil
}
