package distill

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// Auditor records distillation failures
type Auditor interface {
	Record(ctx context.Context, kind contracts.AuditKind, entity, key, detail string)
}

// RunStats summarizes one RunAsset call
type RunStats struct {
	Candidates int `json:"candidates"`
	Selected   int `json:"selected"`
	Written    int `json:"written"`
	Failed     int `json:"failed"`
}

// Runner selects a subset of an asset's samples and persists whatever the distiller returns
// ⭐ SSOT: distilled_thesis 쓰기는 여기서만
type Runner struct {
	distiller     Distiller
	samples       contracts.SampleRepository
	theses        contracts.ThesisRepository
	audit         Auditor
	logger        *logger.Logger
	targetSamples int
	batchSize     int
}

// NewRunner creates a runner; targetSamples controls the stride, batchSize the request grouping
func NewRunner(d Distiller, samples contracts.SampleRepository, theses contracts.ThesisRepository, audit Auditor, targetSamples, batchSize int, log *logger.Logger) *Runner {
	if targetSamples <= 0 {
		targetSamples = 50
	}
	if batchSize <= 0 {
		batchSize = 8
	}
	return &Runner{
		distiller:     d,
		samples:       samples,
		theses:        theses,
		audit:         audit,
		logger:        log.Component("distill"),
		targetSamples: targetSamples,
		batchSize:     batchSize,
	}
}

// Select keeps every n-th sample with n = max(1, len/target)
func Select(samples []*contracts.AssembledSample, target int) []*contracts.AssembledSample {
	if len(samples) == 0 {
		return nil
	}
	n := 1
	if target > 0 && len(samples)/target > 1 {
		n = len(samples) / target
	}
	out := make([]*contracts.AssembledSample, 0, len(samples)/n+1)
	for i := 0; i < len(samples); i += n {
		out = append(out, samples[i])
	}
	return out
}

// RunAsset distills the selected samples of one asset.
// A failed batch is audited and skipped; only context cancellation aborts.
func (r *Runner) RunAsset(ctx context.Context, asset *contracts.Asset) (RunStats, error) {
	var stats RunStats
	log := r.logger.WithFields(map[string]interface{}{
		"ticker": asset.Ticker,
		"model":  r.distiller.Model(),
	})

	all, err := r.samples.ListByAsset(ctx, asset.ID)
	if err != nil {
		return stats, fmt.Errorf("list samples: %w", err)
	}
	stats.Candidates = len(all)

	selected := Select(all, r.targetSamples)
	stats.Selected = len(selected)

	for start := 0; start < len(selected); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + r.batchSize
		if end > len(selected) {
			end = len(selected)
		}

		inputs := make([]PromptInput, 0, end-start)
		for _, s := range selected[start:end] {
			inputs = append(inputs, PromptInput{SampleID: s.ID, PromptText: s.PromptText})
		}

		theses, err := r.distiller.Distill(ctx, inputs)
		if err != nil && ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err != nil {
			log.WithError(err).WithField("batch_start", start).Warn("Distillation batch failed")
			for _, in := range inputs {
				stats.Failed++
				r.audit.Record(ctx, contracts.AuditDistillFailure, "assembled_sample", strconv.FormatInt(in.SampleID, 10), err.Error())
			}
			continue
		}

		for _, th := range theses {
			if th.Failed {
				stats.Failed++
				r.audit.Record(ctx, contracts.AuditDistillFailure, "assembled_sample",
					strconv.FormatInt(th.SampleID, 10), th.Structure.Error)
			}
			if err := r.theses.Upsert(ctx, th); err != nil {
				log.WithError(err).WithField("sample_id", th.SampleID).Warn("Failed to store thesis")
				continue
			}
			stats.Written++
		}
	}

	log.WithFields(map[string]interface{}{
		"candidates": stats.Candidates,
		"selected":   stats.Selected,
		"written":    stats.Written,
		"failed":     stats.Failed,
	}).Info("Distillation completed")

	return stats, nil
}
