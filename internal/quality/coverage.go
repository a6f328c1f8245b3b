package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// Config holds quality gate thresholds
type Config struct {
	MinTechnicalsCoverage float64 `yaml:"min_technicals_coverage"` // 0.9
	MinNewsCoverage       float64 `yaml:"min_news_coverage"`       // 0.5
	MinScore              float64 `yaml:"min_score"`               // 0.5
}

// DefaultConfig returns the thresholds used by runs and the status command
func DefaultConfig() Config {
	return Config{
		MinTechnicalsCoverage: 0.9,
		MinNewsCoverage:       0.5,
		MinScore:              0.5,
	}
}

// weights 가중치 (합계 = 1.0)
var weights = map[string]float64{
	"technicals":   0.30, // 가격 윈도우 필수
	"news":         0.30,
	"fundamentals": 0.10,
	"options":      0.10,
	"macro":        0.10,
	"insider":      0.05,
	"analyst":      0.05,
}

// Gate scores modality coverage of assembled samples
type Gate struct {
	config Config
}

// NewGate creates a new Gate
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Check computes the coverage snapshot of a set of samples.
// ⭐ SSOT: 샘플 → 커버리지 스냅샷
func (g *Gate) Check(samples []*contracts.AssembledSample, date time.Time) *contracts.CoverageSnapshot {
	snapshot := &contracts.CoverageSnapshot{
		Date:         date,
		TotalSamples: len(samples),
		Coverage:     make(map[string]float64, len(weights)),
	}

	for _, m := range contracts.Modalities() {
		snapshot.Coverage[m] = 0
	}
	if len(samples) == 0 {
		return snapshot
	}

	counts := make(map[string]int)
	for _, s := range samples {
		for _, m := range contracts.Modalities() {
			if s.SourcesMeta.HasModality(m) {
				counts[m]++
			}
		}
	}
	for m, n := range counts {
		snapshot.Coverage[m] = float64(n) / float64(len(samples))
	}

	snapshot.QualityScore = calculateScore(snapshot.Coverage)
	snapshot.Passed = snapshot.QualityScore >= g.config.MinScore &&
		snapshot.Coverage["technicals"] >= g.config.MinTechnicalsCoverage &&
		snapshot.Coverage["news"] >= g.config.MinNewsCoverage

	return snapshot
}

// CheckAsset loads every sample of an asset and scores it
func (g *Gate) CheckAsset(ctx context.Context, repo contracts.SampleRepository, asset *contracts.Asset, date time.Time) (*contracts.CoverageSnapshot, error) {
	samples, err := repo.ListByAsset(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("list samples for %s: %w", asset.Ticker, err)
	}
	return g.Check(samples, date), nil
}

// calculateScore calculates overall quality score using weighted average
func calculateScore(coverage map[string]float64) float64 {
	score := 0.0
	for key, weight := range weights {
		if cov, exists := coverage[key]; exists {
			score += cov * weight
		}
	}
	return score
}
