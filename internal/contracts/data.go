package contracts

import "time"

// CoverageSnapshot summarizes which modalities made it into a set of samples
// ⭐ SSOT: run summary / status 커맨드에서 공통으로 사용
type CoverageSnapshot struct {
	Date         time.Time          `json:"date"`
	TotalSamples int                `json:"total_samples"`
	Coverage     map[string]float64 `json:"coverage"`      // modality → 샘플 중 데이터가 있는 비율
	QualityScore float64            `json:"quality_score"` // 0.0 ~ 1.0 (가중 평균)
	Passed       bool               `json:"passed"`
}

// IsValid checks if the coverage snapshot meets minimum requirements
func (d *CoverageSnapshot) IsValid() bool {
	return d.QualityScore >= 0.5 && d.TotalSamples > 0
}

// CoverageRate returns the average coverage rate across all modalities
func (d *CoverageSnapshot) CoverageRate() float64 {
	if len(d.Coverage) == 0 {
		return 0.0
	}

	total := 0.0
	for _, rate := range d.Coverage {
		total += rate
	}

	return total / float64(len(d.Coverage))
}
