package runconfig

import "github.com/wonny/charlie/backend/internal/contracts"

// Profile is the externally configured run profile: per-modality quotas,
// prompt budget, variation count and fetch windows.
type Profile struct {
	Meta           Meta    `yaml:"meta" json:"meta"`
	Quotas         Quotas  `yaml:"quotas" json:"quotas"`
	TokenBudget    int     `yaml:"token_budget" json:"token_budget"`
	VariationCount int     `yaml:"variation_count" json:"variation_count"`
	Distill        Distill `yaml:"distill" json:"distill"`
	Windows        Windows `yaml:"windows" json:"windows"`
}

// Meta 메타 정보
type Meta struct {
	ProfileID string `yaml:"profile_id" json:"profile_id"`
	Version   string `yaml:"version" json:"version"`
}

// Quotas caps rows per modality in one variation
type Quotas struct {
	News         NewsQuota `yaml:"news" json:"news"`
	Fundamentals int       `yaml:"fundamentals" json:"fundamentals"`
	Options      int       `yaml:"options" json:"options"`
	Macro        int       `yaml:"macro" json:"macro"`
	Insider      int       `yaml:"insider" json:"insider"`
	Analyst      int       `yaml:"analyst" json:"analyst"`
}

// NewsQuota caps sampled news per recency bucket
type NewsQuota struct {
	Bucket0to3   int `yaml:"0-3" json:"0-3"`
	Bucket4to10  int `yaml:"4-10" json:"4-10"`
	Bucket11to30 int `yaml:"11-30" json:"11-30"`
}

// For returns the quota of one bucket
func (q NewsQuota) For(b contracts.Bucket) int {
	switch b {
	case contracts.Bucket0to3:
		return q.Bucket0to3
	case contracts.Bucket4to10:
		return q.Bucket4to10
	case contracts.Bucket11to30:
		return q.Bucket11to30
	}
	return 0
}

// Distill controls which samples are sent to the distiller
type Distill struct {
	TargetSamples int `yaml:"target_samples" json:"target_samples"` // every n-th sample, n = max(1, len/target)
	BatchSize     int `yaml:"batch_size" json:"batch_size"`
}

// Windows are the provider look-back windows in calendar days
type Windows struct {
	PriceCalendarDays int `yaml:"price_calendar_days" json:"price_calendar_days"`
	PriceBars         int `yaml:"price_bars" json:"price_bars"`
	NewsDays          int `yaml:"news_days" json:"news_days"`
	NewsAPIDays       int `yaml:"newsapi_days" json:"newsapi_days"`
	MacroDays         int `yaml:"macro_days" json:"macro_days"`
	FundamentalsLimit int `yaml:"fundamentals_limit" json:"fundamentals_limit"`
}

// Default returns the built-in profile used when RUN_PROFILE is empty
func Default() *Profile {
	return &Profile{
		Meta: Meta{ProfileID: "default", Version: "1"},
		Quotas: Quotas{
			News:         NewsQuota{Bucket0to3: 10, Bucket4to10: 6, Bucket11to30: 4},
			Fundamentals: 4,
			Options:      10,
			Macro:        5,
			Insider:      5,
			Analyst:      5,
		},
		TokenBudget:    8192,
		VariationCount: 20,
		Distill:        Distill{TargetSamples: 50, BatchSize: 8},
		Windows: Windows{
			PriceCalendarDays: 21,
			PriceBars:         15,
			NewsDays:          30,
			NewsAPIDays:       7,
			MacroDays:         30,
			FundamentalsLimit: 8,
		},
	}
}
