package runconfig

import (
	"github.com/wonny/charlie/backend/internal/contracts"
)

// Validate checks all required constraints
// 실패 시 error 반환 (실행 중단)
func Validate(p *Profile) error {
	// === Meta ===
	if p.Meta.ProfileID == "" {
		return contracts.ValidationError{Field: "meta.profile_id", Message: "required"}
	}

	// === Quotas ===
	quotas := []struct {
		field string
		value int
	}{
		{"quotas.news.0-3", p.Quotas.News.Bucket0to3},
		{"quotas.news.4-10", p.Quotas.News.Bucket4to10},
		{"quotas.news.11-30", p.Quotas.News.Bucket11to30},
		{"quotas.fundamentals", p.Quotas.Fundamentals},
		{"quotas.options", p.Quotas.Options},
		{"quotas.macro", p.Quotas.Macro},
		{"quotas.insider", p.Quotas.Insider},
		{"quotas.analyst", p.Quotas.Analyst},
	}
	for _, q := range quotas {
		if q.value < 0 {
			return contracts.ValidationError{Field: q.field, Message: "must be >= 0"}
		}
	}

	// === Prompt ===
	if p.TokenBudget <= 0 {
		return contracts.ValidationError{Field: "token_budget", Message: "must be > 0"}
	}
	if p.VariationCount <= 0 {
		return contracts.ValidationError{Field: "variation_count", Message: "must be > 0"}
	}

	// === Distill ===
	if p.Distill.TargetSamples <= 0 {
		return contracts.ValidationError{Field: "distill.target_samples", Message: "must be > 0"}
	}
	if p.Distill.BatchSize <= 0 {
		return contracts.ValidationError{Field: "distill.batch_size", Message: "must be > 0"}
	}

	// === Windows ===
	w := p.Windows
	if w.PriceBars <= 0 || w.PriceCalendarDays < w.PriceBars {
		return contracts.ValidationError{Field: "windows.price", Message: "price_calendar_days must be >= price_bars > 0"}
	}
	if w.NewsDays <= 0 || w.NewsDays > 30 {
		return contracts.ValidationError{Field: "windows.news_days", Message: "must be in (0, 30]"}
	}
	if w.NewsAPIDays <= 0 || w.NewsAPIDays > w.NewsDays {
		return contracts.ValidationError{Field: "windows.newsapi_days", Message: "must be in (0, news_days]"}
	}
	if w.MacroDays <= 0 {
		return contracts.ValidationError{Field: "windows.macro_days", Message: "must be > 0"}
	}
	if w.FundamentalsLimit <= 0 {
		return contracts.ValidationError{Field: "windows.fundamentals_limit", Message: "must be > 0"}
	}

	return nil
}
