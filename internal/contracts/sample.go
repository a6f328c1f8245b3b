package contracts

import (
	"sort"
	"time"
)

// AssembledSample is one prompt variation for (asset, as_of_date).
// Identity: (AssetID, AsOfDate, VariationID).
type AssembledSample struct {
	ID           int64       `json:"sample_id"`
	AssetID      int64       `json:"asset_id"`
	Ticker       string      `json:"ticker"`
	AsOfDate     time.Time   `json:"as_of_date"`
	VariationID  int         `json:"variation_id"`
	AsOfCutoff   time.Time   `json:"as_of_cutoff"`
	RunID        *int64      `json:"run_id,omitempty"`
	PromptText   string      `json:"prompt_text"`
	PromptTokens int         `json:"prompt_tokens"`
	SourcesMeta  SourcesMeta `json:"sources_meta"`
}

// SourcesMeta records per-modality coverage and provenance of a sample
type SourcesMeta struct {
	RunID         *int64            `json:"run_id,omitempty"`
	Seed          int64             `json:"seed"`
	VariationSeed uint64            `json:"variation_seed"`
	Cutoff        time.Time         `json:"cutoff"`
	Technicals    TechnicalsMeta    `json:"technicals"`
	News          NewsMeta          `json:"news"`
	Fundamentals  ModalityMeta      `json:"fundamentals"`
	Options       ModalityMeta      `json:"options"`
	Macro         ModalityMeta      `json:"macro"`
	Insider       ModalityMeta      `json:"insider"`
	Analyst       ModalityMeta      `json:"analyst"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// TechnicalsMeta describes the price window used
type TechnicalsMeta struct {
	Included    bool   `json:"included"`
	WindowDays  int    `json:"window_days"`
	LastBarDate string `json:"last_bar_date,omitempty"`
}

// NewsMeta counts sampled news per bucket
type NewsMeta struct {
	Count    int            `json:"count"`
	ByBucket map[Bucket]int `json:"by_bucket"`
	Sources  []string       `json:"sources"`
	Dates    []string       `json:"dates"`
}

// ModalityMeta counts rows of one non-news modality
type ModalityMeta struct {
	Count   int      `json:"count"`
	Sources []string `json:"sources,omitempty"`
	Dates   []string `json:"dates"`
}

// ReferencedDates returns every date mentioned in the metadata, sorted
func (m *SourcesMeta) ReferencedDates() []string {
	var dates []string
	if m.Technicals.LastBarDate != "" {
		dates = append(dates, m.Technicals.LastBarDate)
	}
	dates = append(dates, m.News.Dates...)
	for _, mm := range []ModalityMeta{m.Fundamentals, m.Options, m.Macro, m.Insider, m.Analyst} {
		dates = append(dates, mm.Dates...)
	}
	sort.Strings(dates)
	return dates
}

// HasModality reports whether the named modality contributed at least one row
func (m *SourcesMeta) HasModality(name string) bool {
	switch name {
	case "technicals":
		return m.Technicals.Included
	case "news":
		return m.News.Count > 0
	case "fundamentals":
		return m.Fundamentals.Count > 0
	case "options":
		return m.Options.Count > 0
	case "macro":
		return m.Macro.Count > 0
	case "insider":
		return m.Insider.Count > 0
	case "analyst":
		return m.Analyst.Count > 0
	}
	return false
}

// Modalities lists modality names in prompt order
func Modalities() []string {
	return []string{"technicals", "news", "fundamentals", "options", "macro", "insider", "analyst"}
}

// SampleLabel is the forward-looking outcome attached to a sample by date.
// Absent (no row) when there is not enough forward history.
type SampleLabel struct {
	SampleID        int64     `json:"sample_id"`
	CompositeSignal *float64  `json:"composite_signal"`
	LabelClass      *int      `json:"label_class"`
	Quantile        *float64  `json:"quantile"`
	ComputedAt      time.Time `json:"computed_at"`
}

// DistilledThesis is whatever the distillation collaborator returned for a sample
type DistilledThesis struct {
	SampleID    int64           `json:"sample_id"`
	ThesisText  string          `json:"thesis_text"`
	Structure   ThesisStructure `json:"thesis_structure"`
	SourceModel string          `json:"source_model,omitempty"`
	Failed      bool            `json:"failed"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ThesisStructure is the parsed form of a thesis
type ThesisStructure struct {
	Claims     []string `json:"claims"`
	Evidence   []string `json:"evidence"`
	Summary    string   `json:"summary"`
	Model      string   `json:"model,omitempty"`
	TokensUsed int64    `json:"tokens_used,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ExportRow is one sample joined with its label and thesis (either may be absent)
type ExportRow struct {
	Sample AssembledSample  `json:"sample"`
	Label  *SampleLabel     `json:"label,omitempty"`
	Thesis *DistilledThesis `json:"thesis,omitempty"`
}
