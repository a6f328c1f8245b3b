package labels

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// AttachStats summarizes one labeling pass for an asset
type AttachStats struct {
	SeriesLength int `json:"series_length"`
	ValidSignals int `json:"valid_signals"`
	Samples      int `json:"samples"`
	Labeled      int `json:"labeled"`
}

// Labeler reads an asset's price history, generates labels and attaches them to samples by date
// ⭐ SSOT: sample_label 쓰기는 여기서만
type Labeler struct {
	prices  contracts.PriceWindowRepository
	samples contracts.SampleRepository
	labels  contracts.LabelRepository
	logger  *logger.Logger
	now     func() time.Time
}

// NewLabeler creates a labeler
func NewLabeler(prices contracts.PriceWindowRepository, samples contracts.SampleRepository, labels contracts.LabelRepository, log *logger.Logger) *Labeler {
	return &Labeler{
		prices:  prices,
		samples: samples,
		labels:  labels,
		logger:  log.Component("labels"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SeriesFromWindows flattens stored price windows into one close series.
// Windows overlap; a later window's bar wins for the same date.
func SeriesFromWindows(windows []*contracts.PriceWindow) []PricePoint {
	sort.Slice(windows, func(i, j int) bool { return windows[i].AsOfDate.Before(windows[j].AsOfDate) })

	byDate := make(map[string]PricePoint)
	for _, w := range windows {
		for _, b := range w.Bars {
			d := b.Date.UTC().Format(contracts.DateLayout)
			byDate[d] = PricePoint{Date: dateOnly(b.Date), Close: b.Close}
		}
	}

	series := make([]PricePoint, 0, len(byDate))
	for _, p := range byDate {
		series = append(series, p)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series
}

// Run labels every sample of the asset. Samples without a defined signal on their
// date get no label row; that is an expected outcome and is not logged as an error.
func (l *Labeler) Run(ctx context.Context, asset *contracts.Asset) (AttachStats, error) {
	var stats AttachStats

	windows, err := l.prices.ListByAsset(ctx, asset.ID)
	if err != nil {
		return stats, fmt.Errorf("failed to load price history: %w", err)
	}

	series := SeriesFromWindows(windows)
	stats.SeriesLength = len(series)

	points := Generate(series)
	for _, p := range points {
		if p.Signal != nil {
			stats.ValidSignals++
		}
	}

	attached, samples, err := l.Attach(ctx, asset.ID, points)
	stats.Samples = samples
	stats.Labeled = attached
	if err != nil {
		return stats, err
	}

	l.logger.WithFields(map[string]interface{}{
		"ticker":        asset.Ticker,
		"series_length": stats.SeriesLength,
		"valid_signals": stats.ValidSignals,
		"samples":       stats.Samples,
		"labeled":       stats.Labeled,
	}).Info("Labels attached")

	return stats, nil
}

// Attach upserts a label for every sample whose as_of_date has a defined signal.
// Returns (labels written, samples seen).
func (l *Labeler) Attach(ctx context.Context, assetID int64, points []LabelPoint) (int, int, error) {
	byDate := make(map[string]LabelPoint, len(points))
	for _, p := range points {
		if p.Signal != nil {
			byDate[p.Date.UTC().Format(contracts.DateLayout)] = p
		}
	}

	samples, err := l.samples.ListByAsset(ctx, assetID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list samples: %w", err)
	}

	computedAt := l.now()
	written := 0
	for _, s := range samples {
		p, ok := byDate[s.AsOfDate.UTC().Format(contracts.DateLayout)]
		if !ok {
			continue
		}
		label := &contracts.SampleLabel{
			SampleID:        s.ID,
			CompositeSignal: p.Signal,
			LabelClass:      p.Class,
			Quantile:        p.Quantile,
			ComputedAt:      computedAt,
		}
		if err := l.labels.Upsert(ctx, label); err != nil {
			return written, len(samples), fmt.Errorf("failed to upsert label for sample %d: %w", s.ID, err)
		}
		written++
	}
	return written, len(samples), nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
