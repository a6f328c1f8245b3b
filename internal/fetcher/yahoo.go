package fetcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// BarSource loads daily bars for a Yahoo period ("1mo", "1y", ...)
type BarSource func(symbol, period string) ([]contracts.PriceBar, error)

// YahooFetcher fetches daily OHLCV via go-yfinance
type YahooFetcher struct {
	source       BarSource
	calendarDays int
	bars         int
	now          func() time.Time
}

// NewYahooFetcher creates a Yahoo fetcher returning the last `bars` trading days
// found in the `calendarDays` ending at the as-of date
func NewYahooFetcher(calendarDays, bars int) *YahooFetcher {
	return &YahooFetcher{source: yfinanceHistory, calendarDays: calendarDays, bars: bars, now: time.Now}
}

// yfinanceHistory is the go-yfinance implementation of BarSource
func yfinanceHistory(symbol, period string) ([]contracts.PriceBar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices: %w", err)
	}

	out := make([]contracts.PriceBar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, contracts.PriceBar{
			Date:   civilDate(bar.Date),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}
	return out, nil
}

// FetchBars returns at most `bars` daily bars dated in [asOf-calendarDays, asOf], ascending
func (f *YahooFetcher) FetchBars(ctx context.Context, symbol string, asOf time.Time) ([]contracts.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := civilDate(asOf)
	start := end.AddDate(0, 0, -f.calendarDays)

	all, err := f.source(symbol, periodCovering(civilDate(f.now()).Sub(start)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", ProviderYahoo, contracts.ErrFetchFailure, err)
	}

	var window []contracts.PriceBar
	for _, b := range all {
		d := civilDate(b.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		b.Date = d
		window = append(window, b)
	}
	sort.Slice(window, func(i, j int) bool { return window[i].Date.Before(window[j].Date) })

	if len(window) > f.bars {
		window = window[len(window)-f.bars:]
	}
	return window, nil
}

// periodCovering picks the smallest Yahoo period reaching back at least span
func periodCovering(span time.Duration) string {
	days := int(span.Hours()/24) + 1
	switch {
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	case days <= 730:
		return "2y"
	case days <= 1825:
		return "5y"
	case days <= 3650:
		return "10y"
	}
	return "max"
}
