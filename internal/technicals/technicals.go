// Package technicals computes the indicator snapshot stored with each price window.
package technicals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// SeriesTailLength is how many closes are kept in the snapshot series
const SeriesTailLength = 15

// Compute builds the snapshot from bars ordered by date ascending.
// An indicator whose history is too short is left nil.
func Compute(bars []contracts.PriceBar) contracts.Technicals {
	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	var snap contracts.IndicatorSnapshot
	snap.MA5 = partialMA(closes, 5)
	snap.MA10 = partialMA(closes, 10)
	snap.EMA12 = ema(closes, 12)
	snap.EMA26 = ema(closes, 26)
	if snap.EMA12 != nil && snap.EMA26 != nil {
		snap.MACD = ptr(*snap.EMA12 - *snap.EMA26)
	}
	snap.RSI14 = rsi(closes, 14)
	snap.ATR14 = atr(highs, lows, closes, 14)
	snap.BBUpper, snap.BBLower = bollinger(closes, 20, 2)

	return contracts.Technicals{
		Latest: snap,
		Series: tail(bars, SeriesTailLength),
	}
}

// Refresh recomputes and stores the snapshot of one stored window
func Refresh(ctx context.Context, repo contracts.PriceWindowRepository, assetID int64, asOf time.Time) (*contracts.Technicals, error) {
	w, err := repo.Get(ctx, assetID, asOf)
	if err != nil {
		return nil, err
	}
	t := Compute(w.Bars)
	if err := repo.UpdateTechnicals(ctx, assetID, asOf, t); err != nil {
		return nil, fmt.Errorf("failed to store technicals: %w", err)
	}
	return &t, nil
}

// partialMA is the mean of the last `length` closes, or of all of them when fewer exist
func partialMA(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}
	if len(closes) >= length {
		return last(talib.Sma(closes, length))
	}
	sum := 0.0
	for _, c := range closes {
		sum += c
	}
	return ptr(sum / float64(len(closes)))
}

// ema falls back to the plain average while history is shorter than the period
func ema(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}
	if len(closes) < length {
		return partialMA(closes, length)
	}
	return last(talib.Ema(closes, length))
}

func rsi(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	return last(talib.Rsi(closes, length))
}

func atr(highs, lows, closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	return last(talib.Atr(highs, lows, closes, length))
}

func bollinger(closes []float64, length int, k float64) (*float64, *float64) {
	if len(closes) < length {
		return nil, nil
	}
	upper, _, lower := talib.BBands(closes, length, k, k, talib.SMA)
	return last(upper), last(lower)
}

func tail(bars []contracts.PriceBar, n int) contracts.SeriesTail {
	start := 0
	if len(bars) > n {
		start = len(bars) - n
	}
	out := contracts.SeriesTail{
		Close: make([]float64, 0, len(bars)-start),
		Dates: make([]string, 0, len(bars)-start),
	}
	for _, b := range bars[start:] {
		out.Close = append(out.Close, b.Close)
		out.Dates = append(out.Dates, b.Date.UTC().Format(contracts.DateLayout))
	}
	return out
}

func last(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func ptr(v float64) *float64 {
	return &v
}
