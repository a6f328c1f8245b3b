package technicals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/store/memory"
)

func makeBars(closes ...float64) []contracts.PriceBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]contracts.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = contracts.PriceBar{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return bars
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestCompute_ShortHistory(t *testing.T) {
	tech := Compute(makeBars(10, 12, 14))

	require.NotNil(t, tech.Latest.MA5)
	assert.InDelta(t, 12.0, *tech.Latest.MA5, 1e-9, "partial window average")
	require.NotNil(t, tech.Latest.MA10)
	assert.InDelta(t, 12.0, *tech.Latest.MA10, 1e-9)
	assert.Nil(t, tech.Latest.RSI14)
	assert.Nil(t, tech.Latest.ATR14)
	assert.Nil(t, tech.Latest.BBUpper)
	assert.Nil(t, tech.Latest.BBLower)

	assert.Equal(t, []float64{10, 12, 14}, tech.Series.Close)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, tech.Series.Dates)
}

func TestCompute_FullWindow(t *testing.T) {
	tech := Compute(makeBars(rising(30)...))
	l := tech.Latest

	require.NotNil(t, l.MA5)
	assert.InDelta(t, 127.0, *l.MA5, 1e-9)
	require.NotNil(t, l.MA10)
	assert.InDelta(t, 124.5, *l.MA10, 1e-9)

	require.NotNil(t, l.EMA12)
	require.NotNil(t, l.EMA26)
	require.NotNil(t, l.MACD)
	assert.InDelta(t, *l.EMA12-*l.EMA26, *l.MACD, 1e-9)
	assert.Greater(t, *l.MACD, 0.0, "uptrend")

	require.NotNil(t, l.RSI14)
	assert.InDelta(t, 100.0, *l.RSI14, 1e-6, "no down days")

	require.NotNil(t, l.ATR14)
	assert.InDelta(t, 2.0, *l.ATR14, 1e-9)

	require.NotNil(t, l.BBUpper)
	require.NotNil(t, l.BBLower)
	assert.Greater(t, *l.BBUpper, *l.BBLower)

	assert.Len(t, tech.Series.Close, SeriesTailLength)
	assert.Equal(t, 129.0, tech.Series.Close[SeriesTailLength-1])
}

func TestCompute_Empty(t *testing.T) {
	tech := Compute(nil)
	assert.Nil(t, tech.Latest.MA5)
	assert.Nil(t, tech.Latest.EMA12)
	assert.Nil(t, tech.Latest.MACD)
	assert.Empty(t, tech.Series.Close)
}

func TestRefresh(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asOf := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := Refresh(ctx, store.Prices, 1, asOf)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	require.NoError(t, store.Prices.Upsert(ctx, &contracts.PriceWindow{AssetID: 1, AsOfDate: asOf, Bars: makeBars(rising(15)...), WindowDays: 15}))

	tech, err := Refresh(ctx, store.Prices, 1, asOf)
	require.NoError(t, err)
	require.NotNil(t, tech.Latest.RSI14)

	w, err := store.Prices.Get(ctx, 1, asOf)
	require.NoError(t, err)
	assert.Equal(t, *tech, w.Technicals)
}
