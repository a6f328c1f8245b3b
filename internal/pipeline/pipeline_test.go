package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/distill"
	"github.com/wonny/charlie/backend/internal/export"
	"github.com/wonny/charlie/backend/internal/fetcher"
	"github.com/wonny/charlie/backend/internal/runconfig"
	"github.com/wonny/charlie/backend/internal/store/memory"
	"github.com/wonny/charlie/backend/pkg/logger"
)

func day(s string) time.Time {
	d, _ := time.Parse(contracts.DateLayout, s)
	return d
}

// history is a deterministic weekday close series from 2024-04-01 to 2024-09-30
func history() []contracts.PriceBar {
	var bars []contracts.PriceBar
	i := 0
	for d := day("2024-04-01"); !d.After(day("2024-09-30")); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		c := 100 + 5*math.Sin(float64(i)/3) + 0.1*float64(i)
		bars = append(bars, contracts.PriceBar{Date: d, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000})
		i++
	}
	return bars
}

type historyPrices struct{}

func (historyPrices) FetchBars(ctx context.Context, ticker string, asOf time.Time) ([]contracts.PriceBar, error) {
	var out []contracts.PriceBar
	for _, b := range history() {
		if !b.Date.After(asOf) {
			out = append(out, b)
		}
	}
	if len(out) > 15 {
		out = out[len(out)-15:]
	}
	return out, nil
}

type headlineNews struct{}

func (headlineNews) Name() string { return "stub" }

func (headlineNews) FetchNews(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.RawNews, error) {
	published := asOf.Add(-24 * time.Hour).Add(15 * time.Hour)
	return []*contracts.RawNews{{
		AssetID:     asset.ID,
		Source:      "stub",
		Headline:    asset.Ticker + " beats estimates",
		Snippet:     "Quarterly results for " + asset.Ticker,
		URL:         "https://example.com/" + asset.Ticker + "/" + asOf.Format(contracts.DateLayout),
		PublishedAt: published,
		DedupeHash:  asset.Ticker + asOf.Format(contracts.DateLayout),
	}}, nil
}

// failingBackend rejects writes for one ticker
type failingBackend struct {
	export.Backend
	ticker string
}

func (b failingBackend) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if strings.Contains(key, "/"+b.ticker+"/") {
		return "", errors.New("disk full")
	}
	return b.Backend.Put(ctx, key, body, contentType)
}

// seedHistory stores a late window carrying the full series so labels have forward history
func seedHistory(t *testing.T, store *contracts.Store, tickers ...string) {
	t.Helper()
	ctx := context.Background()
	for _, ticker := range tickers {
		asset, err := store.Assets.Upsert(ctx, ticker, "")
		require.NoError(t, err)
		require.NoError(t, store.Prices.Upsert(ctx, &contracts.PriceWindow{
			AssetID:    asset.ID,
			AsOfDate:   day("2024-09-30"),
			Bars:       history(),
			WindowDays: len(history()),
		}))
	}
}

func newPipeline(store *contracts.Store, backend export.Backend) *Pipeline {
	log := logger.Nop()
	profile := runconfig.Default()
	in := fetcher.NewIngestor(store, fetcher.Sources{
		News:   []fetcher.NewsFetcher{headlineNews{}},
		Prices: historyPrices{},
	}, profile.Windows, log)

	var exp *export.Exporter
	if backend != nil {
		exp = export.NewExporter(store.Export, backend, log)
	}
	return New(Deps{
		Store:     store,
		Profile:   profile,
		Ingestor:  in,
		Distiller: distill.NewStubDistiller(),
		Exporter:  exp,
		Logger:    log,
	})
}

func TestResolve(t *testing.T) {
	profile := runconfig.Default()

	plan, err := RunParams{
		Tickers:   []string{" aapl", "NVDA,aapl", ""},
		StartDate: "2024-06-01",
		EndDate:   "2024-06-03",
		Seed:      "42",
	}.Resolve(profile)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "NVDA"}, plan.Tickers)
	assert.Equal(t, []time.Time{day("2024-06-01"), day("2024-06-02"), day("2024-06-03")}, plan.Dates)
	assert.Equal(t, contracts.RunTypeFullBackfill, plan.RunType)
	assert.Equal(t, int64(42), plan.Seed)
	assert.Equal(t, profile.VariationCount, plan.VariationCount)
	assert.Equal(t, profile.TokenBudget, plan.TokenBudget)

	single, err := RunParams{Tickers: []string{"AAPL"}, AsOfDate: "2024-06-03", VariationCount: 3}.Resolve(profile)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunTypeSingleDate, single.RunType)
	assert.Equal(t, DefaultSeed, single.Seed)
	assert.Equal(t, 3, single.VariationCount)
	assert.Len(t, single.Dates, 1)
}

func TestResolve_Invalid(t *testing.T) {
	profile := runconfig.Default()

	tests := []struct {
		name   string
		params RunParams
		field  string
	}{
		{"no dates", RunParams{Tickers: []string{"AAPL"}}, "as_of_date"},
		{"start only", RunParams{Tickers: []string{"AAPL"}, StartDate: "2024-06-01"}, "as_of_date"},
		{"no tickers", RunParams{Tickers: []string{" ", ""}, AsOfDate: "2024-06-01"}, "tickers"},
		{"malformed seed", RunParams{Tickers: []string{"AAPL"}, AsOfDate: "2024-06-01", Seed: "abc"}, "seed"},
		{"malformed date", RunParams{Tickers: []string{"AAPL"}, AsOfDate: "06/01/2024"}, "as_of_date"},
		{"start after end", RunParams{Tickers: []string{"AAPL"}, StartDate: "2024-06-05", EndDate: "2024-06-01"}, "start_date"},
		{"negative variations", RunParams{Tickers: []string{"AAPL"}, AsOfDate: "2024-06-01", VariationCount: -1}, "variation_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.params.Resolve(profile)
			require.Error(t, err)
			assert.ErrorIs(t, err, contracts.ErrInvalidRunParams)

			var verr contracts.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDateRange(t *testing.T) {
	assert.Len(t, DateRange(day("2024-02-27"), day("2024-03-01")), 4)
	assert.Len(t, DateRange(day("2024-06-01"), day("2024-06-01")), 1)
	assert.Empty(t, DateRange(day("2024-06-02"), day("2024-06-01")))
}

func TestNewRunName(t *testing.T) {
	name := NewRunName()
	assert.Regexp(t, regexp.MustCompile(`^charlie_run_[0-9a-f]{8}$`), name)
	assert.NotEqual(t, name, NewRunName())
}

func TestJoin(t *testing.T) {
	ok := TickerResult{Ticker: "AAPL", Samples: 4, Labels: 2, Artifacts: []string{"a", "b", "c"}}
	bad := TickerResult{Ticker: "NVDA", Samples: 1, Err: errors.New("boom")}

	tests := []struct {
		name    string
		results []TickerResult
		status  string
	}{
		{"all succeeded", []TickerResult{ok}, contracts.RunStatusSuccess},
		{"mixed", []TickerResult{ok, bad}, contracts.RunStatusPartial},
		{"all failed", []TickerResult{bad}, contracts.RunStatusFailed},
		{"nothing completed", nil, contracts.RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, Join(tt.results).Status)
		})
	}

	s := Join([]TickerResult{ok, bad})
	assert.Equal(t, 5, s.Samples)
	assert.Equal(t, 2, s.Labels)
	assert.Equal(t, []string{"AAPL"}, s.Succeeded)
	assert.Equal(t, "boom", s.Failed["NVDA"])
	assert.Equal(t, map[string][]string{"AAPL": {"a", "b", "c"}}, s.Artifacts)
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedHistory(t, store, "AAPL", "NVDA")
	root := t.TempDir()

	p := newPipeline(store, export.NewLocalBackend(root))
	summary, err := p.Run(ctx, RunParams{
		Tickers:        []string{"aapl", "nvda"},
		StartDate:      "2024-06-03",
		EndDate:        "2024-06-05",
		VariationCount: 2,
		TokenBudget:    2000,
		Workers:        2,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.RunStatusSuccess, summary.Status)
	assert.Equal(t, contracts.RunTypeFullBackfill, summary.RunType)
	assert.Equal(t, []string{"AAPL", "NVDA"}, summary.Succeeded)
	assert.Equal(t, 3, summary.Dates)
	assert.Equal(t, 2*3*2, summary.Samples)
	assert.Equal(t, 2*3*2, summary.Labels)
	assert.Equal(t, 2*3*2, summary.Theses)

	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		require.NoError(t, r.Err)
		require.Len(t, r.Artifacts, 3)
		assert.True(t, strings.HasSuffix(r.Artifacts[2], export.MarkerName))
		for _, uri := range r.Artifacts {
			_, err := os.Stat(strings.TrimPrefix(uri, "file://"))
			assert.NoError(t, err, uri)
		}
		require.NotNil(t, r.Coverage)
		assert.Equal(t, 1.0, r.Coverage.Coverage["technicals"])

		stages := make([]contracts.Stage, 0, len(r.Stages))
		for _, s := range r.Stages {
			assert.True(t, s.Success, s.Stage)
			stages = append(stages, s.Stage)
		}
		assert.Equal(t, contracts.AllStages(), stages)
	}

	run, err := store.Runs.Get(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusSuccess, run.Status)
	assert.Equal(t, summary.RunName, run.RunName)
	assert.NotEmpty(t, run.ConfigHash)
	require.NotNil(t, run.FinishedAt)
	assert.Len(t, run.Artifacts["AAPL"], 3)
	assert.Contains(t, run.Summary, "stages")
	assert.NotContains(t, run.Summary, "results")

	// 같은 파라미터 재실행은 샘플 수를 늘리지 않는다
	_, err = p.Run(ctx, RunParams{Tickers: []string{"AAPL"}, StartDate: "2024-06-03", EndDate: "2024-06-05", VariationCount: 2, TokenBudget: 2000, SkipExport: true})
	require.NoError(t, err)
	asset, err := store.Assets.GetByTicker(ctx, "AAPL")
	require.NoError(t, err)
	samples, err := store.Samples.ListByAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, samples, 6)
}

func TestRun_Deterministic(t *testing.T) {
	ctx := context.Background()
	params := RunParams{Tickers: []string{"AAPL"}, AsOfDate: "2024-06-04", VariationCount: 3, TokenBudget: 2000, Seed: "7", SkipDistill: true}

	prompts := func() []string {
		store := memory.New()
		seedHistory(t, store, "AAPL")
		_, err := newPipeline(store, nil).Run(ctx, params)
		require.NoError(t, err)
		asset, err := store.Assets.GetByTicker(ctx, "AAPL")
		require.NoError(t, err)
		samples, err := store.Samples.ListByAsset(ctx, asset.ID)
		require.NoError(t, err)
		var out []string
		for _, s := range samples {
			out = append(out, s.PromptText)
		}
		return out
	}

	first := prompts()
	require.Len(t, first, 3)
	assert.Equal(t, first, prompts())
}

func TestRun_PartialOnTickerFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	root := t.TempDir()

	p := newPipeline(store, failingBackend{Backend: export.NewLocalBackend(root), ticker: "NVDA"})
	summary, err := p.Run(ctx, RunParams{
		Tickers:        []string{"AAPL", "NVDA"},
		AsOfDate:       "2024-06-04",
		VariationCount: 1,
		TokenBudget:    2000,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.RunStatusPartial, summary.Status)
	assert.Equal(t, []string{"AAPL"}, summary.Succeeded)
	assert.Contains(t, summary.Failed["NVDA"], "disk full")
	assert.Contains(t, summary.Artifacts, "AAPL")
	assert.NotContains(t, summary.Artifacts, "NVDA")

	_, err = os.Stat(filepath.Join(root, "exports", "NVDA", export.MarkerName))
	assert.True(t, os.IsNotExist(err))

	run, err := store.Runs.Get(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusPartial, run.Status)
}

func TestRun_InvalidParams(t *testing.T) {
	store := memory.New()
	_, err := newPipeline(store, nil).Run(context.Background(), RunParams{Tickers: []string{"AAPL"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidRunParams)

	runs, err := store.Runs.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := memory.New()
	summary, err := newPipeline(store, nil).Run(ctx, RunParams{Tickers: []string{"AAPL", "MSFT"}, AsOfDate: "2024-06-04"})
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusFailed, summary.Status)
	assert.Len(t, summary.Failed, 2)

	run, err := store.Runs.Get(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusFailed, run.Status)
}

// brokenNews returns one record per ticker whose timestamp cannot be parsed
type brokenNews struct{}

func (brokenNews) Name() string { return "broken" }

func (brokenNews) FetchNews(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.RawNews, error) {
	return []*contracts.RawNews{{
		AssetID:      asset.ID,
		Source:       "broken",
		Headline:     asset.Ticker + " story with a bad timestamp",
		PublishedRaw: "yesterday-ish",
		DedupeHash:   "broken-" + asset.Ticker,
	}}, nil
}

func TestRun_AuditCountsArePerRun(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	log := logger.Nop()
	profile := runconfig.Default()
	in := fetcher.NewIngestor(store, fetcher.Sources{
		News:   []fetcher.NewsFetcher{brokenNews{}},
		Prices: historyPrices{},
	}, profile.Windows, log)
	p := New(Deps{Store: store, Profile: profile, Ingestor: in, Distiller: distill.NewStubDistiller(), Logger: log})

	tickers := []string{"AAPL", "MSFT"}
	summaries := make([]*RunSummary, len(tickers))
	var wg sync.WaitGroup
	for i, ticker := range tickers {
		wg.Add(1)
		go func(i int, ticker string) {
			defer wg.Done()
			s, err := p.Run(ctx, RunParams{Tickers: []string{ticker}, AsOfDate: "2024-06-04", VariationCount: 1, TokenBudget: 2000, SkipExport: true})
			assert.NoError(t, err)
			summaries[i] = s
		}(i, ticker)
	}
	wg.Wait()

	entries, err := store.Audit.List(ctx, contracts.AuditParseFailure, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, s := range summaries {
		require.NotNil(t, s)
		assert.Equal(t, 1, s.Audit[string(contracts.AuditParseFailure)], s.RunName)

		tagged := 0
		for _, e := range entries {
			if e.RunID != nil && *e.RunID == s.RunID {
				tagged++
			}
		}
		assert.Equal(t, 1, tagged, s.RunName)
	}
}
