package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/runconfig"
	"github.com/wonny/charlie/backend/internal/store/memory"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/httputil"
	"github.com/wonny/charlie/backend/pkg/logger"
)

var (
	aapl  = &contracts.Asset{ID: 1, Ticker: "AAPL", CompanyName: "Apple Inc."}
	asOf  = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	fixed = func() time.Time { return time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC) }
)

func testClient() *httputil.Client {
	return httputil.New(&config.Config{HTTPTimeout: 5 * time.Second}, logger.Nop()).
		WithPolicy(httputil.RetryPolicy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func serve(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"payment required", http.StatusPaymentRequired, contracts.ErrTierRestricted},
		{"forbidden", http.StatusForbidden, contracts.ErrTierRestricted},
		{"upgrade required", http.StatusUpgradeRequired, contracts.ErrTierRestricted},
		{"too many requests", http.StatusTooManyRequests, contracts.ErrQuotaExceeded},
		{"server error", http.StatusBadGateway, contracts.ErrFetchFailure},
		{"not found", http.StatusNotFound, contracts.ErrFetchFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("x", &httputil.StatusError{StatusCode: tt.status})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, classify("x", errors.New("dial tcp: refused")), contracts.ErrFetchFailure)
	assert.Equal(t, context.Canceled, classify("x", context.Canceled))
	assert.NoError(t, classify("x", nil))
}

func TestFinnhubFetchNews(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/company-news", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"datetime": 1717200000, "headline": "Apple unveils new chip", "summary": "<p>AAPL shares rise</p>", "url": "https://x/1", "source": "Reuters"},
			{"datetime": 0, "headline": "Undated", "summary": "", "url": "https://x/2"}
		]`))
	}))
	defer srv.Close()

	f := NewFinnhubFetcher(testClient(), "key", srv.URL, 30)
	f.now = fixed

	items, err := f.FetchNews(context.Background(), aapl, asOf)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Contains(t, gotQuery, "from=2024-05-04")
	assert.Contains(t, gotQuery, "to=2024-06-03")
	assert.Contains(t, gotQuery, "symbol=AAPL")

	assert.Equal(t, ProviderFinnhub, items[0].Source)
	assert.Equal(t, time.Unix(1717200000, 0).UTC(), items[0].PublishedAt)
	assert.Len(t, items[0].DedupeHash, 64)
	assert.True(t, items[1].PublishedAt.IsZero())

	payload, err := DecodePayload(items[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "Reuters", payload["source"])
}

func TestFinnhubFetchNews_RetriesThenFails(t *testing.T) {
	srv, hits := serve(t, http.StatusServiceUnavailable, "down")

	f := NewFinnhubFetcher(testClient(), "key", srv.URL, 30)
	_, err := f.FetchNews(context.Background(), aapl, asOf)
	assert.ErrorIs(t, err, contracts.ErrFetchFailure)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestFinnhubFetchNews_QuotaExceeded(t *testing.T) {
	srv, hits := serve(t, http.StatusTooManyRequests, "slow down")

	f := NewFinnhubFetcher(testClient(), "key", srv.URL, 30)
	_, err := f.FetchNews(context.Background(), aapl, asOf)
	assert.ErrorIs(t, err, contracts.ErrQuotaExceeded)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestNewsAPIFetchNews(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"status":"ok","articles":[
		{"source":{"name":"CNBC"},"title":"Apple stock climbs","description":"AAPL up 2%","url":"https://c/1","publishedAt":"2024-06-02T14:00:00Z"}
	]}`)

	f := NewNewsAPIFetcher(testClient(), "key", srv.URL, 7)
	f.now = fixed

	items, err := f.FetchNews(context.Background(), aapl, asOf)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "2024-06-02T14:00:00Z", items[0].PublishedRaw)
	assert.Equal(t, "en", items[0].Language)
}

func TestNewsAPIFetchNews_TooOld(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `{"status":"ok","articles":[]}`)

	f := NewNewsAPIFetcher(testClient(), "key", srv.URL, 7)
	f.now = func() time.Time { return asOf.AddDate(0, 0, 29) }

	_, err := f.FetchNews(context.Background(), aapl, asOf)
	assert.ErrorIs(t, err, contracts.ErrTierRestricted)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestFMPFetchers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/income-statement", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "8", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"date":"2024-03-30","filingDate":"2024-05-03","acceptedDate":"2024-05-02 18:04:09","period":"Q2","reportedCurrency":"USD","revenue":90753000000,"netIncome":"23636000000","ebitda":null,"eps":1.53},
			{"date":"2023-12-30","acceptedDate":"2024-02-01 18:03:12","period":"Q1","reportedCurrency":"USD","revenue":119575000000}
		]`))
	})
	mux.HandleFunc("/grades", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"date":"2024-05-31","gradingCompany":"Morgan Stanley","newGrade":"Overweight","action":"maintain"}]`))
	})
	mux.HandleFunc("/insider-trading", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`Premium endpoint`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFMPFetcher(testClient(), "key", srv.URL)
	f.now = fixed
	ctx := context.Background()

	funds, err := f.FetchFundamentals(ctx, aapl, asOf, 8)
	require.NoError(t, err)
	require.Len(t, funds, 2)
	assert.Equal(t, "Q2", funds[0].PeriodType)
	require.NotNil(t, funds[0].FilingDate)
	assert.Equal(t, "2024-05-03", funds[0].FilingDate.Format(contracts.DateLayout))
	require.NotNil(t, funds[1].FilingDate)
	assert.Equal(t, "2024-02-01", funds[1].PublicOn().Format(contracts.DateLayout), "acceptedDate when filingDate is missing")
	require.NotNil(t, funds[0].Metrics.NetIncome)
	assert.InDelta(t, 23636000000.0, *funds[0].Metrics.NetIncome, 1)
	assert.Nil(t, funds[0].Metrics.EBITDA)

	grades, err := f.FetchAnalyst(ctx, aapl, asOf)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, "Morgan Stanley", grades[0].Firm)

	_, err = f.FetchInsider(ctx, aapl, asOf)
	assert.ErrorIs(t, err, contracts.ErrTierRestricted)
}

func TestFMPErrorMessageBody(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"Error Message":"Special Endpoint : this endpoint requires a Premium subscription"}`)

	f := NewFMPFetcher(testClient(), "key", srv.URL)
	_, err := f.FetchAnalyst(context.Background(), aapl, asOf)
	assert.ErrorIs(t, err, contracts.ErrTierRestricted)
}

func TestEODHDOptions(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `{"code":"AAPL.US","data":[
		{"expirationDate":"2024-06-21","type":"CALL","strike":195,"openInterest":"1200","impliedVolatility":0.21,"underlyingPrice":194.03}
	]}`)

	f := NewEODHDFetcher(testClient(), "key", srv.URL)

	f.now = fixed
	_, err := f.FetchOptions(context.Background(), aapl, asOf)
	assert.ErrorIs(t, err, contracts.ErrTierRestricted)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))

	f.now = func() time.Time { return asOf.Add(15 * time.Hour) }
	opts, err := f.FetchOptions(context.Background(), aapl, asOf)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "call", opts[0].OptionType)
	assert.Equal(t, int64(1200), opts[0].OpenInterest)
	assert.Equal(t, asOf, opts[0].AsOfDate)
}

func TestEODHDMacro(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `[
		{"type":"Nonfarm Payrolls","country":"US","date":"2024-06-07 12:30:00","actual":272,"estimate":180,"previous":"165"},
		{"type":"","country":"US","date":"2024-06-07"},
		{"type":"CPI","country":"US","date":"bad"}
	]`)

	f := NewEODHDFetcher(testClient(), "key", srv.URL)
	f.now = fixed

	events, err := f.FetchMacro(context.Background(), asOf.AddDate(0, 0, -30), asOf)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Nonfarm Payrolls", events[0].EventName)
	require.NotNil(t, events[0].Forecast)
	assert.Equal(t, 180.0, *events[0].Forecast)
	require.NotNil(t, events[0].Previous)
	assert.Equal(t, 165.0, *events[0].Previous)
}

func TestYahooFetchBars(t *testing.T) {
	var gotPeriod string
	f := NewYahooFetcher(21, 15)
	f.now = fixed
	f.source = func(symbol, period string) ([]contracts.PriceBar, error) {
		gotPeriod = period
		var bars []contracts.PriceBar
		for d := asOf.AddDate(0, 0, -40); !d.After(asOf.AddDate(0, 0, 2)); d = d.AddDate(0, 0, 1) {
			bars = append(bars, contracts.PriceBar{Date: d.Add(13 * time.Hour), Close: float64(d.Day())})
		}
		return bars, nil
	}

	bars, err := f.FetchBars(context.Background(), "AAPL", asOf)
	require.NoError(t, err)
	assert.Equal(t, "1mo", gotPeriod)
	require.Len(t, bars, 15)
	assert.Equal(t, asOf, bars[len(bars)-1].Date)
	assert.True(t, bars[0].Date.Before(bars[1].Date))
}

func TestPeriodCovering(t *testing.T) {
	day := 24 * time.Hour
	assert.Equal(t, "1mo", periodCovering(10*day))
	assert.Equal(t, "3mo", periodCovering(60*day))
	assert.Equal(t, "1y", periodCovering(300*day))
	assert.Equal(t, "5y", periodCovering(1000*day))
	assert.Equal(t, "max", periodCovering(5000*day))
}

type stubNews struct {
	name  string
	items []*contracts.RawNews
	err   error
}

func (s *stubNews) Name() string { return s.name }

func (s *stubNews) FetchNews(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.RawNews, error) {
	return s.items, s.err
}

type stubPrices struct{}

func (stubPrices) FetchBars(ctx context.Context, ticker string, asOf time.Time) ([]contracts.PriceBar, error) {
	return []contracts.PriceBar{{Date: asOf, Open: 1, High: 1, Low: 1, Close: 1, Volume: 10}}, nil
}

type stubMacro struct{ calls int32 }

func (s *stubMacro) FetchMacro(ctx context.Context, from, to time.Time) ([]*contracts.MacroEvent, error) {
	atomic.AddInt32(&s.calls, 1)
	return []*contracts.MacroEvent{{EventDate: to, EventName: "CPI", Country: "US"}}, nil
}

func TestIngestTicker_IsolatesProviderFailures(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	asset, err := store.Assets.Upsert(ctx, "AAPL", "Apple Inc.")
	require.NoError(t, err)

	good := &stubNews{name: "good", items: []*contracts.RawNews{{
		AssetID: asset.ID, Source: "good", Headline: "AAPL rallies", URL: "u", DedupeHash: "h1", PublishedRaw: "2024-06-01",
	}}}
	restricted := &stubNews{name: "paid", err: contracts.ErrTierRestricted}
	macro := &stubMacro{}

	in := NewIngestor(store, Sources{
		News:   []NewsFetcher{good, restricted},
		Prices: stubPrices{},
		Macro:  macro,
	}, runconfig.Default().Windows, logger.Nop())

	stats, err := in.IngestTicker(ctx, asset, []time.Time{asOf})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RawNews)
	assert.Equal(t, 1, stats.PriceWindows)
	assert.Equal(t, 1, stats.Macro)
	assert.Contains(t, stats.Errors, "paid:news:2024-06-03")

	// 같은 범위의 macro는 한 번만 호출
	_, err = in.IngestTicker(ctx, asset, []time.Time{asOf})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&macro.calls))

	raws, err := store.RawNews.ListByAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, raws, 1)

	w, err := store.Prices.Get(ctx, asset.ID, asOf)
	require.NoError(t, err)
	assert.Len(t, w.Bars, 1)
}

func TestIngestTicker_Cancelled(t *testing.T) {
	in := NewIngestor(memory.New(), Sources{}, runconfig.Default().Windows, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := in.IngestTicker(ctx, aapl, []time.Time{asOf})
	assert.ErrorIs(t, err, context.Canceled)
}
