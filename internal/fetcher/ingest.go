package fetcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/runconfig"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/httputil"
	"github.com/wonny/charlie/backend/pkg/logger"
	"github.com/wonny/charlie/backend/pkg/redis"
)

// FundamentalsFetcher returns income statements
type FundamentalsFetcher interface {
	FetchFundamentals(ctx context.Context, asset *contracts.Asset, asOf time.Time, limit int) ([]*contracts.Fundamental, error)
}

// AnalystFetcher returns analyst rating actions
type AnalystFetcher interface {
	FetchAnalyst(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.AnalystReco, error)
}

// InsiderFetcher returns insider filings
type InsiderFetcher interface {
	FetchInsider(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.InsiderTxn, error)
}

// OptionsFetcher returns the option chain observed on a date
type OptionsFetcher interface {
	FetchOptions(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.OptionContract, error)
}

// MacroFetcher returns economic calendar events
type MacroFetcher interface {
	FetchMacro(ctx context.Context, from, to time.Time) ([]*contracts.MacroEvent, error)
}

// Sources holds the enabled providers per modality; nil disables a modality
type Sources struct {
	News         []NewsFetcher
	Prices       PriceFetcher
	Fundamentals FundamentalsFetcher
	Analyst      AnalystFetcher
	Insider      InsiderFetcher
	Options      OptionsFetcher
	Macro        MacroFetcher
}

// NewSources builds every provider that has credentials configured.
// Each provider gets its own HTTP client so limiters and retry policies stay independent.
func NewSources(cfg *config.Config, log *logger.Logger, cache *redis.Cache, limiter *redis.RateLimiter, w runconfig.Windows) Sources {
	client := func(provider string, perMinute int) *httputil.Client {
		c := httputil.New(cfg, log).
			WithLimiter(cfg.RateLimitDelay, 1).
			WithCache(cache)
		if limiter != nil {
			c = c.WithRateLimiter(limiter, redis.PerMinute(provider, perMinute))
		}
		return c
	}

	var s Sources
	p := cfg.Providers
	if p.FinnhubAPIKey != "" {
		s.News = append(s.News, NewFinnhubFetcher(client(ProviderFinnhub, 60), p.FinnhubAPIKey, p.FinnhubBaseURL, w.NewsDays))
	}
	if p.NewsAPIKey != "" {
		s.News = append(s.News, NewNewsAPIFetcher(client(ProviderNewsAPI, 30), p.NewsAPIKey, p.NewsAPIBaseURL, w.NewsAPIDays))
	}
	if p.FMPAPIKey != "" {
		fmp := NewFMPFetcher(client(ProviderFMP, 250), p.FMPAPIKey, p.FMPBaseURL)
		s.Fundamentals, s.Analyst, s.Insider = fmp, fmp, fmp
	}
	if p.EODHDAPIKey != "" {
		eod := NewEODHDFetcher(client(ProviderEODHD, 60), p.EODHDAPIKey, p.EODHDBaseURL)
		s.Options, s.Macro = eod, eod
	}
	if p.YahooEnabled {
		s.Prices = NewYahooFetcher(w.PriceCalendarDays, w.PriceBars)
	}
	return s
}

// IngestStats counts what one IngestTicker call stored
type IngestStats struct {
	Dates        int               `json:"dates"`
	RawNews      int               `json:"raw_news"`
	PriceWindows int               `json:"price_windows"`
	Fundamentals int               `json:"fundamentals"`
	Analyst      int               `json:"analyst"`
	Insider      int               `json:"insider"`
	Options      int               `json:"options"`
	Macro        int               `json:"macro"`
	Errors       map[string]string `json:"errors,omitempty"`
}

func (s *IngestStats) fail(key string, err error) {
	if s.Errors == nil {
		s.Errors = make(map[string]string)
	}
	s.Errors[key] = err.Error()
}

// Ingestor runs every provider for a ticker and stores the raw results
// ⭐ SSOT: 외부 데이터 적재는 여기서만
type Ingestor struct {
	store   *contracts.Store
	sources Sources
	windows runconfig.Windows
	logger  *logger.Logger

	macroMu   sync.Mutex
	macroDone map[string]bool
}

// NewIngestor creates an ingestor
func NewIngestor(store *contracts.Store, sources Sources, windows runconfig.Windows, log *logger.Logger) *Ingestor {
	return &Ingestor{
		store:     store,
		sources:   sources,
		windows:   windows,
		logger:    log.Component("ingest"),
		macroDone: make(map[string]bool),
	}
}

// IngestTicker fetches every modality for the asset over the given as-of dates.
// Provider failures are isolated per call and reported in IngestStats.Errors;
// only context cancellation is returned as an error.
func (in *Ingestor) IngestTicker(ctx context.Context, asset *contracts.Asset, dates []time.Time) (IngestStats, error) {
	stats := IngestStats{Dates: len(dates)}
	if len(dates) == 0 {
		return stats, nil
	}
	log := in.logger.Ticker(asset.Ticker)

	for _, asOf := range dates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		in.ingestPrices(ctx, asset, asOf, &stats, log)
		in.ingestNews(ctx, asset, asOf, &stats, log)
		in.ingestOptions(ctx, asset, asOf, &stats, log)
	}

	// 재무/애널리스트/내부자는 전체 이력을 한 번만 받는다. as-of 필터는 조립 단계에서.
	latest := latestDate(dates)
	in.ingestFilings(ctx, asset, latest, &stats, log)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	n, err := in.IngestMacro(ctx, dates)
	stats.Macro = n
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.fail("eodhd:macro", err)
	}

	log.WithFields(map[string]interface{}{
		"dates":         stats.Dates,
		"raw_news":      stats.RawNews,
		"price_windows": stats.PriceWindows,
		"fundamentals":  stats.Fundamentals,
		"options":       stats.Options,
		"errors":        len(stats.Errors),
	}).Info("Ingest completed")

	return stats, nil
}

func (in *Ingestor) ingestPrices(ctx context.Context, asset *contracts.Asset, asOf time.Time, stats *IngestStats, log *logger.Logger) {
	if in.sources.Prices == nil {
		return
	}
	bars, err := in.sources.Prices.FetchBars(ctx, asset.Ticker, asOf)
	if err != nil {
		in.report(log, stats, ProviderYahoo+":prices:"+day(asOf), err)
		return
	}
	if len(bars) == 0 {
		log.WithField("as_of_date", day(asOf)).Warn("No price bars returned")
		return
	}
	window := &contracts.PriceWindow{
		AssetID:    asset.ID,
		AsOfDate:   civilDate(asOf),
		Bars:       bars,
		WindowDays: len(bars),
	}
	if err := in.store.Prices.Upsert(ctx, window); err != nil {
		in.report(log, stats, "store:prices:"+day(asOf), err)
		return
	}
	stats.PriceWindows++
}

func (in *Ingestor) ingestNews(ctx context.Context, asset *contracts.Asset, asOf time.Time, stats *IngestStats, log *logger.Logger) {
	for _, nf := range in.sources.News {
		items, err := nf.FetchNews(ctx, asset, asOf)
		if err != nil {
			in.report(log, stats, nf.Name()+":news:"+day(asOf), err)
			continue
		}
		saved, err := in.store.RawNews.SaveBatch(ctx, items)
		if err != nil {
			in.report(log, stats, "store:raw_news:"+nf.Name(), err)
			continue
		}
		stats.RawNews += saved
		log.WithFields(map[string]interface{}{
			"provider":   nf.Name(),
			"as_of_date": day(asOf),
			"fetched":    len(items),
			"saved":      saved,
		}).Debug("News fetched")
	}
}

func (in *Ingestor) ingestOptions(ctx context.Context, asset *contracts.Asset, asOf time.Time, stats *IngestStats, log *logger.Logger) {
	if in.sources.Options == nil {
		return
	}
	items, err := in.sources.Options.FetchOptions(ctx, asset, asOf)
	if err != nil {
		in.report(log, stats, ProviderEODHD+":options:"+day(asOf), err)
		return
	}
	if err := in.store.Options.SaveBatch(ctx, items); err != nil {
		in.report(log, stats, "store:options", err)
		return
	}
	stats.Options += len(items)
}

func (in *Ingestor) ingestFilings(ctx context.Context, asset *contracts.Asset, asOf time.Time, stats *IngestStats, log *logger.Logger) {
	if f := in.sources.Fundamentals; f != nil {
		items, err := f.FetchFundamentals(ctx, asset, asOf, in.windows.FundamentalsLimit)
		if err == nil {
			err = in.store.Fundamentals.SaveBatch(ctx, items)
		}
		if err != nil {
			in.report(log, stats, ProviderFMP+":fundamentals", err)
		} else {
			stats.Fundamentals = len(items)
		}
	}

	if f := in.sources.Analyst; f != nil {
		items, err := f.FetchAnalyst(ctx, asset, asOf)
		if err == nil {
			err = in.store.Analyst.SaveBatch(ctx, items)
		}
		if err != nil {
			in.report(log, stats, ProviderFMP+":analyst", err)
		} else {
			stats.Analyst = len(items)
		}
	}

	if f := in.sources.Insider; f != nil {
		items, err := f.FetchInsider(ctx, asset, asOf)
		if err == nil {
			err = in.store.Insider.SaveBatch(ctx, items)
		}
		if err != nil {
			in.report(log, stats, ProviderFMP+":insider", err)
		} else {
			stats.Insider = len(items)
		}
	}
}

// IngestMacro fetches the economic calendar covering the dates once per distinct range.
// Tickers of the same run share the range, so only the first caller hits the provider.
func (in *Ingestor) IngestMacro(ctx context.Context, dates []time.Time) (int, error) {
	if in.sources.Macro == nil || len(dates) == 0 {
		return 0, nil
	}
	from := earliestDate(dates).AddDate(0, 0, -in.windows.MacroDays)
	to := latestDate(dates)
	key := day(from) + ".." + day(to)

	in.macroMu.Lock()
	defer in.macroMu.Unlock()
	if in.macroDone[key] {
		return 0, nil
	}

	events, err := in.sources.Macro.FetchMacro(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if err := in.store.Macro.SaveBatch(ctx, events); err != nil {
		return 0, err
	}
	in.macroDone[key] = true
	return len(events), nil
}

// report logs a provider failure by class and records it in the stats
func (in *Ingestor) report(log *logger.Logger, stats *IngestStats, key string, err error) {
	stats.fail(key, err)
	source := strings.SplitN(key, ":", 2)[0]
	l := log.WithField("source", source).WithField("call", key)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case contracts.IsProviderRestriction(err):
		l.WithField("reason", err.Error()).Info("Provider restricted, modality skipped")
	default:
		l.WithError(err).Warn("Fetch failed, modality degraded to empty")
	}
}

func latestDate(dates []time.Time) time.Time {
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted[len(sorted)-1]
}

func earliestDate(dates []time.Time) time.Time {
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted[0]
}
