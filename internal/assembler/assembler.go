// Package assembler builds point-in-time prompts for (asset, as-of date).
//
// Every modality is read under one cutoff, candidate pools are snapshotted once per
// date, and each variation samples from them with its own derived seed.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/normalize"
	"github.com/wonny/charlie/backend/internal/runconfig"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// newsLookbackDays bounds the relevant-news query; older items have no bucket
const newsLookbackDays = 30

// Auditor records leakage-guard hits
type Auditor interface {
	Record(ctx context.Context, kind contracts.AuditKind, entity, key, detail string)
}

// Options are the per-run assembly parameters
type Options struct {
	Seed           int64
	VariationCount int
	TokenBudget    int
	RunID          *int64
}

// Stats summarizes assembly of one asset
type Stats struct {
	Dates          int `json:"dates"`
	Samples        int `json:"samples"`
	FailedDates    int `json:"failed_dates"`
	WithTechnicals int `json:"with_technicals"`
	WithNews       int `json:"with_news"`
	GuardDrops     int `json:"guard_drops"`
}

// Assembler joins every modality under the as-of cutoff and persists prompt variations.
// It holds no per-asset state and is safe to call concurrently for different assets.
// ⭐ SSOT: assembled_sample 쓰기는 여기서만
type Assembler struct {
	store  *contracts.Store
	quotas runconfig.Quotas
	audit  Auditor
	logger *logger.Logger
}

// New creates an assembler
func New(store *contracts.Store, quotas runconfig.Quotas, audit Auditor, log *logger.Logger) *Assembler {
	return &Assembler{
		store:  store,
		quotas: quotas,
		audit:  audit,
		logger: log.Component("assembler"),
	}
}

// pools is the candidate snapshot for one (asset, date), shared by all its variations
type pools struct {
	window       *contracts.PriceWindow
	news         map[contracts.Bucket][]*contracts.NormalizedNews
	fundamentals []*contracts.Fundamental
	options      []*contracts.OptionContract
	macro        []*contracts.MacroEvent
	insider      []*contracts.InsiderTxn
	analyst      []*contracts.AnalystReco
	errors       map[string]string
}

// AssembleAsset assembles every date for one asset. A failed date is logged and
// counted; only context cancellation stops the loop.
func (a *Assembler) AssembleAsset(ctx context.Context, asset *contracts.Asset, dates []time.Time, opts Options) (Stats, error) {
	var stats Stats

	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Dates++

		samples, err := a.AssembleForDate(ctx, asset, d, opts)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedDates++
			a.logger.WithError(err).WithFields(map[string]interface{}{
				"ticker":     asset.Ticker,
				"as_of_date": d.Format(contracts.DateLayout),
			}).Warn("Assembly failed for date")
			continue
		}

		stats.Samples += len(samples)
		if len(samples) > 0 {
			meta := samples[0].SourcesMeta
			if meta.Technicals.Included {
				stats.WithTechnicals++
			}
			if meta.News.Count > 0 {
				stats.WithNews++
			}
		}
		for _, s := range samples {
			if n, ok := s.SourcesMeta.Errors["leakage_guard"]; ok && n != "" {
				stats.GuardDrops++
			}
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"ticker":       asset.Ticker,
		"dates":        stats.Dates,
		"samples":      stats.Samples,
		"failed_dates": stats.FailedDates,
	}).Info("Assembly completed")

	return stats, nil
}

// AssembleForDate builds and upserts opts.VariationCount variations (ids 1..n) for one date
func (a *Assembler) AssembleForDate(ctx context.Context, asset *contracts.Asset, asOfDate time.Time, opts Options) ([]*contracts.AssembledSample, error) {
	if opts.VariationCount <= 0 {
		return nil, contracts.ValidationError{Field: "variation_count", Message: "must be > 0"}
	}
	if opts.TokenBudget <= 0 {
		return nil, contracts.ValidationError{Field: "token_budget", Message: "must be > 0"}
	}

	asOfDate = normalize.DateOnly(asOfDate)
	cutoff := Cutoff(asOfDate)
	p := a.collect(ctx, asset, asOfDate, cutoff)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dateSeed := DateSeed(asset.Ticker, asOfDate)
	out := make([]*contracts.AssembledSample, 0, opts.VariationCount)

	for v := 1; v <= opts.VariationCount; v++ {
		seed := VariationSeed(opts.Seed, v, dateSeed)
		b := a.sample(p, newRand(seed))
		b.Ticker = asset.Ticker
		b.CompanyName = asset.CompanyName
		b.AsOfDate = asOfDate
		b.Cutoff = cutoff

		dropped := a.guard(ctx, asset, b)

		text, tokens := Truncate(render(b), opts.TokenBudget)
		meta := buildMeta(b, p, opts, seed)
		if dropped > 0 {
			meta.Errors = withError(meta.Errors, "leakage_guard", fmt.Sprintf("%d item(s) past cutoff dropped", dropped))
		}

		sample := &contracts.AssembledSample{
			AssetID:      asset.ID,
			Ticker:       asset.Ticker,
			AsOfDate:     asOfDate,
			VariationID:  v,
			AsOfCutoff:   cutoff,
			RunID:        opts.RunID,
			PromptText:   text,
			PromptTokens: tokens,
			SourcesMeta:  meta,
		}

		id, err := a.store.Samples.Upsert(ctx, sample)
		if err != nil {
			return out, fmt.Errorf("failed to upsert sample variation %d: %w", v, err)
		}
		sample.ID = id
		out = append(out, sample)
	}

	return out, nil
}

// collect snapshots every modality under the cutoff. A modality that fails
// degrades to empty and the error is kept for sources_meta.
func (a *Assembler) collect(ctx context.Context, asset *contracts.Asset, asOfDate, cutoff time.Time) *pools {
	p := &pools{
		news:   make(map[contracts.Bucket][]*contracts.NormalizedNews),
		errors: make(map[string]string),
	}
	log := a.logger.WithFields(map[string]interface{}{
		"ticker":     asset.Ticker,
		"as_of_date": asOfDate.Format(contracts.DateLayout),
	})
	fail := func(modality string, err error) {
		p.errors[modality] = err.Error()
		log.WithError(err).WithField("modality", modality).Warn("Modality unavailable, continuing without it")
	}

	// Technicals: exact-date window
	if w, err := a.store.Prices.Get(ctx, asset.ID, asOfDate); err == nil {
		bars := w.Bars[:0:0]
		for _, bar := range w.Bars {
			if !bar.Date.After(cutoff) {
				bars = append(bars, bar)
			}
		}
		w.Bars = bars
		p.window = w
	} else if !errors.Is(err, contracts.ErrNotFound) {
		fail("technicals", err)
	}

	// News: relevant, bucketed relative to this as-of date
	from := asOfDate.AddDate(0, 0, -newsLookbackDays)
	if news, err := a.store.News.ListRelevant(ctx, asset.ID, from, cutoff); err == nil {
		sort.Slice(news, func(i, j int) bool {
			if !news[i].PublishedAtUTC.Equal(news[j].PublishedAtUTC) {
				return news[i].PublishedAtUTC.Before(news[j].PublishedAtUTC)
			}
			return news[i].ContentHash < news[j].ContentHash
		})
		for _, n := range news {
			if !n.IsRelevant || n.PublishedAtUTC.After(cutoff) {
				continue
			}
			if b := normalize.ComputeBucket(n.PublishedAtUTC, asOfDate); b != nil {
				p.news[*b] = append(p.news[*b], n)
			}
		}
	} else {
		fail("news", err)
	}

	q := a.quotas
	if q.Fundamentals > 0 {
		if rows, err := a.store.Fundamentals.ListAsOf(ctx, asset.ID, asOfDate, q.Fundamentals); err == nil {
			p.fundamentals = rows
		} else {
			fail("fundamentals", err)
		}
	}
	if q.Options > 0 {
		if rows, err := a.store.Options.ListAsOf(ctx, asset.ID, asOfDate, q.Options); err == nil {
			p.options = rows
		} else {
			fail("options", err)
		}
	}
	if q.Macro > 0 {
		if rows, err := a.store.Macro.ListAsOf(ctx, asOfDate, q.Macro); err == nil {
			p.macro = rows
		} else {
			fail("macro", err)
		}
	}
	if q.Insider > 0 {
		if rows, err := a.store.Insider.ListAsOf(ctx, asset.ID, asOfDate, q.Insider); err == nil {
			p.insider = rows
		} else {
			fail("insider", err)
		}
	}
	if q.Analyst > 0 {
		if rows, err := a.store.Analyst.ListAsOf(ctx, asset.ID, asOfDate, q.Analyst); err == nil {
			p.analyst = rows
		} else {
			fail("analyst", err)
		}
	}

	return p
}

// sample draws one variation. Buckets are visited in fixed order so one seed
// always yields the same subset.
func (a *Assembler) sample(p *pools, r *rand.Rand) *bundle {
	b := &bundle{
		Window:       p.window,
		News:         make(map[contracts.Bucket][]*contracts.NormalizedNews),
		Fundamentals: p.fundamentals,
		Options:      p.options,
		Macro:        p.macro,
		Insider:      p.insider,
		Analyst:      p.analyst,
	}
	for _, bucket := range contracts.AllBuckets() {
		b.News[bucket] = sampleWithoutReplacement(r, p.news[bucket], a.quotas.News.For(bucket))
	}
	return b
}

// guard drops anything dated after the as-of date. Queries already filter;
// a hit here means a store returned rows it should not have.
func (a *Assembler) guard(ctx context.Context, asset *contracts.Asset, b *bundle) int {
	dropped := 0
	key := fmt.Sprintf("%s|%s", asset.Ticker, b.AsOfDate.Format(contracts.DateLayout))
	hit := func(modality string, d time.Time) {
		dropped++
		a.logger.WithFields(map[string]interface{}{
			"ticker":   asset.Ticker,
			"modality": modality,
			"date":     d.Format(time.RFC3339),
		}).Warn("Leakage guard dropped item past cutoff")
		if a.audit != nil {
			a.audit.Record(ctx, contracts.AuditLeakageGuard, "assembled_sample", key,
				fmt.Sprintf("%s item dated %s", modality, d.Format(time.RFC3339)))
		}
	}

	for bucket, items := range b.News {
		b.News[bucket] = keep(items, func(n *contracts.NormalizedNews) bool {
			if n.PublishedAtUTC.After(b.Cutoff) {
				hit("news", n.PublishedAtUTC)
				return false
			}
			return true
		})
	}
	after := func(modality string, d time.Time) bool {
		if d.After(b.Cutoff) {
			hit(modality, d)
			return false
		}
		return true
	}
	b.Fundamentals = keep(b.Fundamentals, func(f *contracts.Fundamental) bool { return after("fundamentals", f.PublicOn()) })
	b.Options = keep(b.Options, func(o *contracts.OptionContract) bool { return after("options", o.AsOfDate) })
	b.Macro = keep(b.Macro, func(m *contracts.MacroEvent) bool { return after("macro", m.EventDate) })
	b.Insider = keep(b.Insider, func(t *contracts.InsiderTxn) bool { return after("insider", t.FilingDate) })
	b.Analyst = keep(b.Analyst, func(r *contracts.AnalystReco) bool { return after("analyst", r.RecoDate) })

	return dropped
}

func keep[T any](items []T, ok func(T) bool) []T {
	if len(items) == 0 {
		return items
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		if ok(it) {
			out = append(out, it)
		}
	}
	return out
}

func withError(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	m[k] = v
	return m
}
