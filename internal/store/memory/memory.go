// Package memory is an in-memory implementation of every contracts repository.
// Used by tests and by `charlie run --dry-run`; safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

const dateKey = contracts.DateLayout

type db struct {
	mu     sync.RWMutex
	nextID int64

	assets       map[string]*contracts.Asset
	rawNews      map[string]*contracts.RawNews
	news         map[string]*contracts.NormalizedNews
	newsLinks    map[string]*newsLink
	prices       map[string]*contracts.PriceWindow
	fundamentals map[string]*contracts.Fundamental
	options      map[string]*contracts.OptionContract
	macro        map[string]*contracts.MacroEvent
	insider      map[string]*contracts.InsiderTxn
	analyst      map[string]*contracts.AnalystReco
	samples      map[string]*contracts.AssembledSample
	samplesByID  map[int64]*contracts.AssembledSample
	labels       map[int64]*contracts.SampleLabel
	theses       map[int64]*contracts.DistilledThesis
	runs         map[int64]*contracts.PipelineRun
	audit        []*contracts.AuditEntry
}

// New returns a Store backed by process memory
func New() *contracts.Store {
	d := &db{
		assets:       make(map[string]*contracts.Asset),
		rawNews:      make(map[string]*contracts.RawNews),
		news:         make(map[string]*contracts.NormalizedNews),
		newsLinks:    make(map[string]*newsLink),
		prices:       make(map[string]*contracts.PriceWindow),
		fundamentals: make(map[string]*contracts.Fundamental),
		options:      make(map[string]*contracts.OptionContract),
		macro:        make(map[string]*contracts.MacroEvent),
		insider:      make(map[string]*contracts.InsiderTxn),
		analyst:      make(map[string]*contracts.AnalystReco),
		samples:      make(map[string]*contracts.AssembledSample),
		samplesByID:  make(map[int64]*contracts.AssembledSample),
		labels:       make(map[int64]*contracts.SampleLabel),
		theses:       make(map[int64]*contracts.DistilledThesis),
		runs:         make(map[int64]*contracts.PipelineRun),
	}

	return &contracts.Store{
		Assets:       assetRepo{d},
		RawNews:      rawNewsRepo{d},
		News:         newsRepo{d},
		Prices:       priceRepo{d},
		Fundamentals: fundamentalRepo{d},
		Options:      optionRepo{d},
		Macro:        macroRepo{d},
		Insider:      insiderRepo{d},
		Analyst:      analystRepo{d},
		Samples:      sampleRepo{d},
		Labels:       labelRepo{d},
		Theses:       thesisRepo{d},
		Runs:         runRepo{d},
		Audit:        auditRepo{d},
		Export:       exportRepo{d},
	}
}

func (d *db) id() int64 {
	d.nextID++
	return d.nextID
}

func day(t time.Time) string {
	return t.UTC().Format(dateKey)
}

func onOrBefore(t, asOf time.Time) bool {
	return day(t) <= day(asOf)
}

func limitN[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// ---- assets ----

type assetRepo struct{ d *db }

func (r assetRepo) Upsert(ctx context.Context, ticker, companyName string) (*contracts.Asset, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if a, ok := r.d.assets[ticker]; ok {
		if companyName != "" {
			a.CompanyName = companyName
		}
		cp := *a
		return &cp, nil
	}
	a := &contracts.Asset{ID: r.d.id(), Ticker: ticker, CompanyName: companyName}
	r.d.assets[ticker] = a
	cp := *a
	return &cp, nil
}

func (r assetRepo) GetByTicker(ctx context.Context, ticker string) (*contracts.Asset, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	a, ok := r.d.assets[strings.ToUpper(ticker)]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", ticker, contracts.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (r assetRepo) List(ctx context.Context) ([]*contracts.Asset, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	out := make([]*contracts.Asset, 0, len(r.d.assets))
	for _, a := range r.d.assets {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// ---- raw news ----

type rawNewsRepo struct{ d *db }

func (r rawNewsRepo) SaveBatch(ctx context.Context, items []*contracts.RawNews) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	saved := 0
	for _, it := range items {
		key := fmt.Sprintf("%d|%s|%s", it.AssetID, it.Source, it.DedupeHash)
		if _, ok := r.d.rawNews[key]; ok {
			continue
		}
		cp := *it
		cp.ID = r.d.id()
		r.d.rawNews[key] = &cp
		saved++
	}
	return saved, nil
}

func (r rawNewsRepo) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.RawNews, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.RawNews
	for _, it := range r.d.rawNews {
		if it.AssetID == assetID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- normalized news ----

// newsLink holds the per-asset fields of one article
type newsLink struct {
	bucket     *contracts.Bucket
	isRelevant bool
}

func linkKey(assetID int64, hash string) string {
	return fmt.Sprintf("%d|%s", assetID, hash)
}

type newsRepo struct{ d *db }

// view joins the shared article with one asset's link; callers hold the lock
func (r newsRepo) view(n *contracts.NormalizedNews, assetID int64, l *newsLink) *contracts.NormalizedNews {
	cp := *n
	cp.AssetID = assetID
	cp.Bucket = l.bucket
	cp.IsRelevant = l.isRelevant
	return &cp
}

func (r newsRepo) Upsert(ctx context.Context, n *contracts.NormalizedNews) (*contracts.NormalizedNews, contracts.UpsertOutcome, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	outcome := contracts.UpsertInserted
	article, ok := r.d.news[n.ContentHash]
	if ok {
		// 본문은 처음 저장된 값 유지
		article.TokensCount = n.TokensCount
		article.PublishedAtUTC = n.PublishedAtUTC
		outcome = contracts.UpsertRefreshed
	} else {
		cp := *n
		cp.ID = r.d.id()
		cp.AssetID, cp.Bucket, cp.IsRelevant = 0, nil, false
		article = &cp
		r.d.news[n.ContentHash] = article
	}

	l := &newsLink{bucket: n.Bucket, isRelevant: n.IsRelevant}
	r.d.newsLinks[linkKey(n.AssetID, n.ContentHash)] = l
	return r.view(article, n.AssetID, l), outcome, nil
}

func (r newsRepo) GetForAsset(ctx context.Context, assetID int64, hash string) (*contracts.NormalizedNews, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	n, ok := r.d.news[hash]
	l, linked := r.d.newsLinks[linkKey(assetID, hash)]
	if !ok || !linked {
		return nil, fmt.Errorf("news %s for asset %d: %w", hash, assetID, contracts.ErrNotFound)
	}
	return r.view(n, assetID, l), nil
}

func (r newsRepo) ListRelevant(ctx context.Context, assetID int64, from, to time.Time) ([]*contracts.NormalizedNews, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.NormalizedNews
	for hash, n := range r.d.news {
		l, ok := r.d.newsLinks[linkKey(assetID, hash)]
		if !ok || !l.isRelevant {
			continue
		}
		if n.PublishedAtUTC.Before(from) || n.PublishedAtUTC.After(to) {
			continue
		}
		out = append(out, r.view(n, assetID, l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAtUTC.Equal(out[j].PublishedAtUTC) {
			return out[i].PublishedAtUTC.Before(out[j].PublishedAtUTC)
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	return out, nil
}

func (r newsRepo) CountByAsset(ctx context.Context, assetID int64) (int, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	count := 0
	for hash := range r.d.news {
		if _, ok := r.d.newsLinks[linkKey(assetID, hash)]; ok {
			count++
		}
	}
	return count, nil
}

// ---- price windows ----

type priceRepo struct{ d *db }

func priceKey(assetID int64, asOf time.Time) string {
	return fmt.Sprintf("%d|%s", assetID, day(asOf))
}

func clonePW(w *contracts.PriceWindow) *contracts.PriceWindow {
	cp := *w
	cp.Bars = append([]contracts.PriceBar(nil), w.Bars...)
	return &cp
}

func (r priceRepo) Upsert(ctx context.Context, w *contracts.PriceWindow) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	key := priceKey(w.AssetID, w.AsOfDate)
	cp := clonePW(w)
	if existing, ok := r.d.prices[key]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = r.d.id()
	}
	r.d.prices[key] = cp
	return nil
}

func (r priceRepo) UpdateTechnicals(ctx context.Context, assetID int64, asOf time.Time, t contracts.Technicals) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	w, ok := r.d.prices[priceKey(assetID, asOf)]
	if !ok {
		return fmt.Errorf("price window %d %s: %w", assetID, day(asOf), contracts.ErrNotFound)
	}
	w.Technicals = t
	return nil
}

func (r priceRepo) Get(ctx context.Context, assetID int64, asOf time.Time) (*contracts.PriceWindow, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	w, ok := r.d.prices[priceKey(assetID, asOf)]
	if !ok {
		return nil, fmt.Errorf("price window %d %s: %w", assetID, day(asOf), contracts.ErrNotFound)
	}
	return clonePW(w), nil
}

func (r priceRepo) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.PriceWindow, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.PriceWindow
	for _, w := range r.d.prices {
		if w.AssetID == assetID {
			out = append(out, clonePW(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOfDate.Before(out[j].AsOfDate) })
	return out, nil
}

// ---- fundamentals ----

type fundamentalRepo struct{ d *db }

func (r fundamentalRepo) SaveBatch(ctx context.Context, items []*contracts.Fundamental) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	for _, it := range items {
		cp := *it
		key := fmt.Sprintf("%d|%s|%s", it.AssetID, day(it.ReportDate), it.PeriodType)
		if old, ok := r.d.fundamentals[key]; ok && cp.FilingDate == nil {
			cp.FilingDate = old.FilingDate
		}
		r.d.fundamentals[key] = &cp
	}
	return nil
}

func (r fundamentalRepo) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.Fundamental, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.Fundamental
	for _, it := range r.d.fundamentals {
		if it.AssetID == assetID && onOrBefore(it.PublicOn(), asOf) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.After(out[j].ReportDate)
		}
		return out[i].PeriodType < out[j].PeriodType
	})
	return limitN(out, limit), nil
}

// ---- options ----

type optionRepo struct{ d *db }

func optionKey(o *contracts.OptionContract) string {
	return fmt.Sprintf("%d|%s|%s|%s|%.4f", o.AssetID, day(o.AsOfDate), day(o.Expiration), o.OptionType, o.Strike)
}

func (r optionRepo) SaveBatch(ctx context.Context, items []*contracts.OptionContract) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	for _, it := range items {
		cp := *it
		r.d.options[optionKey(it)] = &cp
	}
	return nil
}

func (r optionRepo) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.OptionContract, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.OptionContract
	for _, it := range r.d.options {
		if it.AssetID == assetID && onOrBefore(it.AsOfDate, asOf) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AsOfDate.Equal(out[j].AsOfDate) {
			return out[i].AsOfDate.After(out[j].AsOfDate)
		}
		return optionKey(out[i]) < optionKey(out[j])
	})
	return limitN(out, limit), nil
}

// ---- macro ----

type macroRepo struct{ d *db }

func (r macroRepo) SaveBatch(ctx context.Context, items []*contracts.MacroEvent) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	for _, it := range items {
		cp := *it
		r.d.macro[fmt.Sprintf("%s|%s|%s", day(it.EventDate), it.EventName, it.Country)] = &cp
	}
	return nil
}

func (r macroRepo) ListAsOf(ctx context.Context, asOf time.Time, limit int) ([]*contracts.MacroEvent, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.MacroEvent
	for _, it := range r.d.macro {
		if onOrBefore(it.EventDate, asOf) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if day(a.EventDate) != day(b.EventDate) {
			return day(a.EventDate) > day(b.EventDate)
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		return a.EventName+a.Country < b.EventName+b.Country
	})
	return limitN(out, limit), nil
}

// ---- insider ----

type insiderRepo struct{ d *db }

func (r insiderRepo) SaveBatch(ctx context.Context, items []*contracts.InsiderTxn) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	for _, it := range items {
		cp := *it
		r.d.insider[fmt.Sprintf("%d|%s|%s|%s|%f", it.AssetID, day(it.FilingDate), it.InsiderName, it.TransactionType, it.Shares)] = &cp
	}
	return nil
}

func (r insiderRepo) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.InsiderTxn, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.InsiderTxn
	for _, it := range r.d.insider {
		if it.AssetID == assetID && onOrBefore(it.FilingDate, asOf) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FilingDate.Equal(out[j].FilingDate) {
			return out[i].FilingDate.After(out[j].FilingDate)
		}
		return insiderLess(out[i], out[j])
	})
	return limitN(out, limit), nil
}

// insiderLess orders same-day filings by the rest of the unique key, then price
func insiderLess(a, b *contracts.InsiderTxn) bool {
	if a.InsiderName != b.InsiderName {
		return a.InsiderName < b.InsiderName
	}
	if a.TransactionType != b.TransactionType {
		return a.TransactionType < b.TransactionType
	}
	if a.Shares != b.Shares {
		return a.Shares < b.Shares
	}
	return a.Price < b.Price
}

// ---- analyst ----

type analystRepo struct{ d *db }

func (r analystRepo) SaveBatch(ctx context.Context, items []*contracts.AnalystReco) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	for _, it := range items {
		cp := *it
		r.d.analyst[fmt.Sprintf("%d|%s|%s", it.AssetID, day(it.RecoDate), it.Firm)] = &cp
	}
	return nil
}

func (r analystRepo) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.AnalystReco, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.AnalystReco
	for _, it := range r.d.analyst {
		if it.AssetID == assetID && onOrBefore(it.RecoDate, asOf) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecoDate.Equal(out[j].RecoDate) {
			return out[i].RecoDate.After(out[j].RecoDate)
		}
		return out[i].Firm < out[j].Firm
	})
	return limitN(out, limit), nil
}

// ---- samples ----

type sampleRepo struct{ d *db }

func sampleKey(assetID int64, asOf time.Time, variation int) string {
	return fmt.Sprintf("%d|%s|%d", assetID, day(asOf), variation)
}

func (r sampleRepo) Upsert(ctx context.Context, s *contracts.AssembledSample) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	key := sampleKey(s.AssetID, s.AsOfDate, s.VariationID)
	cp := *s
	if existing, ok := r.d.samples[key]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = r.d.id()
	}
	r.d.samples[key] = &cp
	r.d.samplesByID[cp.ID] = &cp
	return cp.ID, nil
}

func (r sampleRepo) Get(ctx context.Context, id int64) (*contracts.AssembledSample, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	s, ok := r.d.samplesByID[id]
	if !ok {
		return nil, fmt.Errorf("sample %d: %w", id, contracts.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r sampleRepo) list(filter func(*contracts.AssembledSample) bool) []*contracts.AssembledSample {
	var out []*contracts.AssembledSample
	for _, s := range r.d.samples {
		if filter(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AsOfDate.Equal(out[j].AsOfDate) {
			return out[i].AsOfDate.Before(out[j].AsOfDate)
		}
		return out[i].VariationID < out[j].VariationID
	})
	return out
}

func (r sampleRepo) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.AssembledSample, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return r.list(func(s *contracts.AssembledSample) bool { return s.AssetID == assetID }), nil
}

func (r sampleRepo) ListByAssetAndDate(ctx context.Context, assetID int64, asOf time.Time) ([]*contracts.AssembledSample, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	d := day(asOf)
	return r.list(func(s *contracts.AssembledSample) bool { return s.AssetID == assetID && day(s.AsOfDate) == d }), nil
}

// ---- labels ----

type labelRepo struct{ d *db }

func (r labelRepo) Upsert(ctx context.Context, l *contracts.SampleLabel) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.samplesByID[l.SampleID]; !ok {
		return fmt.Errorf("sample %d: %w", l.SampleID, contracts.ErrNotFound)
	}
	cp := *l
	r.d.labels[l.SampleID] = &cp
	return nil
}

func (r labelRepo) GetBySample(ctx context.Context, id int64) (*contracts.SampleLabel, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	l, ok := r.d.labels[id]
	if !ok {
		return nil, fmt.Errorf("label for sample %d: %w", id, contracts.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (r labelRepo) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.SampleLabel, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.SampleLabel
	for id, l := range r.d.labels {
		if s, ok := r.d.samplesByID[id]; ok && s.AssetID == assetID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out, nil
}

// ---- theses ----

type thesisRepo struct{ d *db }

func (r thesisRepo) Upsert(ctx context.Context, t *contracts.DistilledThesis) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.samplesByID[t.SampleID]; !ok {
		return fmt.Errorf("sample %d: %w", t.SampleID, contracts.ErrNotFound)
	}
	cp := *t
	r.d.theses[t.SampleID] = &cp
	return nil
}

func (r thesisRepo) GetBySample(ctx context.Context, id int64) (*contracts.DistilledThesis, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	t, ok := r.d.theses[id]
	if !ok {
		return nil, fmt.Errorf("thesis for sample %d: %w", id, contracts.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// ---- runs ----

type runRepo struct{ d *db }

func (r runRepo) Create(ctx context.Context, run *contracts.PipelineRun) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	cp := *run
	cp.ID = r.d.id()
	r.d.runs[cp.ID] = &cp
	return cp.ID, nil
}

func (r runRepo) Update(ctx context.Context, run *contracts.PipelineRun) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.runs[run.ID]; !ok {
		return fmt.Errorf("run %d: %w", run.ID, contracts.ErrNotFound)
	}
	cp := *run
	r.d.runs[run.ID] = &cp
	return nil
}

func (r runRepo) Get(ctx context.Context, id int64) (*contracts.PipelineRun, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	run, ok := r.d.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", id, contracts.ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

func (r runRepo) List(ctx context.Context, limit int) ([]*contracts.PipelineRun, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	out := make([]*contracts.PipelineRun, 0, len(r.d.runs))
	for _, run := range r.d.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limitN(out, limit), nil
}

// ---- audit ----

type auditRepo struct{ d *db }

func (r auditRepo) Record(ctx context.Context, e *contracts.AuditEntry) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	cp := *e
	cp.ID = r.d.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.d.audit = append(r.d.audit, &cp)
	return nil
}

func (r auditRepo) List(ctx context.Context, kind contracts.AuditKind, limit int) ([]*contracts.AuditEntry, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var out []*contracts.AuditEntry
	for i := len(r.d.audit) - 1; i >= 0; i-- {
		e := r.d.audit[i]
		if kind == "" || e.Kind == kind {
			cp := *e
			out = append(out, &cp)
		}
	}
	return limitN(out, limit), nil
}

// ---- export ----

type exportRepo struct{ d *db }

func (r exportRepo) ExportRows(ctx context.Context, assetID int64) ([]*contracts.ExportRow, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var ticker string
	for _, a := range r.d.assets {
		if a.ID == assetID {
			ticker = a.Ticker
		}
	}

	samples := sampleRepo{r.d}.list(func(s *contracts.AssembledSample) bool { return s.AssetID == assetID })
	rows := make([]*contracts.ExportRow, 0, len(samples))
	for _, s := range samples {
		row := &contracts.ExportRow{Sample: *s}
		if row.Sample.Ticker == "" {
			row.Sample.Ticker = ticker
		}
		if l, ok := r.d.labels[s.ID]; ok {
			cp := *l
			row.Label = &cp
		}
		if t, ok := r.d.theses[s.ID]; ok {
			cp := *t
			row.Thesis = &cp
		}
		rows = append(rows, row)
	}
	return rows, nil
}
