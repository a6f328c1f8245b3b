package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: Repository 인터페이스 정의는 여기서만
// 모든 쓰기는 자연키 기반 idempotent upsert. 동시 실행/재시도가 같은 결과로 수렴한다.

// AssetRepository manages the asset master
type AssetRepository interface {
	Upsert(ctx context.Context, ticker, companyName string) (*Asset, error)
	GetByTicker(ctx context.Context, ticker string) (*Asset, error)
	List(ctx context.Context) ([]*Asset, error)
}

// RawNewsRepository stores fetched articles as-is
type RawNewsRepository interface {
	SaveBatch(ctx context.Context, items []*RawNews) (int, error)
	ListByAsset(ctx context.Context, assetID int64) ([]*RawNews, error)
}

// NewsRepository manages normalized_news (unique content_hash) and its per-asset view.
// Content fields are shared by every asset that saw the article; Bucket and
// IsRelevant belong to (article, asset) and are never touched by another asset.
type NewsRepository interface {
	// Upsert returns the asset's view of the stored row (first-seen content fields)
	// and whether the article itself was inserted or refreshed
	Upsert(ctx context.Context, news *NormalizedNews) (*NormalizedNews, UpsertOutcome, error)
	GetForAsset(ctx context.Context, assetID int64, contentHash string) (*NormalizedNews, error)
	// ListRelevant returns records relevant to assetID with from <= published_at_utc <= to
	ListRelevant(ctx context.Context, assetID int64, from, to time.Time) ([]*NormalizedNews, error)
	CountByAsset(ctx context.Context, assetID int64) (int, error)
}

// PriceWindowRepository manages price_window (unique asset_id, as_of_date)
type PriceWindowRepository interface {
	Upsert(ctx context.Context, window *PriceWindow) error
	UpdateTechnicals(ctx context.Context, assetID int64, asOf time.Time, technicals Technicals) error
	Get(ctx context.Context, assetID int64, asOf time.Time) (*PriceWindow, error)
	ListByAsset(ctx context.Context, assetID int64) ([]*PriceWindow, error)
}

// FundamentalRepository manages fundamentals
type FundamentalRepository interface {
	SaveBatch(ctx context.Context, items []*Fundamental) error
	// ListAsOf returns the most recent `limit` reports with report_date <= asOf
	ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*Fundamental, error)
}

// OptionRepository manages options snapshots
type OptionRepository interface {
	SaveBatch(ctx context.Context, items []*OptionContract) error
	ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*OptionContract, error)
}

// MacroRepository manages macro_events
type MacroRepository interface {
	SaveBatch(ctx context.Context, items []*MacroEvent) error
	// ListAsOf orders by event_date desc, then importance desc
	ListAsOf(ctx context.Context, asOf time.Time, limit int) ([]*MacroEvent, error)
}

// InsiderRepository manages insider_txn
type InsiderRepository interface {
	SaveBatch(ctx context.Context, items []*InsiderTxn) error
	ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*InsiderTxn, error)
}

// AnalystRepository manages analyst_reco
type AnalystRepository interface {
	SaveBatch(ctx context.Context, items []*AnalystReco) error
	ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*AnalystReco, error)
}

// SampleRepository manages assembled_sample (unique asset_id, as_of_date, variation_id)
type SampleRepository interface {
	Upsert(ctx context.Context, sample *AssembledSample) (int64, error)
	Get(ctx context.Context, sampleID int64) (*AssembledSample, error)
	ListByAsset(ctx context.Context, assetID int64) ([]*AssembledSample, error)
	ListByAssetAndDate(ctx context.Context, assetID int64, asOf time.Time) ([]*AssembledSample, error)
}

// LabelRepository manages sample_label (one per sample)
type LabelRepository interface {
	Upsert(ctx context.Context, label *SampleLabel) error
	GetBySample(ctx context.Context, sampleID int64) (*SampleLabel, error)
	ListByAsset(ctx context.Context, assetID int64) ([]*SampleLabel, error)
}

// ThesisRepository manages distilled_thesis (one per sample)
type ThesisRepository interface {
	Upsert(ctx context.Context, thesis *DistilledThesis) error
	GetBySample(ctx context.Context, sampleID int64) (*DistilledThesis, error)
}

// RunRepository manages pipeline_run
type RunRepository interface {
	Create(ctx context.Context, run *PipelineRun) (int64, error)
	Update(ctx context.Context, run *PipelineRun) error
	Get(ctx context.Context, runID int64) (*PipelineRun, error)
	List(ctx context.Context, limit int) ([]*PipelineRun, error)
}

// AuditRepository appends to audit_log
type AuditRepository interface {
	Record(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, kind AuditKind, limit int) ([]*AuditEntry, error)
}

// ExportRepository reads the sample × label × thesis join
type ExportRepository interface {
	ExportRows(ctx context.Context, assetID int64) ([]*ExportRow, error)
}

// Store bundles every repository. Both the Postgres store and the in-memory fake build one.
type Store struct {
	Assets       AssetRepository
	RawNews      RawNewsRepository
	News         NewsRepository
	Prices       PriceWindowRepository
	Fundamentals FundamentalRepository
	Options      OptionRepository
	Macro        MacroRepository
	Insider      InsiderRepository
	Analyst      AnalystRepository
	Samples      SampleRepository
	Labels       LabelRepository
	Theses       ThesisRepository
	Runs         RunRepository
	Audit        AuditRepository
	Export       ExportRepository
}
