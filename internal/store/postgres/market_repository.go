package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// FundamentalRepository implements contracts.FundamentalRepository
type FundamentalRepository struct {
	pool *pgxpool.Pool
}

// SaveBatch upserts reports on (asset, report_date, period_type)
func (r *FundamentalRepository) SaveBatch(ctx context.Context, items []*contracts.Fundamental) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO fundamentals (asset_id, report_date, period_type, currency, metrics, source, filing_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset_id, report_date, period_type) DO UPDATE SET
			filing_date = COALESCE(EXCLUDED.filing_date, fundamentals.filing_date),
			currency = EXCLUDED.currency,
			metrics = EXCLUDED.metrics,
			source = EXCLUDED.source`

	for _, f := range items {
		metrics, err := json.Marshal(f.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		batch.Queue(query, f.AssetID, f.ReportDate, f.PeriodType, f.Currency, metrics, f.Source, f.FilingDate)
	}

	if err := execBatch(ctx, r.pool, batch); err != nil {
		return fmt.Errorf("save fundamentals: %w", err)
	}
	return nil
}

// ListAsOf returns the most recent reports that were public by asOf
// (filing_date when known, else report_date)
func (r *FundamentalRepository) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.Fundamental, error) {
	query := `
		SELECT asset_id, report_date, filing_date, period_type, COALESCE(currency, ''), metrics, source
		FROM fundamentals
		WHERE asset_id = $1 AND COALESCE(filing_date, report_date) <= $2
		ORDER BY report_date DESC, period_type
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, assetID, asOf, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list fundamentals: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Fundamental
	for rows.Next() {
		var f contracts.Fundamental
		var metrics []byte
		if err := rows.Scan(&f.AssetID, &f.ReportDate, &f.FilingDate, &f.PeriodType, &f.Currency, &metrics, &f.Source); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metrics, &f.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// OptionRepository implements contracts.OptionRepository
type OptionRepository struct {
	pool *pgxpool.Pool
}

// SaveBatch upserts contracts on (asset, as_of_date, expiration, type, strike)
func (r *OptionRepository) SaveBatch(ctx context.Context, items []*contracts.OptionContract) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO options (asset_id, as_of_date, expiration, option_type, strike, open_interest, implied_vol, underlying_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, as_of_date, expiration, option_type, strike) DO UPDATE SET
			open_interest = EXCLUDED.open_interest,
			implied_vol = EXCLUDED.implied_vol,
			underlying_price = EXCLUDED.underlying_price`

	for _, o := range items {
		batch.Queue(query, o.AssetID, o.AsOfDate, o.Expiration, o.OptionType, o.Strike, o.OpenInterest, o.ImpliedVol, o.UnderlyingPrice)
	}

	if err := execBatch(ctx, r.pool, batch); err != nil {
		return fmt.Errorf("save options: %w", err)
	}
	return nil
}

// ListAsOf returns the most recent contracts observed on or before asOf
func (r *OptionRepository) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.OptionContract, error) {
	query := `
		SELECT asset_id, as_of_date, expiration, option_type, strike,
		       COALESCE(open_interest, 0), COALESCE(implied_vol, 0), COALESCE(underlying_price, 0)
		FROM options
		WHERE asset_id = $1 AND as_of_date <= $2
		ORDER BY as_of_date DESC, expiration, option_type, strike
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, assetID, asOf, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	var out []*contracts.OptionContract
	for rows.Next() {
		var o contracts.OptionContract
		if err := rows.Scan(&o.AssetID, &o.AsOfDate, &o.Expiration, &o.OptionType, &o.Strike,
			&o.OpenInterest, &o.ImpliedVol, &o.UnderlyingPrice); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// MacroRepository implements contracts.MacroRepository
type MacroRepository struct {
	pool *pgxpool.Pool
}

// SaveBatch upserts events on (event_date, event_name, country)
func (r *MacroRepository) SaveBatch(ctx context.Context, items []*contracts.MacroEvent) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO macro_events (event_date, event_name, country, importance, actual, forecast, previous)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_date, event_name, country) DO UPDATE SET
			importance = EXCLUDED.importance,
			actual = EXCLUDED.actual,
			forecast = EXCLUDED.forecast,
			previous = EXCLUDED.previous`

	for _, m := range items {
		batch.Queue(query, m.EventDate, m.EventName, m.Country, m.Importance, m.Actual, m.Forecast, m.Previous)
	}

	if err := execBatch(ctx, r.pool, batch); err != nil {
		return fmt.Errorf("save macro events: %w", err)
	}
	return nil
}

// ListAsOf orders by recency, then importance
func (r *MacroRepository) ListAsOf(ctx context.Context, asOf time.Time, limit int) ([]*contracts.MacroEvent, error) {
	query := `
		SELECT event_date, event_name, country, importance, actual, forecast, previous
		FROM macro_events
		WHERE event_date <= $1
		ORDER BY event_date DESC, importance DESC, event_name, country
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, asOf, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list macro events: %w", err)
	}
	defer rows.Close()

	var out []*contracts.MacroEvent
	for rows.Next() {
		var m contracts.MacroEvent
		if err := rows.Scan(&m.EventDate, &m.EventName, &m.Country, &m.Importance, &m.Actual, &m.Forecast, &m.Previous); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// InsiderRepository implements contracts.InsiderRepository
type InsiderRepository struct {
	pool *pgxpool.Pool
}

// SaveBatch upserts filings
func (r *InsiderRepository) SaveBatch(ctx context.Context, items []*contracts.InsiderTxn) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO insider_txn (asset_id, filing_date, insider_name, transaction_type, shares, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id, filing_date, insider_name, transaction_type, shares) DO UPDATE SET
			price = EXCLUDED.price`

	for _, t := range items {
		batch.Queue(query, t.AssetID, t.FilingDate, t.InsiderName, t.TransactionType, t.Shares, t.Price)
	}

	if err := execBatch(ctx, r.pool, batch); err != nil {
		return fmt.Errorf("save insider transactions: %w", err)
	}
	return nil
}

// ListAsOf returns the most recent filings on or before asOf
func (r *InsiderRepository) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.InsiderTxn, error) {
	query := `
		SELECT asset_id, filing_date, insider_name, transaction_type, COALESCE(shares, 0), COALESCE(price, 0)
		FROM insider_txn
		WHERE asset_id = $1 AND filing_date <= $2
		ORDER BY filing_date DESC, insider_name, transaction_type, shares, price
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, assetID, asOf, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list insider transactions: %w", err)
	}
	defer rows.Close()

	var out []*contracts.InsiderTxn
	for rows.Next() {
		var t contracts.InsiderTxn
		if err := rows.Scan(&t.AssetID, &t.FilingDate, &t.InsiderName, &t.TransactionType, &t.Shares, &t.Price); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AnalystRepository implements contracts.AnalystRepository
type AnalystRepository struct {
	pool *pgxpool.Pool
}

// SaveBatch upserts rating actions on (asset, reco_date, firm)
func (r *AnalystRepository) SaveBatch(ctx context.Context, items []*contracts.AnalystReco) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO analyst_reco (asset_id, reco_date, firm, rating, action)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (asset_id, reco_date, firm) DO UPDATE SET
			rating = EXCLUDED.rating,
			action = EXCLUDED.action`

	for _, a := range items {
		batch.Queue(query, a.AssetID, a.RecoDate, a.Firm, a.Rating, a.Action)
	}

	if err := execBatch(ctx, r.pool, batch); err != nil {
		return fmt.Errorf("save analyst recommendations: %w", err)
	}
	return nil
}

// ListAsOf returns the most recent actions on or before asOf
func (r *AnalystRepository) ListAsOf(ctx context.Context, assetID int64, asOf time.Time, limit int) ([]*contracts.AnalystReco, error) {
	query := `
		SELECT asset_id, reco_date, firm, rating, COALESCE(action, '')
		FROM analyst_reco
		WHERE asset_id = $1 AND reco_date <= $2
		ORDER BY reco_date DESC, firm
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, assetID, asOf, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list analyst recommendations: %w", err)
	}
	defer rows.Close()

	var out []*contracts.AnalystReco
	for rows.Next() {
		var a contracts.AnalystReco
		if err := rows.Scan(&a.AssetID, &a.RecoDate, &a.Firm, &a.Rating, &a.Action); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
