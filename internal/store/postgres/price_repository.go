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

// PriceWindowRepository implements contracts.PriceWindowRepository
// ⭐ SSOT: 가격 윈도우 저장소는 여기서만
type PriceWindowRepository struct {
	pool *pgxpool.Pool
}

// NewPriceWindowRepository creates a new price window repository
func NewPriceWindowRepository(pool *pgxpool.Pool) *PriceWindowRepository {
	return &PriceWindowRepository{pool: pool}
}

// Upsert stores the window for (asset, as_of_date), replacing bars and technicals
func (r *PriceWindowRepository) Upsert(ctx context.Context, w *contracts.PriceWindow) error {
	barsJSON, err := json.Marshal(w.Bars)
	if err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	techJSON, err := json.Marshal(w.Technicals)
	if err != nil {
		return fmt.Errorf("marshal technicals: %w", err)
	}

	query := `
		INSERT INTO price_window (asset_id, as_of_date, ohlcv_window, technicals, window_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id, as_of_date) DO UPDATE SET
			ohlcv_window = EXCLUDED.ohlcv_window,
			technicals = EXCLUDED.technicals,
			window_days = EXCLUDED.window_days
	`

	if _, err := r.pool.Exec(ctx, query, w.AssetID, w.AsOfDate, barsJSON, techJSON, w.WindowDays); err != nil {
		return fmt.Errorf("upsert price window: %w", err)
	}
	return nil
}

// UpdateTechnicals replaces the indicator snapshot of a stored window
func (r *PriceWindowRepository) UpdateTechnicals(ctx context.Context, assetID int64, asOf time.Time, t contracts.Technicals) error {
	techJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal technicals: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE price_window SET technicals = $3 WHERE asset_id = $1 AND as_of_date = $2`,
		assetID, asOf, techJSON)
	if err != nil {
		return fmt.Errorf("update technicals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("price window %d %s: %w", assetID, asOf.Format(contracts.DateLayout), contracts.ErrNotFound)
	}
	return nil
}

const priceWindowColumns = `price_window_id, asset_id, as_of_date, ohlcv_window, technicals, window_days`

func scanPriceWindow(row pgx.Row) (*contracts.PriceWindow, error) {
	var w contracts.PriceWindow
	var barsJSON, techJSON []byte
	if err := row.Scan(&w.ID, &w.AssetID, &w.AsOfDate, &barsJSON, &techJSON, &w.WindowDays); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(barsJSON, &w.Bars); err != nil {
		return nil, fmt.Errorf("unmarshal bars: %w", err)
	}
	if len(techJSON) > 0 {
		if err := json.Unmarshal(techJSON, &w.Technicals); err != nil {
			return nil, fmt.Errorf("unmarshal technicals: %w", err)
		}
	}
	return &w, nil
}

// Get retrieves the window for one date
func (r *PriceWindowRepository) Get(ctx context.Context, assetID int64, asOf time.Time) (*contracts.PriceWindow, error) {
	w, err := scanPriceWindow(r.pool.QueryRow(ctx,
		`SELECT `+priceWindowColumns+` FROM price_window WHERE asset_id = $1 AND as_of_date = $2`,
		assetID, asOf))
	if err != nil {
		return nil, notFound(err, "price window", fmt.Sprintf("%d@%s", assetID, asOf.Format(contracts.DateLayout)))
	}
	return w, nil
}

// ListByAsset returns every window of an asset ordered by as_of_date
func (r *PriceWindowRepository) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.PriceWindow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+priceWindowColumns+` FROM price_window WHERE asset_id = $1 ORDER BY as_of_date`, assetID)
	if err != nil {
		return nil, fmt.Errorf("list price windows: %w", err)
	}
	defer rows.Close()

	var out []*contracts.PriceWindow
	for rows.Next() {
		w, err := scanPriceWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
