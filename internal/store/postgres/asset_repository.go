package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// AssetRepository implements contracts.AssetRepository
type AssetRepository struct {
	pool *pgxpool.Pool
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

// Upsert inserts the ticker or refreshes its company name
func (r *AssetRepository) Upsert(ctx context.Context, ticker, companyName string) (*contracts.Asset, error) {
	query := `
		INSERT INTO asset (ticker, company_name)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (ticker) DO UPDATE SET
			company_name = COALESCE(EXCLUDED.company_name, asset.company_name)
		RETURNING asset_id, ticker, COALESCE(company_name, ''), COALESCE(sector, '')
	`

	var a contracts.Asset
	err := r.pool.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(ticker)), companyName).
		Scan(&a.ID, &a.Ticker, &a.CompanyName, &a.Sector)
	if err != nil {
		return nil, fmt.Errorf("upsert asset %s: %w", ticker, err)
	}
	return &a, nil
}

// GetByTicker retrieves one asset
func (r *AssetRepository) GetByTicker(ctx context.Context, ticker string) (*contracts.Asset, error) {
	query := `
		SELECT asset_id, ticker, COALESCE(company_name, ''), COALESCE(sector, '')
		FROM asset
		WHERE ticker = $1
	`

	var a contracts.Asset
	if err := r.pool.QueryRow(ctx, query, strings.ToUpper(ticker)).Scan(&a.ID, &a.Ticker, &a.CompanyName, &a.Sector); err != nil {
		return nil, notFound(err, "asset", ticker)
	}
	return &a, nil
}

// List returns every asset ordered by ticker
func (r *AssetRepository) List(ctx context.Context) ([]*contracts.Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT asset_id, ticker, COALESCE(company_name, ''), COALESCE(sector, '')
		FROM asset
		ORDER BY ticker
	`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Asset
	for rows.Next() {
		var a contracts.Asset
		if err := rows.Scan(&a.ID, &a.Ticker, &a.CompanyName, &a.Sector); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
