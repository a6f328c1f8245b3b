// Package postgres implements the contracts repositories on PostgreSQL via pgx.
// Every write is an idempotent upsert on the natural key.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// New builds a Store backed by the pool
// ⭐ SSOT: DB 접근은 이 패키지에서만
func New(pool *pgxpool.Pool) *contracts.Store {
	return &contracts.Store{
		Assets:       NewAssetRepository(pool),
		RawNews:      NewRawNewsRepository(pool),
		News:         NewNewsRepository(pool),
		Prices:       NewPriceWindowRepository(pool),
		Fundamentals: &FundamentalRepository{pool: pool},
		Options:      &OptionRepository{pool: pool},
		Macro:        &MacroRepository{pool: pool},
		Insider:      &InsiderRepository{pool: pool},
		Analyst:      &AnalystRepository{pool: pool},
		Samples:      NewSampleRepository(pool),
		Labels:       &LabelRepository{pool: pool},
		Theses:       &ThesisRepository{pool: pool},
		Runs:         NewRunRepository(pool),
		Audit:        &AuditRepository{pool: pool},
		Export:       &ExportRepository{pool: pool},
	}
}

// notFound maps pgx.ErrNoRows to contracts.ErrNotFound
func notFound(err error, what string, key interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, contracts.ErrNotFound)
	}
	return fmt.Errorf("get %s %v: %w", what, key, err)
}

// execBatch queues one statement per item and checks every result
func execBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) error {
	n := batch.Len()
	if n == 0 {
		return nil
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// limitArg turns a non-positive limit into NULL (no limit)
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}
