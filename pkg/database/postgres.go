package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/pkg/config"
)

const (
	connectTimeout  = 5 * time.Second
	applicationName = "charlie"

	// 마이그레이션이 적용됐는지 확인하는 기준 테이블
	sentinelTable = "pipeline_run"
)

// DB is the pgx pool every repository shares, pinned to one schema via search_path
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	Pool   *pgxpool.Pool
	Schema string
}

// New opens the pool and pings it once
func New(cfg *config.Config) (*DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	pc, err := poolConfig(cfg.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", pc.ConnConfig.Host, err)
	}

	return &DB{Pool: pool, Schema: cfg.Database.Schema}, nil
}

func poolConfig(dc config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	if dc.MaxConns > 0 {
		pc.MaxConns = int32(dc.MaxConns)
	}
	if dc.MinConns > 0 && int32(dc.MinConns) <= pc.MaxConns {
		pc.MinConns = int32(dc.MinConns)
	}
	if dc.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = dc.MaxConnLifetime
	}
	if dc.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = dc.MaxConnIdleTime
	}

	params := pc.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = applicationName
	}
	if dc.Schema != "" {
		params["search_path"] = dc.Schema
	}
	return pc, nil
}

// Close closes the pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// HealthStatus is what `charlie status` prints for the database
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Migrated     bool          `json:"migrated"`
	Schema       string        `json:"schema"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Stats        PoolStats     `json:"stats"`
}

// PoolStats is the subset of pgxpool.Stat worth showing
type PoolStats struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// HealthCheck pings the server and checks that migrations have been applied
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{Schema: db.Schema}

	start := time.Now()
	var table *string
	// search_path가 스키마를 가리키므로 to_regclass는 스키마 안의 테이블을 찾는다
	if err := db.Pool.QueryRow(ctx, "SELECT to_regclass($1)::text", sentinelTable).Scan(&table); err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("health check: %w", err)
	}
	status.ResponseTime = time.Since(start)
	status.Healthy = true
	status.Migrated = table != nil

	st := db.Pool.Stat()
	status.Stats = PoolStats{
		AcquiredConns: st.AcquiredConns(),
		IdleConns:     st.IdleConns(),
		MaxConns:      st.MaxConns(),
	}
	return status, nil
}
