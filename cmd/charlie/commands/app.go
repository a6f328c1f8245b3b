package commands

import (
	"context"
	"fmt"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/distill"
	"github.com/wonny/charlie/backend/internal/export"
	"github.com/wonny/charlie/backend/internal/fetcher"
	"github.com/wonny/charlie/backend/internal/pipeline"
	"github.com/wonny/charlie/backend/internal/runconfig"
	"github.com/wonny/charlie/backend/internal/store/memory"
	"github.com/wonny/charlie/backend/internal/store/postgres"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/database"
	"github.com/wonny/charlie/backend/pkg/logger"
	"github.com/wonny/charlie/backend/pkg/redis"
)

// app holds the process-wide dependencies every command builds from
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	profile *runconfig.Profile
	db      *database.DB
	redis   *redis.Client
	store   *contracts.Store
}

// newApp loads config and profile, then opens the store (Postgres unless --memory)
func newApp() (*app, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logger.New(cfg)

	path := profileFile
	if path == "" {
		path = cfg.RunProfile
	}
	profile, err := runconfig.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load run profile: %w", err)
	}

	a := &app{cfg: cfg, log: log, profile: profile}

	if memoryStore {
		a.store = memory.New()
		log.Warn("Using in-memory store; nothing is persisted")
		return a, nil
	}

	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	a.store = postgres.New(db.Pool)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// ingestor builds every configured provider with the Redis cache and limiter
func (a *app) ingestor() (*fetcher.Ingestor, error) {
	rc, err := redis.New(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = rc

	cache := redis.NewCache(rc)
	limiter := redis.NewRateLimiter(rc)
	sources := fetcher.NewSources(a.cfg, a.log, cache, limiter, a.profile.Windows)
	return fetcher.NewIngestor(a.store, sources, a.profile.Windows, a.log), nil
}

func (a *app) exporter(ctx context.Context) (*export.Exporter, error) {
	backend, err := export.NewBackend(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("create export backend: %w", err)
	}
	return export.NewExporter(a.store.Export, backend, a.log), nil
}

// pipeline wires the full run; fetching is skipped when skipFetch is set
func (a *app) pipeline(ctx context.Context, skipFetch bool) (*pipeline.Pipeline, error) {
	deps := pipeline.Deps{
		Store:     a.store,
		Profile:   a.profile,
		Distiller: distill.New(a.cfg.LLM, a.log),
		Logger:    a.log,
	}
	if !skipFetch {
		in, err := a.ingestor()
		if err != nil {
			return nil, err
		}
		deps.Ingestor = in
	}
	exp, err := a.exporter(ctx)
	if err != nil {
		return nil, err
	}
	deps.Exporter = exp
	return pipeline.New(deps), nil
}

// assets resolves ticker flags to stored assets; empty means every stored asset
func (a *app) assets(ctx context.Context, tickers []string) ([]*contracts.Asset, error) {
	if len(tickers) == 0 {
		return a.store.Assets.List(ctx)
	}
	out := make([]*contracts.Asset, 0, len(tickers))
	for _, t := range pipeline.NormalizeTickers(tickers) {
		asset, err := a.store.Assets.GetByTicker(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", t, err)
		}
		out = append(out, asset)
	}
	return out, nil
}
