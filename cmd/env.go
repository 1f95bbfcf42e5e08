package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/cache"
	"github.com/sells-group/compintel/internal/db"
	"github.com/sells-group/compintel/internal/extract"
	"github.com/sells-group/compintel/internal/lock"
	"github.com/sells-group/compintel/internal/modelclient"
	"github.com/sells-group/compintel/internal/normalize"
	"github.com/sells-group/compintel/internal/session"
	"github.com/sells-group/compintel/internal/snapshot"
	"github.com/sells-group/compintel/internal/store"
	"github.com/sells-group/compintel/pkg/anthropic"
)

// env bundles the wired pipeline for a command invocation.
type env struct {
	Pool   *pgxpool.Pool
	Cache  cache.Store
	Model  *modelclient.Client
	Runner *session.Runner
	Events chan session.Event
}

func (e *env) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("cache close failed", zap.Error(err))
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

func initPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store database URL is required (COMPINTEL_STORE_DATABASE_URL)")
	}
	return db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
}

func initCache(pool db.Pool) (cache.Store, error) {
	ttl := time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour
	switch cfg.Cache.Driver {
	case "postgres":
		return cache.NewPostgres(pool, ttl), nil
	case "sqlite":
		return cache.NewSQLite(cfg.Cache.SQLitePath, ttl)
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// initEnv wires the full pipeline: pool, cache, model client, extraction
// tiers, ranker, lock manager, orchestrator and session runner.
func initEnv(ctx context.Context) (*env, error) {
	pool, err := initPool(ctx)
	if err != nil {
		return nil, err
	}

	cacheStore, err := initCache(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	api := anthropic.NewClient(cfg.Anthropic.Key)
	model := modelclient.New(api, cacheStore, cfg.Anthropic)

	rules := extract.NewRuleExtractor(cfg.Extraction.RuleConfidenceThreshold)
	ai := extract.NewAIExtractor(model, cfg.Extraction)
	extractor := extract.NewService(rules, ai, cfg.Extraction)

	locks := lock.NewManager(pool, cfg.Lock.Timeout(), cfg.Lock.PollInterval())
	orch := normalize.NewOrchestrator(pool, store.NewEntityStore(pool), snapshot.NewStore(),
		normalize.NewRanker(cfg.Ranker), locks, cfg.Extraction.SchemaVersion)

	events := make(chan session.Event, 256)
	runner := session.NewRunner(extractor, orch, model, cfg.Session, events)

	return &env{
		Pool:   pool,
		Cache:  cacheStore,
		Model:  model,
		Runner: runner,
		Events: events,
	}, nil
}
