package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-engine/internal/engine"
	"github.com/sells-group/contact-engine/internal/merge"
	"github.com/sells-group/contact-engine/internal/resilience"
	"github.com/sells-group/contact-engine/internal/resolver"
	"github.com/sells-group/contact-engine/internal/similarity"
	"github.com/sells-group/contact-engine/internal/store"
)

// engineEnv holds the initialized store and engine shared by the ingest,
// batch, resolve, attribute, and serve commands.
type engineEnv struct {
	Store  store.ContactStore
	Engine *engine.Engine
}

// Close releases resources held by the engine environment.
func (env *engineEnv) Close() {
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

// initStore builds the configured store backend.
func initStore(ctx context.Context) (store.ContactStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "contacts.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver (CONTACT_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, similarity scorer, resolver, and merge policy.
// Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	simCfg := similarity.DefaultConfig()
	if cfg.Resolver.SimilarityConfigPath != "" {
		simCfg, err = similarity.LoadConfig(cfg.Resolver.SimilarityConfigPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("loaded similarity config", zap.String("path", cfg.Resolver.SimilarityConfigPath))
	}
	scorer := similarity.NewScorer(simCfg)

	thresholds := resolver.DefaultThresholds()
	if cfg.Resolver.NameMatchThreshold > 0 {
		thresholds.NameAlone = cfg.Resolver.NameMatchThreshold
	}
	if cfg.Resolver.NameCorroborateThreshold > 0 {
		thresholds.NameCorroborated = cfg.Resolver.NameCorroborateThreshold
	}
	if cfg.Resolver.CompanyMatchThreshold > 0 {
		thresholds.Company = cfg.Resolver.CompanyMatchThreshold
	}

	res := resolver.New(st, scorer, thresholds)
	merger := merge.New(merge.Config{AuthoritativeSources: cfg.Merge.AuthoritativeSources})

	retry := resilience.DefaultRetryConfig()
	if cfg.Resolver.LookupRetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.Resolver.LookupRetryMaxAttempts
	}
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("retrying candidate lookup",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	eng := engine.New(st, res, merger, engine.Options{
		BatchConcurrency: cfg.Batch.MaxConcurrentContacts,
		Retry:            retry,
	})

	return &engineEnv{Store: st, Engine: eng}, nil
}
