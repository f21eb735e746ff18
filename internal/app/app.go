// Package app assembles the import pipeline from configuration. It is shared
// by the HTTP server and the plotctl CLI.
package app

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/stwalsh4118/plotsync/internal/cadastre"
	"github.com/stwalsh4118/plotsync/internal/config"
	"github.com/stwalsh4118/plotsync/internal/database"
	"github.com/stwalsh4118/plotsync/internal/handlers"
	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/normalize"
	"github.com/stwalsh4118/plotsync/internal/reconcile"
	"github.com/stwalsh4118/plotsync/internal/repository"
	"github.com/stwalsh4118/plotsync/internal/resolver"
	"github.com/stwalsh4118/plotsync/internal/services"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config  *config.Config
	DB      *database.Database
	Redis   *redis.Client
	Service *services.ImportService
	log     *logger.Logger
}

// Options selects which parts of the pipeline to build.
type Options struct {
	// WithCatalog connects to PostgreSQL and applies the schema. Without it
	// commits fail with services.ErrCatalogUnavailable.
	WithCatalog bool
}

// New builds the pipeline. The Redis cache is optional: when it cannot be
// reached lookups run uncached.
func New(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	aliases := normalize.DefaultAliases()
	if cfg.Import.AliasesFile != "" {
		loaded, err := normalize.LoadAliases(cfg.Import.AliasesFile)
		if err != nil {
			return nil, err
		}
		aliases = loaded
		log.Info("Column aliases loaded", map[string]interface{}{"file": cfg.Import.AliasesFile})
	}

	svcOpts := services.ImportServiceOptions{
		Aliases: aliases,
		MaxRows: cfg.Import.MaxRows,
	}

	if cfg.Resolver.BaseURL != "" {
		svcOpts.Resolver = a.newResolver(ctx)
	} else {
		log.Warn("Cadastral lookup disabled: RESOLVER_BASE_URL is empty", nil)
	}

	if opts.WithCatalog {
		db, err := database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		log.Info("Database connection established", map[string]interface{}{
			"host":     cfg.Database.Host,
			"database": cfg.Database.Name,
			"pool_max": cfg.Database.PoolMax,
		})

		svcOpts.Engine = reconcile.NewEngine(repository.NewListingRepository(db), log)
		svcOpts.Logs = repository.NewImportLogRepository(db)
	}

	a.Service = services.NewImportService(svcOpts, log)
	return a, nil
}

func (a *App) newResolver(ctx context.Context) *resolver.Resolver {
	cfg := a.Config
	var lookup resolver.Lookup = cadastre.NewClient(cadastre.ClientOptions{
		BaseURL:     cfg.Resolver.BaseURL,
		CoordsOrder: cfg.Resolver.CoordsOrder,
		Timeout:     cfg.Resolver.HTTPTimeout,
		RetryCount:  cfg.Resolver.RetryCount,
	}, a.log)

	if cfg.Cache.RedisAddr != "" {
		rdb, err := cadastre.NewRedisClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			a.log.Warn("Cadastral cache unavailable, lookups run uncached", map[string]interface{}{
				"addr":  cfg.Cache.RedisAddr,
				"error": err.Error(),
			})
		} else {
			a.Redis = rdb
			lookup = cadastre.NewCachedLookup(lookup, rdb, cfg.Cache.TTL, a.log)
		}
	}

	return resolver.New(lookup, resolver.Options{
		CallTimeout:            cfg.Resolver.CallTimeout,
		BatchPause:             cfg.Resolver.BatchPause,
		BatchSize:              cfg.Resolver.BatchSize,
		MaxConsecutiveFailures: cfg.Resolver.MaxConsecutiveFailures,
	}, a.log)
}

// HealthHandler returns the health endpoints for this process.
func (a *App) HealthHandler() *handlers.HealthHandler {
	var db, cache handlers.Pinger
	if a.DB != nil {
		db = a.DB
	}
	if a.Redis != nil {
		rdb := a.Redis
		cache = handlers.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return handlers.NewHealthHandler(db, cache, a.Config.Server.Env)
}

// Close releases the database pool and the Redis client.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn("Failed to close redis client", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
