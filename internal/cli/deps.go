package cli

import (
	"context"
	"fmt"

	"github.com/devrev/querysync/internal/config"
	"github.com/devrev/querysync/internal/store"
	"go.uber.org/zap"
)

// openStore opens the record store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		pg := cfg.Postgres
		s, err := store.NewPostgresStore(ctx, pg.Host, pg.Port, pg.Database, pg.User, pg.Password, pg.SSLMode, pg.MaxConns, pg.MinConns, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		logger.Warn("Using in-memory store, records are lost on exit")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

// openIdempotencyStore opens the backend that remembers forwarded creates.
func openIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (store.IdempotencyStore, error) {
	switch cfg.Backend {
	case "redis":
		r := cfg.Redis
		s, err := store.NewRedisIdempotencyStore(r.Host, r.Port, r.Password, r.DB, r.PoolSize, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return store.NewInMemoryIdempotencyStore(cfg.MaxSize, logger), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend: %q", cfg.Backend)
	}
}
