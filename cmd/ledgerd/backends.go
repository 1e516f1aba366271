package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/projectledger/internal/handler"
	"github.com/jmerrifield20/projectledger/internal/ledger"
)

type chainStore interface {
	ledger.Store
	ledger.ProjectLister
}

// backends holds the opened storage and lock dependencies.
type backends struct {
	store   ledger.Store
	lister  ledger.ProjectLister
	locker  ledger.Locker
	pool    *pgxpool.Pool // nil unless Postgres is configured
	probes  map[string]handler.Probe
	closers []func()
}

// Close releases everything in reverse opening order.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *viper.Viper, logger *zap.Logger) (_ *backends, err error) {
	b := &backends{probes: map[string]handler.Probe{}}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	backend := cfg.GetString("store.backend")
	if backend == "postgres" || cfg.GetBool("projects.check_existence") {
		pool, err := pgxpool.New(ctx, cfg.GetString("database.url"))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		b.pool = pool
		b.probes["postgres"] = pool.Ping
		logger.Info("connected to postgres")
	}

	var store chainStore
	switch backend {
	case "memory":
		store = ledger.NewMemoryStore()
		logger.Warn("using in-memory ledger store, events are lost on restart")
	case "postgres":
		store = ledger.NewPostgresStore(b.pool, logger)
	case "sqlite":
		s, err := ledger.OpenSQLite(ctx, cfg.GetString("sqlite.path"), logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		store = s
	case "badger":
		s, err := ledger.OpenBadger(ledger.BadgerConfig{
			Path:       cfg.GetString("badger.path"),
			SyncWrites: cfg.GetBool("badger.sync_writes"),
		}, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		store = s
	default:
		return nil, fmt.Errorf("unknown store.backend %q (want memory, postgres, sqlite or badger)", backend)
	}
	b.store, b.lister = store, store

	switch lock := cfg.GetString("lock.backend"); lock {
	case "local":
		b.locker = ledger.NewKeyedLocker()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetString("redis.addr"),
			Password: cfg.GetString("redis.password"),
			DB:       cfg.GetInt("redis.db"),
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.locker = ledger.NewRedisLocker(client, cfg.GetDuration("lock.ttl"), logger)
		b.probes["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("using redis project locks", zap.String("addr", cfg.GetString("redis.addr")))
	default:
		return nil, fmt.Errorf("unknown lock.backend %q (want local or redis)", lock)
	}
	return b, nil
}
