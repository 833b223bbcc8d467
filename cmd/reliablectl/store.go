package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fortressi/reliable/config"
	"github.com/fortressi/reliable/idempotency"
	"github.com/fortressi/reliable/idempotency/redisstore"
	"github.com/fortressi/reliable/idempotency/sqlstore"
)

// recordStore is the configured store plus the maintenance hooks its backend
// supports. Values are handled as raw JSON since the CLI does not know the
// application's result types.
type recordStore struct {
	idempotency.Store[json.RawMessage]

	// purge removes expired records and reports how many went away.
	purge func(ctx context.Context) (int64, error)
	// migrate creates the backing schema, if the backend has one.
	migrate func(ctx context.Context) error
	// schema lists the DDL migrate would apply.
	schema func() []string
	close  func() error
}

func openRecordStore(ctx context.Context, cfg config.StoreConfig) (*recordStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		store := idempotency.NewMemoryStore[json.RawMessage]()
		return &recordStore{
			Store: store,
			purge: func(context.Context) (int64, error) { return int64(store.Sweep()), nil },
		}, nil

	case config.DriverSQLite, config.DriverPostgres:
		db, dialect, err := sqlstore.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.New[json.RawMessage](db, dialect, sqlstore.WithTable(cfg.Table))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &recordStore{
			Store:   store,
			purge:   store.PurgeExpired,
			migrate: store.EnsureSchema,
			schema:  store.SchemaStatements,
			close:   db.Close,
		}, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
		}
		store, err := redisstore.New[json.RawMessage](client, redisstore.WithPrefix(cfg.Redis.Prefix))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &recordStore{
			Store: store,
			// redis expires records through key TTLs
			purge: func(context.Context) (int64, error) { return 0, nil },
			close: client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func (s *recordStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
