package kvstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/diggerhq/digger/statebackend/internal/config"
)

// Open builds the adapter selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		slog.Warn("Using in-memory store; state is lost on restart")
		return NewMemStore(), nil

	case config.BackendRedis:
		store := NewRedisStore(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Redis.Addr, err)
		}
		slog.Info("Connected to Redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return store, nil

	case config.BackendSQL:
		store, err := OpenSQL(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("SQL store ready", "driver", cfg.SQL.Driver)
		return store, nil

	case config.BackendS3:
		return NewS3Store(ctx, S3Options{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})

	case config.BackendDynamoDB:
		return NewDynamoDBStore(ctx, DynamoDBOptions{
			Table:       cfg.DynamoDB.Table,
			Region:      cfg.DynamoDB.Region,
			Endpoint:    cfg.DynamoDB.Endpoint,
			CreateTable: cfg.DynamoDB.CreateTable,
		})

	case config.BackendGCS:
		return NewGCSStore(ctx, GCSOptions{
			Bucket: cfg.GCS.Bucket,
			Prefix: cfg.GCS.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
