package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/roomviz/internal/config"
)

// Open builds the configured backend wrapped with the per-value quota.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		store = NewMemoryStore(0)
	case "file":
		store, err = NewFileStore(cfg.File.Dir)
	case "sqlite":
		store, err = NewSQLiteStore(ctx, cfg.SQLite.Path, cfg.SQLite.Driver)
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.Postgres.DSN,
			PoolConfig(cfg.Postgres.MaxConnections, cfg.Postgres.ConnMaxLifetime))
	case "s3":
		store, err = NewS3Store(ctx, S3StoreConfig{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	return WithQuota(store, cfg.MaxValueBytes), nil
}
