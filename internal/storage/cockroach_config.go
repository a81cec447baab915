package storage

import "time"

// CockroachConfig configures connection pooling for PostgreSQL and
// CockroachDB handles shared by the KV store and the job store.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns default connection pool settings.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PoolConfig derives pool settings from the configured connection limit and
// lifetime, keeping the defaults for anything unset.
func PoolConfig(maxConns int, lifetime time.Duration) *CockroachConfig {
	cfg := DefaultCockroachConfig()
	if maxConns > 0 {
		cfg.MaxOpenConns = maxConns
		if cfg.MaxIdleConns > maxConns {
			cfg.MaxIdleConns = maxConns
		}
	}
	if lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	return cfg
}
