package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // Pure-Go SQLite driver, registered as "sqlite"
)

// Dialect selects placeholder style and DDL.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// SQLStore keeps values in a single kv_entries table. It works with SQLite
// and with PostgreSQL-compatible databases such as CockroachDB.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	timing  func(operation string, d time.Duration)
}

// NewSQLiteStore opens (and migrates) a SQLite database. driver is "sqlite"
// for the pure-Go driver or "sqlite3" for the cgo one.
func NewSQLiteStore(ctx context.Context, path, driver string) (*SQLStore, error) {
	if path == "" {
		path = ":memory:"
	}
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	store := &SQLStore{db: db, dialect: DialectSQLite}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore opens a PostgreSQL/CockroachDB pool, pings it and runs
// the migration.
func NewPostgresStore(ctx context.Context, dsn string, config *CockroachConfig) (*SQLStore, error) {
	db, err := OpenPostgres(ctx, dsn, config)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, dialect: DialectPostgres}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreWithDB wraps an existing handle without migrating.
func NewSQLStoreWithDB(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// SetTiming installs a callback that receives each query's duration.
func (s *SQLStore) SetTiming(fn func(operation string, d time.Duration)) {
	s.timing = fn
}

// Migrate creates the kv_entries table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	valueType := "BLOB"
	if s.dialect == DialectPostgres {
		valueType = "BYTEA"
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv_entries (
		key_name TEXT PRIMARY KEY,
		value `+valueType+` NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate kv_entries: %w", err)
	}
	return nil
}

func (s *SQLStore) ph(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) observe(operation string, start time.Time) {
	if s.timing != nil {
		s.timing(operation, time.Since(start))
	}
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	defer s.observe("get", time.Now())
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key_name = `+s.ph(1), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	defer s.observe("put", time.Now())
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key_name, value, updated_at) VALUES (`+s.ph(1)+`, `+s.ph(2)+`, `+s.ph(3)+`)
		 ON CONFLICT (key_name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	defer s.observe("delete", time.Now())
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key_name = `+s.ph(1), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, prefix string) ([]Meta, error) {
	defer s.observe("list", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_name, length(value), updated_at FROM kv_entries
		 WHERE key_name LIKE `+s.ph(1)+` ESCAPE '\' ORDER BY key_name`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]Meta, 0)
	for rows.Next() {
		var (
			meta      Meta
			updatedAt int64
		)
		if err := rows.Scan(&meta.Key, &meta.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan kv entry: %w", err)
		}
		meta.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

// DB exposes the handle so other stores can share the pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// OpenPostgres opens a pooled PostgreSQL/CockroachDB handle and pings it.
func OpenPostgres(ctx context.Context, dsn string, config *CockroachConfig) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
