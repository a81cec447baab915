package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StorageConfig selects the durable key-value backend used for recovery
// snapshots, curation drafts, cached store lists and persisted room images.
type StorageConfig struct {
	// Backend is one of memory, file, sqlite, postgres, s3.
	Backend string `yaml:"backend"`

	// MaxValueBytes rejects larger values with a quota error. Zero disables
	// the limit.
	MaxValueBytes int `yaml:"max_value_bytes"`

	File     FileStorageConfig     `yaml:"file"`
	SQLite   SQLiteStorageConfig   `yaml:"sqlite"`
	Postgres PostgresStorageConfig `yaml:"postgres"`
	S3       S3StorageConfig       `yaml:"s3"`
}

type FileStorageConfig struct {
	Dir string `yaml:"dir"`
}

type SQLiteStorageConfig struct {
	Path string `yaml:"path"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver"`
}

type PostgresStorageConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type S3StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// JobsConfig controls furniture-removal job records.
type JobsConfig struct {
	// Store is "memory" or "postgres" (shares storage.postgres.dsn).
	Store         string        `yaml:"store"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

func applyStorageDefaults(s *StorageConfig, j *JobsConfig) {
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.MaxValueBytes == 0 {
		s.MaxValueBytes = 5 << 20
	}
	if s.File.Dir == "" {
		s.File.Dir = "./data/kv"
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = "./data/roomviz.db"
	}
	if s.SQLite.Driver == "" {
		s.SQLite.Driver = "sqlite"
	}
	if s.Postgres.MaxConnections == 0 {
		s.Postgres.MaxConnections = 10
	}
	if s.Postgres.ConnMaxLifetime == 0 {
		s.Postgres.ConnMaxLifetime = 5 * time.Minute
	}
	if s.S3.Region == "" {
		s.S3.Region = "us-east-1"
	}
	if j.Store == "" {
		j.Store = "memory"
	}
	if j.Retention == 0 {
		j.Retention = 24 * time.Hour
	}
	if j.PruneSchedule == "" {
		j.PruneSchedule = "@daily"
	}
}

func storageIssues(s *StorageConfig, j *JobsConfig) []string {
	var issues []string
	switch strings.ToLower(s.Backend) {
	case "memory", "file", "sqlite":
	case "postgres":
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			issues = append(issues, "storage.postgres.dsn is required for the postgres backend")
		}
	case "s3":
		if strings.TrimSpace(s.S3.Bucket) == "" {
			issues = append(issues, "storage.s3.bucket is required for the s3 backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("storage.backend %q is not supported", s.Backend))
	}
	switch s.SQLite.Driver {
	case "sqlite", "sqlite3":
	default:
		issues = append(issues, fmt.Sprintf("storage.sqlite.driver %q must be sqlite or sqlite3", s.SQLite.Driver))
	}
	if s.MaxValueBytes < 0 {
		issues = append(issues, "storage.max_value_bytes must not be negative")
	}
	switch strings.ToLower(j.Store) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			issues = append(issues, "storage.postgres.dsn is required for the postgres job store")
		}
	default:
		issues = append(issues, fmt.Sprintf("jobs.store %q must be memory or postgres", j.Store))
	}
	if err := ValidateSchedule(j.PruneSchedule); err != nil {
		issues = append(issues, "jobs.prune_schedule: "+err.Error())
	}
	return issues
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ValidateSchedule parses a cron expression or descriptor such as "@every 5m".
func ValidateSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("schedule is required")
	}
	_, err := scheduleParser.Parse(expr)
	return err
}

// ScheduleParser returns the cron parser matching ValidateSchedule.
func ScheduleParser() cron.Parser {
	return scheduleParser
}
