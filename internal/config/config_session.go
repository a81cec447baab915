package config

import (
	"time"
)

// PollerConfig bounds the furniture-removal status poller.
type PollerConfig struct {
	Interval             time.Duration `yaml:"interval"`
	MaxAttempts          int           `yaml:"max_attempts"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
}

// SessionConfig controls visualization session lifecycle and limits.
type SessionConfig struct {
	// IdleTimeout closes sessions without activity (after a recovery capture).
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepSchedule is the cron expression for the idle sweep.
	SweepSchedule string `yaml:"sweep_schedule"`

	// MaxHistory caps the undo stack depth. Zero means unbounded.
	MaxHistory int `yaml:"max_history"`

	// MaxUploadBytes rejects larger decoded room uploads.
	MaxUploadBytes int `yaml:"max_upload_bytes"`

	// MaxImageDimension downsizes uploads whose longest side exceeds it.
	MaxImageDimension int `yaml:"max_image_dimension"`
}

// RecoveryConfig controls durable snapshots and cached lookups.
type RecoveryConfig struct {
	StalenessWindow time.Duration `yaml:"staleness_window"`
	DraftTTL        time.Duration `yaml:"draft_ttl"`
	StoreListTTL    time.Duration `yaml:"store_list_ttl"`
	PruneSchedule   string        `yaml:"prune_schedule"`
}

func applySessionDefaults(s *SessionConfig, p *PollerConfig, r *RecoveryConfig) {
	if p.Interval == 0 {
		p.Interval = 2 * time.Second
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 150
	}
	if p.MaxConsecutiveErrors == 0 {
		p.MaxConsecutiveErrors = 3
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 30 * time.Minute
	}
	if s.SweepSchedule == "" {
		s.SweepSchedule = "@every 5m"
	}
	if s.MaxHistory == 0 {
		s.MaxHistory = 50
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = 15 << 20
	}
	if s.MaxImageDimension == 0 {
		s.MaxImageDimension = 2048
	}
	if r.StalenessWindow == 0 {
		r.StalenessWindow = time.Hour
	}
	if r.DraftTTL == 0 {
		r.DraftTTL = 24 * time.Hour
	}
	if r.StoreListTTL == 0 {
		r.StoreListTTL = 24 * time.Hour
	}
	if r.PruneSchedule == "" {
		r.PruneSchedule = "@hourly"
	}
}

func sessionIssues(s *SessionConfig, p *PollerConfig, r *RecoveryConfig) []string {
	var issues []string
	if p.Interval < 0 {
		issues = append(issues, "poller.interval must not be negative")
	}
	if p.MaxAttempts < 1 {
		issues = append(issues, "poller.max_attempts must be at least 1")
	}
	if p.MaxConsecutiveErrors < 0 {
		issues = append(issues, "poller.max_consecutive_errors must not be negative")
	}
	if s.MaxHistory < 0 {
		issues = append(issues, "session.max_history must not be negative")
	}
	if s.MaxUploadBytes < 0 {
		issues = append(issues, "session.max_upload_bytes must not be negative")
	}
	if r.StalenessWindow < 0 {
		issues = append(issues, "recovery.staleness_window must not be negative")
	}
	if err := ValidateSchedule(s.SweepSchedule); err != nil {
		issues = append(issues, "session.sweep_schedule: "+err.Error())
	}
	if err := ValidateSchedule(r.PruneSchedule); err != nil {
		issues = append(issues, "recovery.prune_schedule: "+err.Error())
	}
	return issues
}
