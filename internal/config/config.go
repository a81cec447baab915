package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for roomviz.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Renderer      RendererConfig      `yaml:"renderer"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Poller        PollerConfig        `yaml:"poller"`
	Session       SessionConfig       `yaml:"session"`
	Recovery      RecoveryConfig      `yaml:"recovery"`
	Storage       StorageConfig       `yaml:"storage"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

type AuthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	Issuer      string        `yaml:"issuer"`
	APIKeys     []APIKey      `yaml:"api_keys"`
}

// APIKey is a static key for service-to-service callers.
type APIKey struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// Load reads, merges, decodes, defaults and validates the configuration file.
// YAML and JSON5 files are supported, with ${ENV} expansion and $include.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 32 << 20
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	applyRendererDefaults(&cfg.Renderer, &cfg.Analysis)
	applySessionDefaults(&cfg.Session, &cfg.Poller, &cfg.Recovery)
	applyStorageDefaults(&cfg.Storage, &cfg.Jobs)
}

func validate(cfg *Config) error {
	var issues []string
	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 0 and 65535")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		issues = append(issues, "auth.jwt_secret is required when auth is enabled")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}
	issues = append(issues, rendererIssues(&cfg.Renderer, &cfg.Analysis)...)
	issues = append(issues, sessionIssues(&cfg.Session, &cfg.Poller, &cfg.Recovery)...)
	issues = append(issues, storageIssues(&cfg.Storage, &cfg.Jobs)...)

	if len(issues) == 0 {
		return nil
	}
	return errors.New("invalid config: " + strings.Join(issues, "; "))
}
