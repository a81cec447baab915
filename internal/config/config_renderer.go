package config

import (
	"fmt"
	"strings"
	"time"
)

// RendererConfig configures the image rendering service.
type RendererConfig struct {
	// Backend selects "http" (renderer service only) or "gemini"
	// (Gemini for visualize, angle and instruction edits, HTTP for the rest).
	Backend string `yaml:"backend"`

	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// Timeout bounds render, angle and edit calls.
	Timeout time.Duration `yaml:"timeout"`

	// SegmentationTimeout bounds extraction and segmentation calls, which
	// can hit cold starts.
	SegmentationTimeout time.Duration `yaml:"segmentation_timeout"`

	Retry  RetryConfig  `yaml:"retry"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// RetryConfig bounds retries of idempotent renderer reads.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AnalysisConfig configures the optional room analyzer that produces
// rendering hints.
type AnalysisConfig struct {
	// Provider is "", "openai" or "anthropic". Empty disables analysis.
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

func applyRendererDefaults(r *RendererConfig, a *AnalysisConfig) {
	if r.Backend == "" {
		r.Backend = "http"
	}
	if r.BaseURL == "" {
		r.BaseURL = "http://localhost:8000/api"
	}
	if r.Timeout == 0 {
		r.Timeout = 120 * time.Second
	}
	if r.SegmentationTimeout == 0 {
		r.SegmentationTimeout = 300 * time.Second
	}
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = 3
	}
	if r.Retry.InitialDelay == 0 {
		r.Retry.InitialDelay = 250 * time.Millisecond
	}
	if r.Retry.MaxDelay == 0 {
		r.Retry.MaxDelay = 5 * time.Second
	}
	if r.Gemini.Model == "" {
		r.Gemini.Model = "gemini-2.5-flash-image"
	}
	if a.Timeout == 0 {
		a.Timeout = 30 * time.Second
	}
	if a.CacheTTL == 0 {
		a.CacheTTL = time.Hour
	}
	if a.Model == "" {
		switch strings.ToLower(a.Provider) {
		case "openai":
			a.Model = "gpt-4o-mini"
		case "anthropic":
			a.Model = "claude-sonnet-4-5"
		}
	}
}

func rendererIssues(r *RendererConfig, a *AnalysisConfig) []string {
	var issues []string
	switch strings.ToLower(r.Backend) {
	case "http":
	case "gemini":
		if strings.TrimSpace(r.Gemini.APIKey) == "" {
			issues = append(issues, "renderer.gemini.api_key is required for the gemini backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("renderer.backend %q must be http or gemini", r.Backend))
	}
	if strings.TrimSpace(r.BaseURL) == "" {
		issues = append(issues, "renderer.base_url is required")
	}
	switch strings.ToLower(a.Provider) {
	case "":
	case "openai", "anthropic":
		if strings.TrimSpace(a.APIKey) == "" {
			issues = append(issues, fmt.Sprintf("analysis.api_key is required for provider %q", a.Provider))
		}
	default:
		issues = append(issues, fmt.Sprintf("analysis.provider %q must be openai or anthropic", a.Provider))
	}
	return issues
}
