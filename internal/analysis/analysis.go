// Package analysis asks a vision model for scene hints (room type, style,
// lighting) that make full renders more faithful to the uploaded room.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/roomviz/internal/config"
	"github.com/haasonsaas/roomviz/internal/renderer"
)

// ErrNoAnalysis is returned when the model response holds no usable JSON.
var ErrNoAnalysis = errors.New("analyzer returned no analysis")

// Analyzer produces rendering hints for a room image given as a data URI.
type Analyzer interface {
	Analyze(ctx context.Context, image string) (*renderer.RoomAnalysis, error)
}

const prompt = `You are looking at a photo of a room that will be furnished.
Describe the room as a single JSON object with these keys and nothing else:
{"room_type": string, "style": string, "lighting": string, "dimensions": string,
 "colors": [string], "notes": string}
"dimensions" is a rough estimate such as "4m x 5m". "colors" lists up to five dominant wall and floor colors.`

// parseAnalysis extracts the first JSON object in text. Models sometimes wrap
// the object in prose or a code fence.
func parseAnalysis(text string) (*renderer.RoomAnalysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoAnalysis
	}
	var out renderer.RoomAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAnalysis, err)
	}
	if out.RoomType == "" && out.Style == "" && out.Lighting == "" {
		return nil, ErrNoAnalysis
	}
	return &out, nil
}

// New builds the analyzer selected by cfg, wrapped in a result cache. It
// returns nil, nil when analysis is disabled.
func New(cfg config.AnalysisConfig, logger *slog.Logger) (Analyzer, error) {
	var (
		a   Analyzer
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case "openai":
		a, err = NewOpenAIAnalyzer(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "anthropic":
		a, err = NewAnthropicAnalyzer(AnthropicConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("room analysis enabled", "provider", cfg.Provider, "model", cfg.Model)
	}
	return NewCached(a, cfg.CacheTTL), nil
}
