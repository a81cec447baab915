package analysis

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/roomviz/internal/imagedata"
	"github.com/haasonsaas/roomviz/internal/renderer"
)

// messageCreator is the subset of the Anthropic messages service used here.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicConfig configures the Claude analyzer.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// AnthropicAnalyzer asks Claude to describe the room.
type AnthropicAnalyzer struct {
	messages messageCreator
	model    string
	timeout  time.Duration
}

// NewAnthropicAnalyzer creates a Claude-backed analyzer.
func NewAnthropicAnalyzer(cfg AnthropicConfig) (*AnthropicAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(options...)
	return newAnthropicAnalyzer(&client.Messages, cfg), nil
}

func newAnthropicAnalyzer(messages messageCreator, cfg AnthropicConfig) *AnthropicAnalyzer {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &AnthropicAnalyzer{messages: messages, model: cfg.Model, timeout: cfg.Timeout}
}

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, image string) (*renderer.RoomAnalysis, error) {
	img, err := imagedata.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("anthropic analyze: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msg, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic analyze: %w", err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseAnalysis(text.String())
}
