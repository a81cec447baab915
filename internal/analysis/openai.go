package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/roomviz/internal/imagedata"
	"github.com/haasonsaas/roomviz/internal/renderer"
)

// OpenAIConfig configures the OpenAI-compatible analyzer.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIAnalyzer uses a chat completion with an inline image.
type OpenAIAnalyzer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIAnalyzer creates an analyzer for OpenAI or any compatible API.
func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIAnalyzer{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, image string) (*renderer.RoomAnalysis, error) {
	img, err := imagedata.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("openai analyze: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    img.DataURI(),
						Detail: openai.ImageURLDetailLow,
					},
				},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai analyze: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoAnalysis
	}
	return parseAnalysis(resp.Choices[0].Message.Content)
}
