package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/roomviz/internal/imagedata"
	"github.com/haasonsaas/roomviz/internal/observability"
)

// DefaultGeminiModel is the image-capable model used when none is set.
const DefaultGeminiModel = "gemini-2.5-flash-image"

// contentGenerator is the subset of *genai.Models the renderer uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini renderer.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// GeminiRenderer renders visualizations, angle views and instruction edits
// with Gemini image generation. It never asks for clarification; existing
// furniture handling is expressed in the prompt instead.
type GeminiRenderer struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewGeminiRenderer creates a Gemini-backed renderer.
func NewGeminiRenderer(ctx context.Context, cfg GeminiConfig) (*GeminiRenderer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiRenderer(client.Models, cfg), nil
}

func newGeminiRenderer(models contentGenerator, cfg GeminiConfig) *GeminiRenderer {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GeminiRenderer{
		models:  models,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "renderer", "backend", "gemini"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}
}

func (g *GeminiRenderer) Visualize(ctx context.Context, req VisualizeRequest) (*VisualizeResponse, error) {
	image, err := g.generate(ctx, "visualize", req.BaseImage, visualizePrompt(req))
	if err != nil {
		return nil, err
	}
	return &VisualizeResponse{RenderedImage: image}, nil
}

func (g *GeminiRenderer) VisualizeAngle(ctx context.Context, req AngleRequest) (*ImageResponse, error) {
	prompt := fmt.Sprintf("Show this exact furnished room from a %s viewpoint. Keep every piece of furniture, "+
		"its materials and colors, the walls, floor and lighting unchanged. Only the camera moves.", req.Angle)
	image, err := g.generate(ctx, "visualize/angle", req.BaseImage, prompt)
	if err != nil {
		return nil, err
	}
	return &ImageResponse{RenderedImage: image}, nil
}

func (g *GeminiRenderer) EditWithInstructions(ctx context.Context, req EditRequest) (*ImageResponse, error) {
	var b strings.Builder
	b.WriteString("Edit this room photo following the instruction. Keep everything not mentioned unchanged.\n")
	b.WriteString("Instruction: ")
	b.WriteString(req.Instruction)
	if len(req.Products) > 0 {
		b.WriteString("\nFurniture in the room:\n")
		for _, p := range req.Products {
			fmt.Fprintf(&b, "- %s", p.Name)
			if p.Category != "" {
				fmt.Fprintf(&b, " (%s)", p.Category)
			}
			b.WriteString("\n")
		}
	}
	image, err := g.generate(ctx, "edit-with-instructions", req.Image, b.String())
	if err != nil {
		return nil, err
	}
	return &ImageResponse{RenderedImage: image}, nil
}

func visualizePrompt(req VisualizeRequest) string {
	var b strings.Builder
	switch {
	case req.IsIncremental:
		b.WriteString("Add the following products to this already furnished room. Do not move or remove anything already placed.\n")
	case req.ForceReset:
		b.WriteString("This is an empty room. Furnish it with exactly the following products and nothing else.\n")
	default:
		b.WriteString("Furnish this room with the following products.\n")
	}
	switch req.Action {
	case ActionReplaceOne:
		b.WriteString("Replace the single most similar existing piece of furniture with the new product.\n")
	case ActionReplaceAll:
		b.WriteString("Remove all existing furniture of the same kind before placing the new products.\n")
	case ActionAdd:
		b.WriteString("Keep existing furniture and add the new products alongside it.\n")
	}
	for _, p := range req.Products {
		fmt.Fprintf(&b, "- %s", p.Name)
		if p.Category != "" {
			fmt.Fprintf(&b, " [%s]", p.Category)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteString("\n")
	}
	for _, pos := range req.CustomPositions {
		fmt.Fprintf(&b, "Place %s centered at x=%.2f y=%.2f of the frame.\n", pos.InstanceID, pos.X, pos.Y)
	}
	if a := req.Analysis; a != nil {
		fmt.Fprintf(&b, "Room: %s. Style: %s. Lighting: %s.\n", orUnknown(a.RoomType), orUnknown(a.Style), orUnknown(a.Lighting))
	}
	if req.Quality == QualityHigh {
		b.WriteString("Produce a photorealistic, high resolution result with accurate shadows and scale.\n")
	}
	b.WriteString("Keep the room architecture, camera angle and lighting identical.")
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (g *GeminiRenderer) generate(ctx context.Context, endpoint, base, prompt string) (string, error) {
	img, err := imagedata.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%s: base image: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx, span := g.tracer.TraceRendererCall(ctx, endpoint)
	defer span.End()
	start := time.Now()
	status := "error"
	defer func() {
		g.metrics.RecordRendererRequest(endpoint, status, time.Since(start).Seconds())
	}()

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType}},
		},
	}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		g.tracer.RecordError(span, err)
		return "", fmt.Errorf("%s: gemini: %w", endpoint, err)
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				status = "200"
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return imagedata.EncodeDataURI(mimeType, part.InlineData.Data), nil
			}
		}
	}
	g.logger.Warn("gemini returned no image", "endpoint", endpoint, "text", resp.Text())
	return "", fmt.Errorf("%s: %w", endpoint, ErrEmptyImage)
}

type composite struct {
	Renderer
	FurnitureRemover
	Segmenter
	StoreLister
}

// WithRenderer returns a Client that sends visualize, angle and instruction
// calls to r and everything else to base.
func WithRenderer(base Client, r Renderer) Client {
	return composite{
		Renderer:         r,
		FurnitureRemover: base,
		Segmenter:        base,
		StoreLister:      base,
	}
}
