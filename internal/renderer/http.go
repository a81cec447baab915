package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/retry"
)

const maxErrorBody = 2048

// HTTPConfig configures the HTTP rendering client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string

	// Timeout bounds render, angle and edit calls.
	Timeout time.Duration
	// SegmentationTimeout bounds extraction and segmentation calls.
	SegmentationTimeout time.Duration

	// Retry applies to idempotent reads only.
	Retry retry.Config

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// HTTPClient talks to the rendering service over JSON/HTTP.
type HTTPClient struct {
	baseURL             string
	apiKey              string
	timeout             time.Duration
	segmentationTimeout time.Duration
	retry               retry.Config
	http                *http.Client
	logger              *slog.Logger
	metrics             *observability.Metrics
	tracer              *observability.Tracer
}

// NewHTTPClient creates a client for the service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("renderer base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid renderer base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.SegmentationTimeout <= 0 {
		cfg.SegmentationTimeout = 300 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:             base,
		apiKey:              cfg.APIKey,
		timeout:             cfg.Timeout,
		segmentationTimeout: cfg.SegmentationTimeout,
		retry:               cfg.Retry,
		http:                cfg.HTTPClient,
		logger:              cfg.Logger.With("component", "renderer"),
		metrics:             cfg.Metrics,
		tracer:              cfg.Tracer,
	}, nil
}

func (c *HTTPClient) Visualize(ctx context.Context, req VisualizeRequest) (*VisualizeResponse, error) {
	var out VisualizeResponse
	if err := c.post(ctx, "/visualize", c.timeout, req, &out); err != nil {
		return nil, err
	}
	if !out.NeedsClarification && out.RenderedImage == "" {
		return nil, fmt.Errorf("visualize: %w", ErrEmptyImage)
	}
	return &out, nil
}

func (c *HTTPClient) VisualizeAngle(ctx context.Context, req AngleRequest) (*ImageResponse, error) {
	return c.postImage(ctx, "/visualize/angle", c.timeout, req)
}

func (c *HTTPClient) EditWithInstructions(ctx context.Context, req EditRequest) (*ImageResponse, error) {
	return c.postImage(ctx, "/edit-with-instructions", c.timeout, req)
}

func (c *HTTPClient) RemoveFurniture(ctx context.Context, req RemoveFurnitureRequest) (*RemoveFurnitureResponse, error) {
	var out RemoveFurnitureResponse
	if err := c.post(ctx, "/furniture/remove", c.timeout, req, &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		return nil, fmt.Errorf("furniture/remove: renderer returned no job id")
	}
	return &out, nil
}

// FurnitureStatus polls a job once. A 404 is returned as a StatusError so
// callers can detect a vanished job with IsNotFound.
func (c *HTTPClient) FurnitureStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}
	var out JobStatusResponse
	if err := c.get(ctx, "/furniture/status/"+url.PathEscape(jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ExtractLayers(ctx context.Context, req ExtractLayersRequest) (*ExtractLayersResponse, error) {
	var out ExtractLayersResponse
	if err := c.post(ctx, "/segmentation/extract-layers", c.segmentationTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SegmentAtPoint(ctx context.Context, req SegmentAtPointRequest) (*SegmentResponse, error) {
	var out SegmentResponse
	if err := c.post(ctx, "/segmentation/segment-at-point", c.segmentationTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SegmentAtPoints(ctx context.Context, req SegmentAtPointsRequest) (*SegmentResponse, error) {
	var out SegmentResponse
	if err := c.post(ctx, "/segmentation/segment-at-points", c.segmentationTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FinalizeMove(ctx context.Context, req FinalizeMoveRequest) (*ImageResponse, error) {
	return c.postImage(ctx, "/segmentation/finalize-move", c.segmentationTimeout, req)
}

func (c *HTTPClient) CompositeLayers(ctx context.Context, req CompositeLayersRequest) (*ImageResponse, error) {
	return c.postImage(ctx, "/segmentation/composite-layers", c.segmentationTimeout, req)
}

func (c *HTTPClient) RevisualizeWithPositions(ctx context.Context, req RevisualizeRequest) (*ImageResponse, error) {
	return c.postImage(ctx, "/segmentation/revisualize-with-positions", c.segmentationTimeout, req)
}

// Stores returns the retailer names. The service answers either a bare list
// or {"stores": [...]}.
func (c *HTTPClient) Stores(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/stores", &raw); err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Stores []string `json:"stores"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("stores: decode response: %w", err)
	}
	return wrapped.Stores, nil
}

func (c *HTTPClient) postImage(ctx context.Context, path string, timeout time.Duration, body any) (*ImageResponse, error) {
	var out ImageResponse
	if err := c.post(ctx, path, timeout, body, &out); err != nil {
		return nil, err
	}
	if out.Result() == "" {
		return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(path, "/"), ErrEmptyImage)
	}
	return &out, nil
}

// post sends a one-shot request. Mutating calls are never retried.
func (c *HTTPClient) post(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, path, payload, out)
}

// get retries transient failures with backoff. Client errors are final.
func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	result := retry.Do(ctx, c.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		err := c.do(callCtx, http.MethodGet, path, nil, out)
		if IsClientError(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if result.Err != nil && result.Attempts > 1 {
		c.logger.Debug("renderer read failed after retries", "path", path, "attempts", result.Attempts, "error", result.Err)
	}
	if result.Err != nil {
		var permanent *retry.PermanentError
		if errors.As(result.Err, &permanent) {
			return permanent.Err
		}
	}
	return result.Err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte, out any) error {
	endpoint := endpointName(path)
	ctx, span := c.tracer.TraceRendererCall(ctx, endpoint)
	defer span.End()
	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.RecordRendererRequest(endpoint, status, time.Since(start).Seconds())
	}()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.tracer.RecordError(span, err)
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
		c.tracer.RecordError(span, statusErr)
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.tracer.RecordError(span, err)
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// endpointName turns a path into a low-cardinality metric label.
func endpointName(path string) string {
	path = strings.TrimPrefix(path, "/")
	if strings.HasPrefix(path, "furniture/status/") {
		return "furniture/status"
	}
	return path
}
