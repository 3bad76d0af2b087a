package planning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/breaker"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
)

// Message is one chat message sent to the model runtime
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the model runtime generation request
type GenerateRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

// GenerateResponse is the model runtime generation response
type GenerateResponse struct {
	Content string `json:"content"`
}

// ModelClient calls the model runtime service over HTTP
type ModelClient struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	tracer      trace.Tracer
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
}

// NewModelClient creates a model runtime client from configuration
func NewModelClient(cfg *config.Config, logger *slog.Logger) *ModelClient {
	logger = logging.OrDefault(logger)

	return &ModelClient{
		baseURL:     cfg.Runtime.ModelURL,
		model:       cfg.ModelName,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: cfg.Runtime.Timeout,
		},
		tracer:  otel.Tracer("model-runtime-client"),
		breaker: breaker.New("model-runtime", logger),
		logger:  logger,
	}
}

// Generate sends the system directive and user message and returns the
// model's raw text response
func (c *ModelClient) Generate(ctx context.Context, system, user string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "model_runtime.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("model", c.model),
		attribute.Float64("temperature", c.temperature),
	)

	req := GenerateRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generateInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to call model runtime: %w", err)
	}

	content := result.(string)
	span.SetAttributes(attribute.Int("response_length", len(content)))
	return content, nil
}

func (c *ModelClient) generateInternal(ctx context.Context, req GenerateRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("model runtime returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return "", fmt.Errorf("model runtime returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return genResp.Content, nil
}

// IsHealthy checks if the model runtime service is reachable
func (c *ModelClient) IsHealthy(ctx context.Context) bool {
	return probeHealth(ctx, c.tracer, c.breaker, c.baseURL, "model_runtime.health_check")
}

// probeHealth treats an open breaker as unhealthy without a network call
func probeHealth(ctx context.Context, tracer trace.Tracer, cb *gobreaker.CircuitBreaker, baseURL, spanName string) bool {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	if cb.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))
	return healthy
}
