package orchestration

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

// DeveloperRuntimeClient handles communication with the developer runtime service
type DeveloperRuntimeClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewDeveloperRuntimeClient creates a developer runtime client
func NewDeveloperRuntimeClient(cfg config.RuntimeConfig, logger *slog.Logger) *DeveloperRuntimeClient {
	logger = logging.OrDefault(logger)

	return &DeveloperRuntimeClient{
		baseURL: cfg.DeveloperURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tracer:  otel.Tracer("developer-runtime-client"),
		breaker: breaker.New("developer-runtime", logger),
		logger:  logger,
	}
}

// Develop sends the task list to the developer runtime and waits for its report
func (c *DeveloperRuntimeClient) Develop(ctx context.Context, req DevelopmentRequest) (*DevelopmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "developer_runtime.develop")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int("tasks", len(req.AtomicTasks)),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.developInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to invoke developer runtime: %w", err)
	}

	res := result.(*DevelopmentResult)
	span.SetAttributes(attribute.Int("errors", len(res.ErrorsEncountered)))
	return res, nil
}

func (c *DeveloperRuntimeClient) developInternal(ctx context.Context, req DevelopmentRequest) (*DevelopmentResult, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/develop", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("developer runtime returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("developer runtime returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result DevelopmentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// IsHealthy checks if the developer runtime service is healthy
func (c *DeveloperRuntimeClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "developer_runtime.health_check")
	defer span.End()

	// Use circuit breaker state as a quick health indicator
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
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
