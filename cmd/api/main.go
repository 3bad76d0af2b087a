package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/gateway"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/planning"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/search"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/workspace"

	_ "github.com/bizmatters/agent-builder/dev-orchestrator/docs" // swagger docs
)

// @title Dev Orchestrator API
// @version 1.0
// @description Plans natural-language development tasks into atomic tasks,
// @description drives a development runtime over them and searches workspaces.

// @contact.name API Support
// @contact.email support@bizmatters.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	if err := run(); err != nil {
		slog.Error("dev-orchestrator exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LoggingLevel, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(logger)

	tp, err := initTracer()
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	sessionMetrics, err := metrics.NewSessionMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Initialize orchestration layer
	modelClient := planning.NewModelClient(cfg, logger)
	developerClient := orchestration.NewDeveloperRuntimeClient(cfg.Runtime, logger)
	coordinator := planning.NewCoordinator(modelClient, sessionMetrics, logger)
	orchestrator := orchestration.NewOrchestrator(coordinator, developerClient, cfg, sessionMetrics, logger)
	registry := orchestration.NewRegistry(orchestrator, logger)

	engine := search.NewEngine(workspace.NewIndexer(logger), cfg.Search, logger)

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(cfg.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT manager: %w", err)
		}
	}

	// Initialize gateway layer
	handler := gateway.NewHandler(registry, engine, map[string]gateway.HealthChecker{
		"model_runtime":     modelClient,
		"developer_runtime": developerClient,
	}, cfg.APIWorkspaceRoot(), logger)

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(gateway.RouterOptions{
		Handler:    handler,
		Stream:     gateway.NewSessionStream(registry, logger),
		JWTManager: jwtManager,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting dev-orchestrator API server", "port", cfg.Server.Port, "model", cfg.ModelName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := registry.Shutdown(ctx); err != nil {
		logger.Warn("sessions still running at shutdown", "error", err)
	}

	logger.Info("server exited")
	return nil
}

// initTracer initializes OpenTelemetry tracing
func initTracer() (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}
