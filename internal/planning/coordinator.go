// Package planning turns a natural-language request into atomic tasks.
package planning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
)

// ModelCapability is the external planning model
type ModelCapability interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Plan is the outcome of one planning call. Tasks is never empty.
type Plan struct {
	Tasks []models.AtomicTask
	// Fallback is set when Tasks holds the synthesized recovery task
	Fallback bool
	// Cause is the model, parse or validation error behind a fallback
	Cause error
}

// Coordinator invokes the planning model once per request and validates
// its output, substituting a recovery task when the output is unusable.
type Coordinator struct {
	model   ModelCapability
	metrics *metrics.SessionMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
	newID   func() string
}

// NewCoordinator creates a planning coordinator. metrics may be nil.
func NewCoordinator(model ModelCapability, m *metrics.SessionMetrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		model:   model,
		metrics: m,
		logger:  logging.OrDefault(logger),
		tracer:  otel.Tracer("planning-coordinator"),
		newID:   uuid.NewString,
	}
}

// Plan decomposes userTask into atomic tasks. It never fails: any model
// error or malformed output yields a single fallback task instead.
func (c *Coordinator) Plan(ctx context.Context, userTask string) Plan {
	ctx, span := c.tracer.Start(ctx, "planning.plan")
	defer span.End()

	tasks, err := c.generate(ctx, userTask)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("planning.fallback", true))
		c.logger.Warn("planner failed to produce a usable plan, creating a fallback task",
			"error", err,
			"user_task", userTask,
		)
		c.metrics.RecordRecovery(ctx, metrics.RecoveryLayerPlanner)
		return Plan{
			Tasks:    []models.AtomicTask{FallbackTask(userTask, c.newID())},
			Fallback: true,
			Cause:    err,
		}
	}

	span.SetAttributes(attribute.Int("planning.tasks", len(tasks)))
	c.logger.Info("plan generated", "tasks", len(tasks))
	return Plan{Tasks: tasks}
}

func (c *Coordinator) generate(ctx context.Context, userTask string) ([]models.AtomicTask, error) {
	if c.model == nil {
		return nil, fmt.Errorf("no planning model configured")
	}
	response, err := c.model.Generate(ctx, Directive, UserMessage(userTask))
	if err != nil {
		return nil, fmt.Errorf("planning model call failed: %w", err)
	}
	return ParseTasks(response, c.newID)
}

// FallbackTask restates the whole request as a single create_file task
func FallbackTask(userTask, id string) models.AtomicTask {
	return models.AtomicTask{
		ID:                  id,
		Description:         "Directly implement the user's request: " + userTask,
		Type:                models.TaskTypeCreateFile,
		TargetFiles:         []string{"main.py"},
		Prerequisites:       []string{},
		SuccessCriteria:     "The primary request is satisfied.",
		Priority:            1,
		EstimatedComplexity: 5,
	}
}
