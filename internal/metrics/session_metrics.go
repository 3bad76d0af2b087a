// Package metrics records orchestration session metrics through otel.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recovery layers
const (
	RecoveryLayerPlanner      = "planner"
	RecoveryLayerOrchestrator = "orchestrator"
)

// SessionMetrics provides metrics collection for orchestration sessions.
// A nil *SessionMetrics is valid and records nothing.
type SessionMetrics struct {
	sessionsStartedCounter   metric.Int64Counter
	sessionsCompletedCounter metric.Int64Counter
	sessionsFailedCounter    metric.Int64Counter
	sessionDurationHistogram metric.Float64Histogram
	sessionsActiveGauge      metric.Int64UpDownCounter
	plannedTasksHistogram    metric.Int64Histogram
	recoveryCounter          metric.Int64Counter
}

// NewSessionMetrics creates session metrics on the global meter provider
func NewSessionMetrics() (*SessionMetrics, error) {
	return NewSessionMetricsWithMeter(otel.Meter("dev-orchestrator"))
}

// NewSessionMetricsWithMeter creates session metrics on the given meter
func NewSessionMetricsWithMeter(meter metric.Meter) (*SessionMetrics, error) {
	sessionsStartedCounter, err := meter.Int64Counter(
		"dev_orchestrator.sessions.started",
		metric.WithDescription("Total number of sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsCompletedCounter, err := meter.Int64Counter(
		"dev_orchestrator.sessions.completed",
		metric.WithDescription("Total number of sessions that finished successfully"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsFailedCounter, err := meter.Int64Counter(
		"dev_orchestrator.sessions.failed",
		metric.WithDescription("Total number of sessions that finished unsuccessfully"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	sessionDurationHistogram, err := meter.Float64Histogram(
		"dev_orchestrator.session.duration",
		metric.WithDescription("Duration of a session in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sessionsActiveGauge, err := meter.Int64UpDownCounter(
		"dev_orchestrator.sessions.active",
		metric.WithDescription("Number of currently running sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	plannedTasksHistogram, err := meter.Int64Histogram(
		"dev_orchestrator.plan.tasks",
		metric.WithDescription("Number of atomic tasks handed to the developer"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"dev_orchestrator.recovery_tasks",
		metric.WithDescription("Total number of synthesized recovery tasks"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		sessionsStartedCounter:   sessionsStartedCounter,
		sessionsCompletedCounter: sessionsCompletedCounter,
		sessionsFailedCounter:    sessionsFailedCounter,
		sessionDurationHistogram: sessionDurationHistogram,
		sessionsActiveGauge:      sessionsActiveGauge,
		plannedTasksHistogram:    plannedTasksHistogram,
		recoveryCounter:          recoveryCounter,
	}, nil
}

// RecordSessionStarted records a new session
func (sm *SessionMetrics) RecordSessionStarted(ctx context.Context) {
	if sm == nil {
		return
	}
	sm.sessionsStartedCounter.Add(ctx, 1)
	sm.sessionsActiveGauge.Add(ctx, 1)
}

// RecordSessionFinished records the end of a session and its outcome
func (sm *SessionMetrics) RecordSessionFinished(ctx context.Context, success bool, duration time.Duration) {
	if sm == nil {
		return
	}
	status := "completed"
	counter := sm.sessionsCompletedCounter
	if !success {
		status = "failed"
		counter = sm.sessionsFailedCounter
	}

	counter.Add(ctx, 1)
	sm.sessionDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	sm.sessionsActiveGauge.Add(ctx, -1)
}

// RecordPlannedTasks records the size of the plan handed to the developer
func (sm *SessionMetrics) RecordPlannedTasks(ctx context.Context, count int) {
	if sm == nil {
		return
	}
	sm.plannedTasksHistogram.Record(ctx, int64(count))
}

// RecordRecovery records a synthesized recovery task at the given layer
func (sm *SessionMetrics) RecordRecovery(ctx context.Context, layer string) {
	if sm == nil {
		return
	}
	sm.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("layer", layer)),
	)
}
