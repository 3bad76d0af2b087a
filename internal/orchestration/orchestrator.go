// Package orchestration sequences planning and development for a session.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/planning"
)

// Planner produces the task list for a session
type Planner interface {
	Plan(ctx context.Context, userTask string) planning.Plan
}

// DeveloperCapability executes a task list against a workspace
type DeveloperCapability interface {
	Develop(ctx context.Context, req DevelopmentRequest) (*DevelopmentResult, error)
}

// DevelopmentRequest is the input handed to the development capability
type DevelopmentRequest struct {
	SessionID     string              `json:"session_id"`
	AtomicTasks   []models.AtomicTask `json:"atomic_tasks"`
	WorkspacePath string              `json:"workspace_path"`
	MaxRetries    int                 `json:"max_retries"`
	MaxIterations int                 `json:"max_iterations"`
	ModelName     string              `json:"model_name"`
	Temperature   float64             `json:"temperature"`
}

// DevelopmentResult is what the development capability reports back
type DevelopmentResult struct {
	AtomicTasks          []models.AtomicTask `json:"atomic_tasks"`
	TaskCompletionStatus map[string]bool     `json:"task_completion_status"`
	FilesCreated         []string            `json:"files_created"`
	FilesModified        []string            `json:"files_modified"`
	FilesDeleted         []string            `json:"files_deleted"`
	ErrorsEncountered    []string            `json:"errors_encountered"`
}

// Request starts one session
type Request struct {
	// SessionID is generated when empty
	SessionID     string
	UserTask      string
	WorkspacePath string
}

// Observer receives every execution log entry as it is appended
type Observer func(sessionID string, entry models.LogEntry)

type phase string

const (
	phaseInitialize       phase = "initialize"
	phaseRunPlanner       phase = "run_planner"
	phaseRecovery         phase = "recovery"
	phasePrepareDeveloper phase = "prepare_developer"
	phaseRunDeveloper     phase = "run_developer"
	phaseFinalize         phase = "finalize"
	phaseDone             phase = ""
)

var webKeywords = []string{"website", "html", "css", "js"}

// Orchestrator runs sessions as a single forward pass:
// initialize, run_planner, prepare_developer or recovery, run_developer, finalize.
type Orchestrator struct {
	planner   Planner
	developer DeveloperCapability
	cfg       *config.Config
	metrics   *metrics.SessionMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewOrchestrator creates an orchestrator. metrics may be nil.
func NewOrchestrator(planner Planner, developer DeveloperCapability, cfg *config.Config, m *metrics.SessionMetrics, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Orchestrator{
		planner:   planner,
		developer: developer,
		cfg:       cfg,
		metrics:   m,
		logger:    logging.OrDefault(logger),
		tracer:    otel.Tracer("session-orchestrator"),
	}
}

// session is the per-run context. It owns the OverallState exclusively.
type session struct {
	state   *models.OverallState
	observe Observer
	logger  *slog.Logger
	started time.Time
}

func (s *session) record(role models.LogRole, p phase, content string) models.LogEntry {
	entry := models.LogEntry{
		Role:      role,
		Phase:     string(p),
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.state.ExecutionLog = append(s.state.ExecutionLog, entry)
	if s.observe != nil {
		s.observe(s.state.SessionID, entry)
	}
	return entry
}

func (s *session) feedback(p phase, content string) {
	entry := s.record(models.LogRoleSystem, p, content)
	s.state.FeedbackMessages = append(s.state.FeedbackMessages, entry)
}

// Run executes one session to completion and returns its final state.
// Failures of either capability are recorded in the state, never returned.
func (o *Orchestrator) Run(ctx context.Context, req Request, observe Observer) *models.OverallState {
	s := &session{
		state: &models.OverallState{
			SessionID:     req.SessionID,
			UserTask:      req.UserTask,
			WorkspacePath: req.WorkspacePath,
		},
		observe: observe,
		started: time.Now(),
	}

	for next := phaseInitialize; next != phaseDone; {
		next = o.step(ctx, s, next)
	}
	return s.state
}

func (o *Orchestrator) step(ctx context.Context, s *session, p phase) phase {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+string(p))
	defer span.End()
	if s.state.SessionID != "" {
		span.SetAttributes(attribute.String("session.id", s.state.SessionID))
	}

	switch p {
	case phaseInitialize:
		return o.initialize(ctx, s)
	case phaseRunPlanner:
		return o.runPlanner(ctx, s)
	case phaseRecovery:
		return o.recoverPlan(ctx, s)
	case phasePrepareDeveloper:
		return o.prepareDeveloper(s)
	case phaseRunDeveloper:
		return o.runDeveloper(ctx, s)
	case phaseFinalize:
		return o.finalize(ctx, s)
	}
	return phaseDone
}

func (o *Orchestrator) initialize(ctx context.Context, s *session) phase {
	st := s.state
	if st.SessionID == "" {
		st.SessionID = uuid.NewString()
	}
	s.logger = o.logger.With("session_id", st.SessionID)

	st.PlannerState = models.PlannerState{
		UserTask:      st.UserTask,
		WorkspacePath: st.WorkspacePath,
		AtomicTasks:   []models.AtomicTask{},
		MaxIterations: o.cfg.MaxIterations,
		CurrentPhase:  models.PlannerPhasePlanning,
	}
	st.DeveloperState = models.DeveloperState{
		AtomicTasks:          []models.AtomicTask{},
		WorkspacePath:        st.WorkspacePath,
		FilesCreated:         []string{},
		FilesModified:        []string{},
		FilesDeleted:         []string{},
		TaskCompletionStatus: map[string]bool{},
		ErrorsEncountered:    []string{},
		MaxRetries:           o.cfg.MaxRetries,
	}
	st.CurrentService = models.ServicePlanner
	st.ExecutionLog = []models.LogEntry{}
	st.FeedbackMessages = []models.LogEntry{}
	st.CompletedTasks = []models.AtomicTask{}

	o.metrics.RecordSessionStarted(ctx)
	s.logger.Info("session initialized", "user_task", st.UserTask, "workspace", st.WorkspacePath)
	s.record(models.LogRoleUser, phaseInitialize, "Session initialized for task: "+st.UserTask)
	return phaseRunPlanner
}

func (o *Orchestrator) runPlanner(ctx context.Context, s *session) phase {
	st := s.state
	s.logger.Info("running planner")

	var plan planning.Plan
	if o.planner != nil {
		plan = o.planner.Plan(ctx, st.UserTask)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("planner.tasks", len(plan.Tasks)),
		attribute.Bool("planner.fallback", plan.Fallback),
	)

	// The planner state is merged back field by field.
	st.PlannerState.AtomicTasks = models.CloneTasks(plan.Tasks)
	if st.PlannerState.AtomicTasks == nil {
		st.PlannerState.AtomicTasks = []models.AtomicTask{}
	}
	st.PlannerState.IterationCount++
	st.PlannerState.CurrentPhase = models.PlannerPhaseComplete

	if plan.Fallback {
		reason := "unknown error"
		if plan.Cause != nil {
			reason = plan.Cause.Error()
		}
		s.feedback(phaseRunPlanner, fmt.Sprintf("Planner output was unusable (%s). Falling back to a single task covering the whole request.", reason))
	}
	s.record(models.LogRolePlanner, phaseRunPlanner,
		fmt.Sprintf("Planner phase complete. Found %d tasks.", len(st.PlannerState.AtomicTasks)))

	if len(st.PlannerState.AtomicTasks) == 0 {
		return phaseRecovery
	}
	return phasePrepareDeveloper
}

// recoverPlan synthesizes the orchestrator-level recovery task. The planning
// coordinator has its own fallback, so this runs only when a planner
// implementation returns an empty list anyway.
func (o *Orchestrator) recoverPlan(ctx context.Context, s *session) phase {
	st := s.state
	task := RecoveryTask(st.UserTask, uuid.NewString())
	st.PlannerState.AtomicTasks = []models.AtomicTask{task}

	o.metrics.RecordRecovery(ctx, metrics.RecoveryLayerOrchestrator)
	s.logger.Warn("planner produced no tasks, created recovery task", "target_files", task.TargetFiles)
	s.feedback(phaseRecovery, fmt.Sprintf("Planner failed to create a plan. Created a recovery task targeting %s.",
		strings.Join(task.TargetFiles, ", ")))
	return phasePrepareDeveloper
}

func (o *Orchestrator) prepareDeveloper(s *session) phase {
	st := s.state
	st.DeveloperState.AtomicTasks = models.CloneTasks(st.PlannerState.AtomicTasks)
	s.logger.Info("preparing developer", "tasks", len(st.DeveloperState.AtomicTasks))
	s.record(models.LogRoleSystem, phasePrepareDeveloper,
		fmt.Sprintf("Developer prepared with %d task(s).", len(st.DeveloperState.AtomicTasks)))
	return phaseRunDeveloper
}

func (o *Orchestrator) runDeveloper(ctx context.Context, s *session) phase {
	st := s.state
	dev := &st.DeveloperState

	if len(dev.AtomicTasks) == 0 {
		st.CurrentService = models.ServiceComplete
		s.record(models.LogRoleDeveloper, phaseRunDeveloper, "Developer has no tasks to run.")
		return phaseFinalize
	}

	st.CurrentService = models.ServiceDeveloper
	o.metrics.RecordPlannedTasks(ctx, len(dev.AtomicTasks))
	s.logger.Info("running developer", "tasks", len(dev.AtomicTasks))

	result, err := o.develop(ctx, DevelopmentRequest{
		SessionID:     st.SessionID,
		AtomicTasks:   models.CloneTasks(dev.AtomicTasks),
		WorkspacePath: dev.WorkspacePath,
		MaxRetries:    dev.MaxRetries,
		MaxIterations: st.PlannerState.MaxIterations,
		ModelName:     o.cfg.ModelName,
		Temperature:   o.cfg.Temperature,
	})
	if err != nil {
		s.logger.Error("developer runtime failed", "error", err)
		dev.ErrorsEncountered = append(dev.ErrorsEncountered, err.Error())
	} else {
		mergeDevelopment(dev, result)
	}
	dev.CurrentTaskIndex = len(dev.AtomicTasks)

	st.CompletedTasks = []models.AtomicTask{}
	for _, task := range dev.AtomicTasks {
		if dev.TaskCompletionStatus[task.ID] {
			st.CompletedTasks = append(st.CompletedTasks, task)
		}
	}
	st.OverallProgress = float64(len(st.CompletedTasks)) / float64(len(dev.AtomicTasks))
	st.CurrentService = models.ServiceComplete

	s.record(models.LogRoleDeveloper, phaseRunDeveloper,
		fmt.Sprintf("Developer phase complete. Completed %d/%d tasks.", len(st.CompletedTasks), len(dev.AtomicTasks)))
	return phaseFinalize
}

func (o *Orchestrator) develop(ctx context.Context, req DevelopmentRequest) (*DevelopmentResult, error) {
	if o.developer == nil {
		return nil, fmt.Errorf("no development runtime configured")
	}
	result, err := o.developer.Develop(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("development runtime returned no result")
	}
	return result, nil
}

// mergeDevelopment copies the capability's report into the developer state.
// The input task list is kept; completion is keyed by task id.
func mergeDevelopment(dev *models.DeveloperState, result *DevelopmentResult) {
	for id, done := range result.TaskCompletionStatus {
		dev.TaskCompletionStatus[id] = done
	}
	dev.FilesCreated = append(dev.FilesCreated, result.FilesCreated...)
	dev.FilesModified = append(dev.FilesModified, result.FilesModified...)
	dev.FilesDeleted = append(dev.FilesDeleted, result.FilesDeleted...)
	dev.ErrorsEncountered = append(dev.ErrorsEncountered, result.ErrorsEncountered...)
}

func (o *Orchestrator) finalize(ctx context.Context, s *session) phase {
	st := s.state
	dev := st.DeveloperState

	st.Success = len(st.CompletedTasks) > 0 && len(dev.ErrorsEncountered) == 0
	st.FinalSummary = Summary(st)
	st.CurrentService = models.ServiceComplete

	o.metrics.RecordSessionFinished(ctx, st.Success, time.Since(s.started))
	s.logger.Info("session finalized",
		"success", st.Success,
		"completed", len(st.CompletedTasks),
		"total", len(dev.AtomicTasks),
		"errors", len(dev.ErrorsEncountered),
	)
	s.record(models.LogRoleSystem, phaseFinalize, st.FinalSummary)
	return phaseDone
}

// Summary renders the human-readable session report
func Summary(st *models.OverallState) string {
	dev := st.DeveloperState
	var b strings.Builder
	b.WriteString("Development Session Complete:\n")
	fmt.Fprintf(&b, "- Task: %s\n", st.UserTask)
	fmt.Fprintf(&b, "- Workspace: %s\n", st.WorkspacePath)
	fmt.Fprintf(&b, "- Tasks Completed: %d/%d\n", len(st.CompletedTasks), len(dev.AtomicTasks))
	fmt.Fprintf(&b, "- Success: %t\n", st.Success)
	fmt.Fprintf(&b, "- Files Created (%d): %s\n", len(dev.FilesCreated), listOrNone(dev.FilesCreated))
	fmt.Fprintf(&b, "- Files Modified (%d): %s\n", len(dev.FilesModified), listOrNone(dev.FilesModified))
	fmt.Fprintf(&b, "- Files Deleted (%d): %s\n", len(dev.FilesDeleted), listOrNone(dev.FilesDeleted))
	fmt.Fprintf(&b, "- Errors Encountered (%d): %s", len(dev.ErrorsEncountered), listOrNone(dev.ErrorsEncountered))
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

// RecoveryTask builds the orchestrator-level recovery task. Web-related
// requests target an HTML/CSS/JS trio, anything else a single main.py.
func RecoveryTask(userTask, id string) models.AtomicTask {
	targets := []string{"main.py"}
	lower := strings.ToLower(userTask)
	for _, kw := range webKeywords {
		if strings.Contains(lower, kw) {
			targets = []string{"index.html", "style.css", "script.js"}
			break
		}
	}

	return models.AtomicTask{
		ID:                  id,
		Description:         fmt.Sprintf("Planner failed. Implement the user's entire request in the target file(s): '%s'", userTask),
		Type:                models.TaskTypeCreateFile,
		TargetFiles:         targets,
		Prerequisites:       []string{},
		SuccessCriteria:     "The user's request is fully implemented in the specified files.",
		Priority:            1,
		EstimatedComplexity: 8,
	}
}
