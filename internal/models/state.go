package models

// Service identifies which part of the session currently owns control
type Service string

const (
	ServicePlanner   Service = "planner"
	ServiceDeveloper Service = "developer"
	ServiceComplete  Service = "complete"
)

// Planner phase tags
const (
	PlannerPhasePlanning = "planning"
	PlannerPhaseComplete = "complete"
)

// PlannerState is the state scoped to the planning phase
type PlannerState struct {
	UserTask       string       `json:"user_task" yaml:"user_task"`
	WorkspacePath  string       `json:"workspace_path" yaml:"workspace_path"`
	AtomicTasks    []AtomicTask `json:"atomic_tasks" yaml:"atomic_tasks"`
	IterationCount int          `json:"iteration_count" yaml:"iteration_count"`
	MaxIterations  int          `json:"max_iterations" yaml:"max_iterations"`
	CurrentPhase   string       `json:"current_phase" yaml:"current_phase"`
}

// DeveloperState is the state scoped to the development phase
type DeveloperState struct {
	AtomicTasks          []AtomicTask    `json:"atomic_tasks" yaml:"atomic_tasks"`
	WorkspacePath        string          `json:"workspace_path" yaml:"workspace_path"`
	CurrentTaskIndex     int             `json:"current_task_index" yaml:"current_task_index"`
	FilesCreated         []string        `json:"files_created" yaml:"files_created"`
	FilesModified        []string        `json:"files_modified" yaml:"files_modified"`
	FilesDeleted         []string        `json:"files_deleted" yaml:"files_deleted"`
	TaskCompletionStatus map[string]bool `json:"task_completion_status" yaml:"task_completion_status"`
	ErrorsEncountered    []string        `json:"errors_encountered" yaml:"errors_encountered"`
	RetryCount           int             `json:"retry_count" yaml:"retry_count"`
	MaxRetries           int             `json:"max_retries" yaml:"max_retries"`
}

// CurrentTask returns the task at the current pointer, if any
func (d DeveloperState) CurrentTask() (AtomicTask, bool) {
	if d.CurrentTaskIndex < 0 || d.CurrentTaskIndex >= len(d.AtomicTasks) {
		return AtomicTask{}, false
	}
	return d.AtomicTasks[d.CurrentTaskIndex], true
}

// OverallState is the session-wide state owned by the orchestrator
type OverallState struct {
	SessionID        string         `json:"session_id" yaml:"session_id"`
	UserTask         string         `json:"user_task" yaml:"user_task"`
	WorkspacePath    string         `json:"workspace_path" yaml:"workspace_path"`
	PlannerState     PlannerState   `json:"planner_state" yaml:"planner_state"`
	DeveloperState   DeveloperState `json:"developer_state" yaml:"developer_state"`
	CurrentService   Service        `json:"current_service" yaml:"current_service"`
	OverallProgress  float64        `json:"overall_progress" yaml:"overall_progress"`
	ExecutionLog     []LogEntry     `json:"execution_log" yaml:"execution_log"`
	FeedbackMessages []LogEntry     `json:"feedback_messages" yaml:"feedback_messages"`
	CompletedTasks   []AtomicTask   `json:"completed_tasks" yaml:"completed_tasks"`
	FinalSummary     string         `json:"final_summary" yaml:"final_summary"`
	Success          bool           `json:"success" yaml:"success"`
}
