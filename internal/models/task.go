package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTaskType is returned when a task type string is not one of the known variants
var ErrUnknownTaskType = errors.New("unknown task type")

// TaskType identifies the kind of change an atomic task performs
type TaskType string

const (
	TaskTypeCreateFile      TaskType = "create_file"
	TaskTypeModifyFile      TaskType = "modify_file"
	TaskTypeDeleteFile      TaskType = "delete_file"
	TaskTypeCreateDirectory TaskType = "create_directory"
	TaskTypeModifyFunction  TaskType = "modify_function"
	TaskTypeAddDependency   TaskType = "add_dependency"
	TaskTypeRefactorCode    TaskType = "refactor_code"
	TaskTypeAddTests        TaskType = "add_tests"
	TaskTypeFixBug          TaskType = "fix_bug"
)

// TaskTypes lists every valid task type in declaration order
var TaskTypes = []TaskType{
	TaskTypeCreateFile,
	TaskTypeModifyFile,
	TaskTypeDeleteFile,
	TaskTypeCreateDirectory,
	TaskTypeModifyFunction,
	TaskTypeAddDependency,
	TaskTypeRefactorCode,
	TaskTypeAddTests,
	TaskTypeFixBug,
}

// ParseTaskType converts a raw string into a TaskType
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range TaskTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
}

// Valid reports whether t is one of the known task types
func (t TaskType) Valid() bool {
	_, err := ParseTaskType(string(t))
	return err == nil
}

// UnmarshalJSON rejects task types outside the known set
func (t *TaskType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("task type must be a string: %w", err)
	}
	parsed, err := ParseTaskType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AtomicTask is the smallest unit of planned work.
// Tasks are created by the planner and are never mutated afterwards.
type AtomicTask struct {
	ID                  string   `json:"id" yaml:"id"`
	Description         string   `json:"description" yaml:"description"`
	Type                TaskType `json:"type" yaml:"type"`
	TargetFiles         []string `json:"target_files" yaml:"target_files"`
	Prerequisites       []string `json:"prerequisites" yaml:"prerequisites"`
	SuccessCriteria     string   `json:"success_criteria" yaml:"success_criteria"`
	Priority            int      `json:"priority" yaml:"priority"`
	EstimatedComplexity int      `json:"estimated_complexity" yaml:"estimated_complexity"`
}

// NewAtomicTask builds a task, failing when the type is not a known variant
func NewAtomicTask(id, description string, taskType TaskType, targetFiles, prerequisites []string, successCriteria string, priority, complexity int) (AtomicTask, error) {
	if !taskType.Valid() {
		return AtomicTask{}, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	return AtomicTask{
		ID:                  id,
		Description:         description,
		Type:                taskType,
		TargetFiles:         append([]string{}, targetFiles...),
		Prerequisites:       append([]string{}, prerequisites...),
		SuccessCriteria:     successCriteria,
		Priority:            priority,
		EstimatedComplexity: complexity,
	}, nil
}

// CloneTasks returns a copy of tasks whose slices do not alias the input
func CloneTasks(tasks []AtomicTask) []AtomicTask {
	if tasks == nil {
		return nil
	}
	out := make([]AtomicTask, len(tasks))
	for i, t := range tasks {
		out[i] = t
		out[i].TargetFiles = append([]string{}, t.TargetFiles...)
		out[i].Prerequisites = append([]string{}, t.Prerequisites...)
	}
	return out
}
