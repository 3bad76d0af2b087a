package planning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
)

var (
	// ErrEmptyPlan is returned when the model output decodes to an empty list
	ErrEmptyPlan = errors.New("plan contains no tasks")
	// ErrNotAList is returned when the model output is JSON but not an array
	ErrNotAList = errors.New("plan is not a JSON array")
	// ErrInvalidTask is returned when a task object fails decoding or validation
	ErrInvalidTask = errors.New("invalid task in plan")
)

// Defaults applied to fields the model omitted
const (
	DefaultPriority   = 5
	DefaultComplexity = 5
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

var validate = validator.New()

// taskPayload is the wire shape of one task. Pointer fields distinguish
// omitted values, which get defaults, from explicit ones.
type taskPayload struct {
	ID                  *string          `json:"id" validate:"omitempty,min=1"`
	Description         string           `json:"description" validate:"required"`
	Type                *models.TaskType `json:"type"`
	TargetFiles         []string         `json:"target_files" validate:"dive,required"`
	Prerequisites       []string         `json:"prerequisites"`
	SuccessCriteria     string           `json:"success_criteria"`
	Priority            *int             `json:"priority"`
	EstimatedComplexity *int             `json:"estimated_complexity" validate:"omitempty,min=1,max=10"`
}

// ExtractJSON returns the body of the first fenced code block in response,
// or the whole response when there is none.
func ExtractJSON(response string) string {
	if m := fencedBlock.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	return strings.TrimSpace(response)
}

// ParseTasks decodes model output into validated atomic tasks. newID
// generates ids for tasks that omit one; nil means random UUIDs.
func ParseTasks(response string, newID func() string) ([]models.AtomicTask, error) {
	if newID == nil {
		newID = uuid.NewString
	}

	data := []byte(ExtractJSON(response))

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotAList
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var payloads []taskPayload
	if err := dec.Decode(&payloads); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if len(payloads) == 0 {
		return nil, ErrEmptyPlan
	}

	tasks := make([]models.AtomicTask, 0, len(payloads))
	seen := make(map[string]bool, len(payloads))
	for i, p := range payloads {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrInvalidTask, i, err)
		}

		id := newID()
		if p.ID != nil {
			id = *p.ID
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidTask, id)
		}
		seen[id] = true

		taskType := models.TaskTypeCreateFile
		if p.Type != nil {
			taskType = *p.Type
		}
		priority := DefaultPriority
		if p.Priority != nil {
			priority = *p.Priority
		}
		complexity := DefaultComplexity
		if p.EstimatedComplexity != nil {
			complexity = *p.EstimatedComplexity
		}

		task, err := models.NewAtomicTask(id, p.Description, taskType, p.TargetFiles, p.Prerequisites, p.SuccessCriteria, priority, complexity)
		if err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrInvalidTask, i, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}
