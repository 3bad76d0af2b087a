package models

import (
	"time"
)

// LogRole identifies who produced an execution log entry
type LogRole string

const (
	LogRoleUser      LogRole = "user"
	LogRoleSystem    LogRole = "system"
	LogRolePlanner   LogRole = "planner"
	LogRoleDeveloper LogRole = "developer"
)

// LogEntry is one message in a session's execution log
type LogEntry struct {
	Role      LogRole   `json:"role" yaml:"role"`
	Phase     string    `json:"phase" yaml:"phase"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// SessionEventType identifies an event streamed to session subscribers
type SessionEventType string

const (
	SessionEventLog      SessionEventType = "log"
	SessionEventComplete SessionEventType = "session_complete"
)

// SessionEvent is the envelope pushed over the session stream
type SessionEvent struct {
	EventType SessionEventType `json:"event_type"`
	SessionID string           `json:"session_id"`
	Entry     *LogEntry        `json:"entry,omitempty"`
	Success   *bool            `json:"success,omitempty"`
	Summary   string           `json:"summary,omitempty"`
}
