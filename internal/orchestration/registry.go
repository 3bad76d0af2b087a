package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
)

var (
	// ErrSessionNotFound is returned for an unknown session id
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptyTask is returned when a session is started without a task
	ErrEmptyTask = errors.New("user task is empty")
)

// subscriberBuffer bounds how many undelivered events a slow subscriber may hold
const subscriberBuffer = 256

// SessionStatus is the lifecycle state of a registered session
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// SessionSnapshot is a point-in-time copy of a registered session
type SessionSnapshot struct {
	SessionID     string               `json:"session_id" yaml:"session_id"`
	UserTask      string               `json:"user_task" yaml:"user_task"`
	WorkspacePath string               `json:"workspace_path" yaml:"workspace_path"`
	Status        SessionStatus        `json:"status" yaml:"status"`
	StartedAt     time.Time            `json:"started_at" yaml:"started_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	ExecutionLog  []models.LogEntry    `json:"execution_log" yaml:"execution_log"`
	State         *models.OverallState `json:"state,omitempty" yaml:"state,omitempty"`
}

type sessionRecord struct {
	mu          sync.Mutex
	snapshot    SessionSnapshot
	subscribers map[chan models.SessionEvent]struct{}
	done        chan struct{}
}

// Registry runs sessions in the background and keeps their results in
// memory for the lifetime of the process.
type Registry struct {
	orchestrator *Orchestrator
	logger       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	wg       sync.WaitGroup
}

// NewRegistry creates a session registry backed by the orchestrator
func NewRegistry(o *Orchestrator, logger *slog.Logger) *Registry {
	return &Registry{
		orchestrator: o,
		logger:       logging.OrDefault(logger),
		sessions:     make(map[string]*sessionRecord),
	}
}

// Start registers a session and runs it asynchronously. The session
// outlives ctx cancellation but keeps its values for tracing.
func (r *Registry) Start(ctx context.Context, userTask, workspacePath string) (string, error) {
	if strings.TrimSpace(userTask) == "" {
		return "", ErrEmptyTask
	}

	id := uuid.NewString()
	rec := &sessionRecord{
		snapshot: SessionSnapshot{
			SessionID:     id,
			UserTask:      userTask,
			WorkspacePath: workspacePath,
			Status:        SessionRunning,
			StartedAt:     time.Now().UTC(),
			ExecutionLog:  []models.LogEntry{},
		},
		subscribers: make(map[chan models.SessionEvent]struct{}),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[id] = rec
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		state := r.orchestrator.Run(runCtx, Request{
			SessionID:     id,
			UserTask:      userTask,
			WorkspacePath: workspacePath,
		}, func(_ string, entry models.LogEntry) {
			rec.append(entry)
		})
		rec.finish(state)
		r.logger.Info("session finished", "session_id", id, "success", state.Success)
	}()

	r.logger.Info("session started", "session_id", id)
	return id, nil
}

// Get returns a snapshot of the session
func (r *Registry) Get(id string) (SessionSnapshot, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	snap := rec.snapshot
	snap.ExecutionLog = append([]models.LogEntry{}, rec.snapshot.ExecutionLog...)
	return snap, nil
}

// Subscribe returns the events emitted so far and a channel carrying the
// rest. The channel is closed after the session_complete event, or
// immediately when the session has already finished. cancel releases the
// subscription early.
func (r *Registry) Subscribe(id string) (backlog []models.SessionEvent, events <-chan models.SessionEvent, cancel func(), err error) {
	rec, err := r.lookup(id)
	if err != nil {
		return nil, nil, nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	for i := range rec.snapshot.ExecutionLog {
		backlog = append(backlog, logEvent(id, rec.snapshot.ExecutionLog[i]))
	}

	ch := make(chan models.SessionEvent, subscriberBuffer)
	if rec.snapshot.Status != SessionRunning {
		backlog = append(backlog, CompleteEvent(rec.snapshot.State))
		close(ch)
		return backlog, ch, func() {}, nil
	}

	rec.subscribers[ch] = struct{}{}
	cancel = func() {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if _, ok := rec.subscribers[ch]; ok {
			delete(rec.subscribers, ch)
			close(ch)
		}
	}
	return backlog, ch, cancel, nil
}

// Wait blocks until the session finishes or ctx is done
func (r *Registry) Wait(ctx context.Context, id string) (SessionSnapshot, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	select {
	case <-rec.done:
		return r.Get(id)
	case <-ctx.Done():
		return SessionSnapshot{}, ctx.Err()
	}
}

// Shutdown waits for running sessions to finish or ctx to expire
func (r *Registry) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) lookup(id string) (*sessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

func (rec *sessionRecord) append(entry models.LogEntry) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.snapshot.ExecutionLog = append(rec.snapshot.ExecutionLog, entry)
	rec.broadcast(logEvent(rec.snapshot.SessionID, entry))
}

func (rec *sessionRecord) finish(state *models.OverallState) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now().UTC()
	rec.snapshot.FinishedAt = &now
	rec.snapshot.State = state
	rec.snapshot.Status = SessionFailed
	if state.Success {
		rec.snapshot.Status = SessionCompleted
	}

	rec.broadcast(CompleteEvent(state))
	for ch := range rec.subscribers {
		close(ch)
		delete(rec.subscribers, ch)
	}
	close(rec.done)
}

// broadcast must be called with rec.mu held. Subscribers that fall a full
// buffer behind miss events rather than stall the session.
func (rec *sessionRecord) broadcast(event models.SessionEvent) {
	for ch := range rec.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func logEvent(sessionID string, entry models.LogEntry) models.SessionEvent {
	e := entry
	return models.SessionEvent{
		EventType: models.SessionEventLog,
		SessionID: sessionID,
		Entry:     &e,
	}
}

// CompleteEvent builds the terminal event for a finished session
func CompleteEvent(state *models.OverallState) models.SessionEvent {
	success := state.Success
	return models.SessionEvent{
		EventType: models.SessionEventComplete,
		SessionID: state.SessionID,
		Success:   &success,
		Summary:   state.FinalSummary,
	}
}
