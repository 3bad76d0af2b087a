package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/orchestration"
)

const writeWait = 10 * time.Second

// SessionStream pushes a session's execution log to websocket clients
type SessionStream struct {
	sessions SessionService
	logger   *slog.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
}

// NewSessionStream creates the websocket execution-log stream
func NewSessionStream(sessions SessionService, logger *slog.Logger) *SessionStream {
	return &SessionStream{
		sessions: sessions,
		logger:   logging.OrDefault(logger),
		tracer:   otel.Tracer("session-stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// StreamSession handles WebSocket /api/ws/sessions/:id
// @Summary Stream a session's execution log
// @Description Sends every log entry recorded so far, then live entries, and ends with a session_complete event
// @Tags sessions
// @Param id path string true "Session ID"
// @Param token query string false "Bearer token for clients that cannot set headers"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/sessions/{id} [get]
func (s *SessionStream) StreamSession(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "session_stream.stream")
	defer span.End()

	sessionID := c.Param("id")
	span.SetAttributes(attribute.String("session.id", sessionID))

	backlog, events, cancel, err := s.sessions.Subscribe(sessionID)
	if err != nil {
		respondError(c, http.StatusNotFound, models.ErrCodeSessionNotFound, "Session not found")
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to upgrade connection", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("session stream opened", "session_id", sessionID, "backlog", len(backlog))

	// Client -> ignore; reading detects the peer going away
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	completed := false
	send := func(event models.SessionEvent) bool {
		if event.EventType == models.SessionEventComplete {
			completed = true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			span.RecordError(err)
			s.logger.Debug("session stream write failed", "session_id", sessionID, "error", err)
			return false
		}
		return true
	}

	for _, event := range backlog {
		if !send(event) {
			return
		}
	}

	sent := len(backlog)
loop:
	for {
		select {
		case <-ctx.Done():
			return
		case <-clientGone:
			s.logger.Debug("session stream client left", "session_id", sessionID)
			return
		case event, ok := <-events:
			if !ok {
				break loop
			}
			if !send(event) {
				return
			}
			sent++
		}
	}

	// A subscriber that fell behind may have missed the terminal event
	if !completed {
		snap, err := s.sessions.Get(sessionID)
		if err == nil && snap.State != nil {
			if !send(orchestration.CompleteEvent(snap.State)) {
				return
			}
			sent++
		}
	}

	span.SetAttributes(attribute.Int("session_stream.events", sent))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
		time.Now().Add(writeWait))
	s.logger.Debug("session stream closed", "session_id", sessionID, "events", sent)
}
