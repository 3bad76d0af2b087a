// Package gateway exposes sessions and workspace search over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/search"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/workspace"
)

// SessionService starts and inspects orchestration sessions
type SessionService interface {
	Start(ctx context.Context, userTask, workspacePath string) (string, error)
	Get(id string) (orchestration.SessionSnapshot, error)
	Subscribe(id string) ([]models.SessionEvent, <-chan models.SessionEvent, func(), error)
}

// Searcher runs the internal_search tool
type Searcher interface {
	InternalSearch(ctx context.Context, query, workspacePath, searchType string) search.ToolResult
}

// HealthChecker is implemented by the external runtime clients
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// ErrOutsideWorkspaceRoot is returned for workspace paths that resolve
// outside the configured workspace root
var ErrOutsideWorkspaceRoot = errors.New("workspace_path is outside the workspace root")

// readyTimeout bounds the runtime probes made by /ready
const readyTimeout = 5 * time.Second

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	sessions         SessionService
	searcher         Searcher
	runtimes         map[string]HealthChecker
	workspaceRoot    string
	logger           *slog.Logger
	tracer           trace.Tracer
}

// NewHandler creates a new gateway handler. runtimes are probed by Ready,
// keyed by the name reported in the response. Requested workspace paths are
// resolved under workspaceRoot, which is also the default workspace.
func NewHandler(sessions SessionService, searcher Searcher, runtimes map[string]HealthChecker, workspaceRoot string, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:         sessions,
		searcher:         searcher,
		runtimes:         runtimes,
		workspaceRoot:    workspaceRoot,
		logger:           logging.OrDefault(logger),
		tracer:           otel.Tracer("gateway"),
	}
}

// CreateSessionRequest represents a session creation request
type CreateSessionRequest struct {
	UserTask      string `json:"user_task" binding:"required"`
	WorkspacePath string `json:"workspace_path"`
}

// CreateSessionResponse represents a session creation response
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SearchRequest represents an internal search request
type SearchRequest struct {
	Query         string `json:"query" binding:"required"`
	WorkspacePath string `json:"workspace_path"`
	SearchType    string `json:"search_type"`
}

// CreateSession godoc
// @Summary Start a session
// @Description Plan and develop a natural-language task against a workspace. The session runs asynchronously.
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body CreateSessionRequest true "Session details"
// @Success 202 {object} CreateSessionResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions [post]
func (h *Handler) CreateSession(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "gateway.create_session")
	defer span.End()

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserTask) == "" {
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "user_task is required")
		return
	}

	requested, err := h.resolveWorkspace(req.WorkspacePath)
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("rejected workspace path", "workspace", req.WorkspacePath, "error", err)
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
		return
	}

	ws, err := workspace.Prepare(requested)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to prepare workspace", "workspace", req.WorkspacePath, "error", err)
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "workspace_path is not usable")
		return
	}

	id, err := h.sessions.Start(ctx, req.UserTask, ws)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, orchestration.ErrEmptyTask) {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		h.logger.Error("failed to start session", "error", err)
		respondError(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Failed to start session")
		return
	}

	span.SetAttributes(attribute.String("session.id", id))
	c.JSON(http.StatusAccepted, CreateSessionResponse{SessionID: id})
}

// GetSession godoc
// @Summary Get a session
// @Description Return session status, its execution log and the final state once finished
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} orchestration.SessionSnapshot
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id} [get]
func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, models.ErrCodeSessionNotFound, "Session not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Search godoc
// @Summary Search a workspace
// @Description Rank workspace files by content, filename or structure. Failures are reported in the payload.
// @Tags search
// @Accept json
// @Produce json
// @Param request body SearchRequest true "Search query"
// @Success 200 {object} search.Response
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /search [post]
func (h *Handler) Search(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "gateway.search")
	defer span.End()

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "query is required")
		return
	}

	ws, err := h.resolveWorkspace(req.WorkspacePath)
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("rejected workspace path", "workspace", req.WorkspacePath, "error", err)
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
		return
	}

	result := h.searcher.InternalSearch(ctx, req.Query, ws, req.SearchType)
	span.SetAttributes(attribute.Bool("search.failed", result.Failed()))
	c.JSON(http.StatusOK, result)
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready godoc
// @Summary Readiness probe
// @Description Reports ready only when every external runtime answers its health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.runtimes))
	ready := true
	for name, checker := range h.runtimes {
		if checker.IsHealthy(ctx) {
			checks[name] = "healthy"
			continue
		}
		checks[name] = "unavailable"
		ready = false
	}

	if !ready {
		h.logger.Warn("readiness check failed", "checks", checks)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// resolveWorkspace maps a requested workspace path onto the workspace root.
// Relative paths are joined to the root. Absolute paths must already lie
// under it. Existing paths are also checked after following symlinks.
func (h *Handler) resolveWorkspace(requested string) (string, error) {
	root, err := filepath.Abs(h.workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if strings.TrimSpace(requested) == "" {
		return root, nil
	}

	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if !within(root, target) {
		return "", ErrOutsideWorkspaceRoot
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return target, nil
	}
	if realTarget, err := filepath.EvalSymlinks(target); err == nil && !within(realRoot, realTarget) {
		return "", ErrOutsideWorkspaceRoot
	}
	return target, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{Error: message, Code: code})
}
