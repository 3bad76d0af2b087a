package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/planning"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/search"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// gatedPlanner blocks until release is closed, then plans one task
type gatedPlanner struct {
	release chan struct{}
}

func (p *gatedPlanner) Plan(ctx context.Context, userTask string) planning.Plan {
	if p.release != nil {
		<-p.release
	}
	return planning.Plan{Tasks: []models.AtomicTask{{
		ID:                  "t1",
		Description:         "create main",
		Type:                models.TaskTypeCreateFile,
		TargetFiles:         []string{"main.go"},
		Prerequisites:       []string{},
		Priority:            1,
		EstimatedComplexity: 2,
	}}}
}

// completingDeveloper reports every task as done
type completingDeveloper struct{}

func (completingDeveloper) Develop(ctx context.Context, req orchestration.DevelopmentRequest) (*orchestration.DevelopmentResult, error) {
	status := make(map[string]bool, len(req.AtomicTasks))
	for _, t := range req.AtomicTasks {
		status[t.ID] = true
	}
	return &orchestration.DevelopmentResult{
		AtomicTasks:          req.AtomicTasks,
		TaskCompletionStatus: status,
		FilesCreated:         []string{"main.go"},
	}, nil
}

type staticHealth bool

func (h staticHealth) IsHealthy(ctx context.Context) bool { return bool(h) }

type fixture struct {
	registry  *orchestration.Registry
	workspace string
	router    *gin.Engine
}

func newFixture(t *testing.T, planner orchestration.Planner, jm *auth.JWTManager, runtimes map[string]HealthChecker) *fixture {
	t.Helper()

	ws := t.TempDir()
	registry := orchestration.NewRegistry(
		orchestration.NewOrchestrator(planner, completingDeveloper{}, nil, nil, nil), nil)
	engine := search.NewEngine(nil, config.Default().Search, nil)

	handler := NewHandler(registry, engine, runtimes, ws, nil)
	router := NewRouter(RouterOptions{
		Handler:    handler,
		Stream:     NewSessionStream(registry, nil),
		JWTManager: jm,
	})
	return &fixture{registry: registry, workspace: ws, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetSession(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	w := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{UserTask: "build a cli"}, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	var created CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.registry.Wait(ctx, created.SessionID)
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/api/sessions/"+created.SessionID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap orchestration.SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, orchestration.SessionCompleted, snap.Status)
	assert.Equal(t, f.workspace, snap.WorkspacePath)
	require.NotNil(t, snap.State)
	assert.True(t, snap.State.Success)
	assert.Contains(t, snap.State.FinalSummary, "main.go")
}

func TestCreateSession_CreatesWorkspace(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	tests := []struct {
		name      string
		requested string
		expected  string
	}{
		{"relative", "nested/ws", filepath.Join(f.workspace, "nested", "ws")},
		{"absolute under root", filepath.Join(f.workspace, "abs", "ws"), filepath.Join(f.workspace, "abs", "ws")},
		{"dot segments staying inside", "a/../b", filepath.Join(f.workspace, "b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{UserTask: "t", WorkspacePath: tt.requested}, "")
			require.Equal(t, http.StatusAccepted, w.Code)

			info, err := os.Stat(tt.expected)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		})
	}
}

func TestWorkspacePath_EscapesAreRejected(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "creds.txt"), []byte("password=hunter2"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(f.workspace, "link")))

	tests := []struct {
		name      string
		requested string
	}{
		{"parent traversal", "../" + filepath.Base(outside)},
		{"deep traversal", "a/../../x"},
		{"absolute outside", outside},
		{"filesystem root", "/"},
		{"symlink out of root", "link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/search", SearchRequest{Query: "password", WorkspacePath: tt.requested}, "")
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotContains(t, w.Body.String(), "hunter2")

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, models.ErrCodeInvalidRequest, resp.Code)

			w = f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{UserTask: "t", WorkspacePath: tt.requested}, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(f.workspace), "x"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateSession_InvalidRequest(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing task", map[string]string{}},
		{"blank task", CreateSessionRequest{UserTask: "   "}},
		{"not json", "plain string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/sessions", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, models.ErrCodeInvalidRequest, resp.Code)
		})
	}
}

func TestGetSession_NotFound(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	w := f.do(t, http.MethodGet, "/api/sessions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrCodeSessionNotFound, resp.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.workspace, "parser.go"),
		[]byte("package p\n\nfunc Parse() {}\n"), 0644))

	w := f.do(t, http.MethodPost, "/api/search", SearchRequest{Query: "Parse", SearchType: "all"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Parse", resp.Query)
	assert.Equal(t, search.ModeAll, resp.SearchType)
	assert.Equal(t, 1, resp.TotalFilesIndexed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "parser.go", resp.Results[0].FilePath)
}

func TestSearch_FailureIsPayload(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	w := f.do(t, http.MethodPost, "/api/search", SearchRequest{Query: "x", SearchType: "fuzzy"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp search.Failure
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "x", resp.Query)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Results)
	assert.Contains(t, w.Body.String(), `"results":[]`)
}

func TestSearch_MissingQuery(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	w := f.do(t, http.MethodPost, "/api/search", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	tests := []struct {
		name       string
		runtimes   map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all healthy",
			runtimes:   map[string]HealthChecker{"model_runtime": staticHealth(true), "developer_runtime": staticHealth(true)},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready","checks":{"model_runtime":"healthy","developer_runtime":"healthy"}}`,
		},
		{
			name:       "developer down",
			runtimes:   map[string]HealthChecker{"model_runtime": staticHealth(true), "developer_runtime": staticHealth(false)},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"not ready","checks":{"model_runtime":"healthy","developer_runtime":"unavailable"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &gatedPlanner{}, nil, tt.runtimes)

			w := f.do(t, http.MethodGet, "/health", nil, "")
			assert.Equal(t, http.StatusOK, w.Code)

			w = f.do(t, http.MethodGet, "/ready", nil, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestRoutes_RequireAuthWhenConfigured(t *testing.T) {
	jm, err := auth.NewJWTManager("gateway-secret")
	require.NoError(t, err)
	f := newFixture(t, &gatedPlanner{}, jm, nil)

	ctx := context.Background()
	developer, err := jm.GenerateToken(ctx, "u-1", "alice", []string{auth.RoleDeveloper}, time.Hour)
	require.NoError(t, err)
	viewer, err := jm.GenerateToken(ctx, "u-2", "bob", []string{"viewer"}, time.Hour)
	require.NoError(t, err)

	body := CreateSessionRequest{UserTask: "t"}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/sessions", body, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/sessions", body, viewer).Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/sessions", body, developer).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/search", SearchRequest{Query: "x"}, viewer).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, "").Code)
}

func readEvents(t *testing.T, conn *websocket.Conn) []models.SessionEvent {
	t.Helper()
	var events []models.SessionEvent
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var event models.SessionEvent
		if err := conn.ReadJSON(&event); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return events
		}
		events = append(events, event)
	}
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamSession_Live(t *testing.T) {
	planner := &gatedPlanner{release: make(chan struct{})}
	f := newFixture(t, planner, nil, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	id, err := f.registry.Start(context.Background(), "build a cli", f.workspace)
	require.NoError(t, err)

	conn := dial(t, server, "/api/ws/sessions/"+id)
	close(planner.release)

	events := readEvents(t, conn)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, models.SessionEventComplete, last.EventType)
	require.NotNil(t, last.Success)
	assert.True(t, *last.Success)

	snap, err := f.registry.Get(id)
	require.NoError(t, err)
	require.Len(t, events, len(snap.ExecutionLog)+1)
	for i, entry := range snap.ExecutionLog {
		assert.Equal(t, models.SessionEventLog, events[i].EventType)
		require.NotNil(t, events[i].Entry)
		assert.Equal(t, entry.Content, events[i].Entry.Content)
	}
}

func TestStreamSession_AfterFinish(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	id, err := f.registry.Start(context.Background(), "t", f.workspace)
	require.NoError(t, err)
	_, err = f.registry.Wait(context.Background(), id)
	require.NoError(t, err)

	events := readEvents(t, dial(t, server, "/api/ws/sessions/"+id))
	require.NotEmpty(t, events)
	assert.Equal(t, models.SessionEventLog, events[0].EventType)
	assert.Equal(t, models.SessionEventComplete, events[len(events)-1].EventType)
}

func TestStreamSession_NotFound(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf)

	r := gin.New()
	r.Use(AccessLog(logger))
	r.GET("/ping", func(c *gin.Context) {
		c.Set(auth.UserIDKey, "u-9")
		c.Status(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "request", record["msg"])
	assert.Equal(t, "GET", record["method"])
	assert.Equal(t, "/ping", record["path"])
	assert.Equal(t, float64(http.StatusTeapot), record["status"])
	assert.Equal(t, "u-9", record["user_id"])
	assert.Contains(t, record, "latency_ms")
}

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return logging.New("DEBUG", "json", buf)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, &gatedPlanner{}, nil, nil)

	w := f.do(t, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrCodeNotFound, resp.Code)
}
