package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/planning"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/search"
)

const planResponse = "```json\n" + `[
  {"id": "t1", "description": "Create index page", "type": "create_file", "target_files": ["index.html"], "priority": 1, "estimated_complexity": 2},
  {"id": "t2", "description": "Add styles", "type": "create_file", "target_files": ["style.css"], "prerequisites": ["t1"], "priority": 2, "estimated_complexity": 1}
]` + "\n```"

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// startRuntimes serves fake model and developer runtimes and points the
// configuration at them. completed controls the reported task status.
func startRuntimes(t *testing.T, modelContent string, completed bool) {
	t.Helper()

	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(planning.GenerateResponse{Content: modelContent})
	}))
	t.Cleanup(model.Close)

	developer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req orchestration.DevelopmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := make(map[string]bool, len(req.AtomicTasks))
		var files []string
		for _, task := range req.AtomicTasks {
			status[task.ID] = completed
			files = append(files, task.TargetFiles...)
		}
		json.NewEncoder(w).Encode(orchestration.DevelopmentResult{
			AtomicTasks:          req.AtomicTasks,
			TaskCompletionStatus: status,
			FilesCreated:         files,
		})
	}))
	t.Cleanup(developer.Close)

	t.Setenv("MODEL_RUNTIME_URL", model.URL)
	t.Setenv("DEVELOPER_RUNTIME_URL", developer.URL)
	t.Setenv("LOGGING_LEVEL", "ERROR")
}

func TestRun_TextOutput(t *testing.T) {
	startRuntimes(t, planResponse, true)
	ws := filepath.Join(t.TempDir(), "site")

	stdout, stderr, err := execute(t, "run", "Create a hello world website", ws)
	require.NoError(t, err)

	info, statErr := os.Stat(ws)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())

	assert.Contains(t, stdout, "Development Session Complete:")
	assert.Contains(t, stdout, "- Tasks Completed: 2/2")
	assert.Contains(t, stdout, "- Success: true")
	assert.Contains(t, stdout, "- Files Created (2): index.html, style.css")
	assert.Contains(t, stderr, "[initialize] Session initialized for task: Create a hello world website")
}

func TestRun_JSONOutput(t *testing.T) {
	startRuntimes(t, planResponse, true)

	stdout, _, err := execute(t, "run", "Create a site", t.TempDir(), "--output", "json", "--model", "gemini-test")
	require.NoError(t, err)

	var state models.OverallState
	require.NoError(t, json.Unmarshal([]byte(stdout), &state))
	assert.True(t, state.Success)
	assert.Equal(t, models.ServiceComplete, state.CurrentService)
	assert.Equal(t, 1.0, state.OverallProgress)
	assert.Len(t, state.CompletedTasks, 2)
	assert.NotEmpty(t, state.SessionID)
}

func TestRun_YAMLOutput(t *testing.T) {
	startRuntimes(t, planResponse, true)

	stdout, _, err := execute(t, "run", "Create a site", t.TempDir(), "-o", "yaml")
	require.NoError(t, err)

	var state models.OverallState
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &state))
	assert.True(t, state.Success)
	assert.Len(t, state.PlannerState.AtomicTasks, 2)
}

func TestRun_FailedSession(t *testing.T) {
	startRuntimes(t, planResponse, false)

	stdout, _, err := execute(t, "run", "Create a site", t.TempDir())
	assert.ErrorIs(t, err, ErrSessionFailed)
	assert.Contains(t, stdout, "- Success: false")
	assert.Contains(t, stdout, "- Tasks Completed: 0/2")
}

func TestRun_PlannerFallback(t *testing.T) {
	startRuntimes(t, "I cannot produce JSON today", true)

	stdout, _, err := execute(t, "run", "Build a tool", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "- Tasks Completed: 1/1")
	assert.Contains(t, stdout, "main.py")
}

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no task", []string{"run"}, "accepts between 1 and 2 arg(s)"},
		{"bad output", []string{"run", "t", "--output", "xml"}, "unsupported output format"},
		{"bad temperature", []string{"run", "t", t.TempDir(), "--temperature", "3"}, "temperature must be within"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSearch(t *testing.T) {
	t.Setenv("LOGGING_LEVEL", "ERROR")
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "handler.go"),
		[]byte("package api\n\nfunc HandleLogin() {}\n"), 0644))

	stdout, _, err := execute(t, "search", "HandleLogin", ws, "--type", "structure")
	require.NoError(t, err)

	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, search.ModeStructure, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "handler.go", resp.Results[0].FilePath)
	assert.Equal(t, 30, resp.Results[0].RelevanceScore)
}

func TestSearch_YAML(t *testing.T) {
	t.Setenv("LOGGING_LEVEL", "ERROR")

	stdout, _, err := execute(t, "search", "anything", t.TempDir(), "-o", "yaml")
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "anything", resp["query"])
	assert.Equal(t, 0, resp["total_files_indexed"])
}

func TestSearch_FailurePayload(t *testing.T) {
	t.Setenv("LOGGING_LEVEL", "ERROR")
	missing := filepath.Join(t.TempDir(), "missing")

	stdout, _, err := execute(t, "search", "x", missing)
	assert.ErrorIs(t, err, ErrSearchFailed)

	var failure search.Failure
	require.NoError(t, json.Unmarshal([]byte(stdout), &failure))
	assert.Equal(t, "x", failure.Query)
	assert.NotEmpty(t, failure.Error)
	assert.Empty(t, failure.Results)
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	stdout, _, err := execute(t, "token", "--user", "u-7", "--roles", "developer,admin", "--ttl", "1h")
	require.NoError(t, err)

	jm, err := auth.NewJWTManager("cli-secret")
	require.NoError(t, err)
	claims, err := jm.ValidateToken(context.Background(), strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "u-7", claims.UserID)
	assert.Equal(t, "u-7", claims.Username)
	assert.Equal(t, []string{"developer", "admin"}, claims.Roles)
}

func TestToken_Errors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, _, err := execute(t, "token", "--user", "u-7")
	assert.ErrorIs(t, err, auth.ErrMissingSecret)

	t.Setenv("JWT_SECRET", "s")
	_, _, err = execute(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
