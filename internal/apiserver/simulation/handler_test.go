package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/sandbox"
	"github.com/gilkh/livret-sub003/internal/shared/cache"
	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage/memstore"
	sim "github.com/gilkh/livret-sub003/internal/simulation"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// ============================================================================
// Mock
// ============================================================================

type mockRunner struct {
	startReq  sim.StartRequest
	startBy   string
	startErr  error
	stopID    string
	stopErr   error
	running   *model.SimulationRun
	runs      map[string]*model.SimulationRun
	live      *cache.LiveState
	stopCalls int
}

func (m *mockRunner) Start(_ context.Context, req sim.StartRequest, createdBy string) (*sim.RunHandle, error) {
	m.startReq, m.startBy = req, createdBy
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &sim.RunHandle{ID: "run-1"}, nil
}

func (m *mockRunner) Stop(_ context.Context, runID string) (*model.SimulationRun, error) {
	m.stopCalls++
	m.stopID = runID
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &model.SimulationRun{ID: "run-1", Status: model.SimulationStatusStopped}, nil
}

func (m *mockRunner) Running(context.Context) (*model.SimulationRun, error) { return m.running, nil }

func (m *mockRunner) History(context.Context) ([]*model.SimulationRun, error) {
	var out []*model.SimulationRun
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRunner) Get(_ context.Context, id string) (*model.SimulationRun, error) {
	if r, ok := m.runs[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", sim.ErrNotFound, id)
}

func (m *mockRunner) Live(context.Context, string) (*cache.LiveState, error) { return m.live, nil }

type fakeProcess struct {
	status   sandbox.Status
	startErr error
	starts   int
	stops    int
	baseURL  string
}

func (p *fakeProcess) Status() sandbox.Status { return p.status }

func (p *fakeProcess) Start(context.Context) (sandbox.Status, error) {
	p.starts++
	if p.startErr != nil {
		return p.status, p.startErr
	}
	p.status = sandbox.Status{Running: true, State: sandbox.StateRunning, PID: 42, BaseURL: p.baseURL}
	return p.status, nil
}

func (p *fakeProcess) Stop() sandbox.Status {
	p.stops++
	p.status = sandbox.Status{State: sandbox.StateStopped, BaseURL: p.baseURL}
	return p.status
}

func (p *fakeProcess) BaseURL() string { return p.baseURL }

// ============================================================================
// 测试辅助
// ============================================================================

var testAuth = auth.Config{JWTSecret: "test-secret", AccessTokenTTL: time.Hour}

func sandboxGuard() *sandbox.Guard {
	return sandbox.NewGuard("true", "", memstore.NewStore("memory://livret_sandbox", "livret_sandbox"))
}

func mainGuard() *sandbox.Guard {
	return sandbox.NewGuard("", "", memstore.NewStore("mongodb://localhost:27017", "livret"))
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(testAuth, "user-"+strings.ToLower(role), role+"@school.local", role)
	require.NoError(t, err)
	return tok
}

func newServer(h *Handler) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	top := http.NewServeMux()
	h.RegisterWebSocket(top)
	top.Handle("/", auth.Middleware(testAuth)(mux))
	return top
}

func do(t *testing.T, srv http.Handler, method, path, tok string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// ============================================================================
// 沙箱模式
// ============================================================================

func TestSandboxModeStart(t *testing.T) {
	runner := &mockRunner{}
	srv := newServer(NewHandler(sandboxGuard(), runner, nil, testAuth))
	admin := token(t, auth.RoleAdmin)

	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/start", admin,
		map[string]any{"teachers": 2, "subAdmins": 1, "durationSec": 10, "scenario": "mixed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, 2, runner.startReq.Teachers)
	assert.Equal(t, "user-admin", runner.startBy)
}

func TestStartErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"not allowed", &sandbox.Error{Code: sandbox.CodeNotAllowed, Message: "no"}, http.StatusForbidden, sandbox.CodeNotAllowed},
		{"already running", fmt.Errorf("%w: run-0", sim.ErrAlreadyRunning), http.StatusConflict, "already_running"},
		{"invalid scenario", fmt.Errorf("%w: chaos", sim.ErrInvalidScenario), http.StatusBadRequest, "invalid_scenario"},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	admin := token(t, auth.RoleAdmin)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(NewHandler(sandboxGuard(), &mockRunner{startErr: tt.err}, nil, testAuth))
			rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/start", admin, map[string]any{})
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRoutesRequireAdmin(t *testing.T) {
	srv := newServer(NewHandler(sandboxGuard(), &mockRunner{}, nil, testAuth))

	rec, _ := do(t, srv, http.MethodGet, "/api/v1/simulations/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := do(t, srv, http.MethodGet, "/api/v1/simulations/status", token(t, auth.RoleTeacher), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", body["error"])
}

func TestStopRoute(t *testing.T) {
	admin := token(t, auth.RoleAdmin)

	runner := &mockRunner{}
	srv := newServer(NewHandler(sandboxGuard(), runner, nil, testAuth))
	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/stop", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Empty(t, runner.stopID)

	rec, _ = do(t, srv, http.MethodPost, "/api/v1/simulations/stop", admin, map[string]any{"runId": "run-9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-9", runner.stopID)

	srv = newServer(NewHandler(sandboxGuard(), &mockRunner{stopErr: sim.ErrNotFound}, nil, testAuth))
	rec, body = do(t, srv, http.MethodPost, "/api/v1/simulations/stop", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestStatusHistoryAndGet(t *testing.T) {
	admin := token(t, auth.RoleAdmin)
	run := &model.SimulationRun{ID: "run-1", Status: model.SimulationStatusRunning, RecentActions: []model.ActionMetric{}}
	runner := &mockRunner{
		running: run,
		runs:    map[string]*model.SimulationRun{"run-1": run},
		live:    &cache.LiveState{RunID: "run-1", ActiveTeacherUsers: 2},
	}
	srv := newServer(NewHandler(sandboxGuard(), runner, nil, testAuth))

	rec, body := do(t, srv, http.MethodGet, "/api/v1/simulations/status", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["sandbox"])
	diag := body["sandboxDiagnostics"].(map[string]any)
	assert.Equal(t, true, diag["markerMatch"])
	assert.Equal(t, "run-1", body["running"].(map[string]any)["id"])
	assert.EqualValues(t, 2, body["live"].(map[string]any)["activeTeacherUsers"])

	rec, body = do(t, srv, http.MethodGet, "/api/v1/simulations/history", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 1)

	rec, body = do(t, srv, http.MethodGet, "/api/v1/simulations/run-1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["run"].(map[string]any)["status"])
	assert.NotNil(t, body["live"])

	rec, body = do(t, srv, http.MethodGet, "/api/v1/simulations/nope", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestHistoryEmptyIsArray(t *testing.T) {
	srv := newServer(NewHandler(sandboxGuard(), &mockRunner{}, nil, testAuth))
	rec, body := do(t, srv, http.MethodGet, "/api/v1/simulations/history", token(t, auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["runs"])
}

func TestSandboxLifecycleDeniedInsideSandbox(t *testing.T) {
	admin := token(t, auth.RoleAdmin)
	process := &fakeProcess{}
	srv := newServer(NewHandler(sandboxGuard(), &mockRunner{}, process, testAuth))

	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/sandbox/stop", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot_stop_from_sandbox", body["error"])

	rec, body = do(t, srv, http.MethodPost, "/api/v1/simulations/sandbox/start", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_in_sandbox", body["error"])

	assert.Zero(t, process.stops)
	assert.Zero(t, process.starts)

	rec, body = do(t, srv, http.MethodGet, "/api/v1/simulations/sandbox/status", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox", body["mode"])
	assert.Equal(t, true, body["sandboxServer"].(map[string]any)["self"])
}

// ============================================================================
// 主模式
// ============================================================================

func TestMainModeSandboxLifecycle(t *testing.T) {
	admin := token(t, auth.RoleAdmin)
	process := &fakeProcess{baseURL: "http://localhost:8091", status: sandbox.Status{State: sandbox.StateStopped}}
	srv := newServer(NewHandler(mainGuard(), nil, process, testAuth))

	rec, body := do(t, srv, http.MethodGet, "/api/v1/simulations/sandbox/status", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main", body["mode"])
	assert.Equal(t, false, body["sandboxServer"].(map[string]any)["running"])

	rec, body = do(t, srv, http.MethodPost, "/api/v1/simulations/sandbox/start", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["sandboxServer"].(map[string]any)["running"])

	rec, body = do(t, srv, http.MethodPost, "/api/v1/simulations/sandbox/stop", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", body["sandboxServer"].(map[string]any)["state"])
	assert.Equal(t, 1, process.stops)
}

func TestMainModeSandboxStartFailure(t *testing.T) {
	process := &fakeProcess{startErr: &sandbox.Error{
		Code:    sandbox.CodeBuildFailed,
		Message: "build exited with status 2",
		Details: map[string]any{"stderr": "syntax error"},
	}}
	srv := newServer(NewHandler(mainGuard(), nil, process, testAuth))

	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/sandbox/start", token(t, auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, sandbox.CodeBuildFailed, body["error"])
	assert.Equal(t, "syntax error", body["stderr"])
}

func TestMainModeProxyWhenSandboxDown(t *testing.T) {
	process := &fakeProcess{baseURL: "http://localhost:8091", status: sandbox.Status{State: sandbox.StateStopped}}
	srv := newServer(NewHandler(mainGuard(), nil, process, testAuth))

	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/start", token(t, auth.RoleAdmin), map[string]any{"teachers": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, sandbox.CodeNotRunning, body["error"])
	assert.Contains(t, body, "sandboxDiagnostics")
	assert.Contains(t, body, "sandboxServer")
}

func TestMainModeWithoutProcessRejects(t *testing.T) {
	srv := newServer(NewHandler(mainGuard(), nil, nil, testAuth))
	rec, body := do(t, srv, http.MethodGet, "/api/v1/simulations/status", token(t, auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, sandbox.CodeNotAllowed, body["error"])
}

func TestMainModeProxiesVerbatim(t *testing.T) {
	admin := token(t, auth.RoleAdmin)

	var gotAuth, gotPath string
	child := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"already_running","message":"from child"}`))
	}))
	defer child.Close()

	process := &fakeProcess{baseURL: child.URL, status: sandbox.Status{Running: true, State: sandbox.StateRunning}}
	srv := newServer(NewHandler(mainGuard(), nil, process, testAuth))

	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/start", admin, map[string]any{"teachers": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "from child", body["message"])
	assert.Equal(t, "Bearer "+admin, gotAuth)
	assert.Equal(t, "/api/v1/simulations/start", gotPath)
}

func TestMainModeProxyForwardFailure(t *testing.T) {
	child := httptest.NewServer(http.NotFoundHandler())
	url := child.URL
	child.Close()

	process := &fakeProcess{baseURL: url, status: sandbox.Status{Running: true, State: sandbox.StateRunning}}
	srv := newServer(NewHandler(mainGuard(), nil, process, testAuth))

	rec, body := do(t, srv, http.MethodGet, "/api/v1/simulations/history", token(t, auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "sandbox_proxy_failed", body["error"])
}

// ============================================================================
// WebSocket
// ============================================================================

func TestWebSocketInMainModeRedirects(t *testing.T) {
	process := &fakeProcess{baseURL: "http://localhost:8091"}
	srv := newServer(NewHandler(mainGuard(), nil, process, testAuth))

	rec, body := do(t, srv, http.MethodGet, "/ws/simulations/run-1?token=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "use_sandbox_url", body["error"])
	assert.Equal(t, "http://localhost:8091", body["sandboxUrl"])
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv := newServer(NewHandler(sandboxGuard(), &mockRunner{}, nil, testAuth))

	rec, _ := do(t, srv, http.MethodGet, "/ws/simulations/run-1?token=bogus", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/ws/simulations/run-1?token="+token(t, auth.RoleTeacher), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebSocketStreamsUntilFinished(t *testing.T) {
	run := &model.SimulationRun{ID: "run-1", Status: model.SimulationStatusCompleted,
		Summary: &model.SimulationSummary{TotalActions: 12, Verdict: model.VerdictPass}}
	runner := &mockRunner{runs: map[string]*model.SimulationRun{"run-1": run}}

	server := httptest.NewServer(newServer(NewHandler(sandboxGuard(), runner, nil, testAuth)))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/simulations/run-1?token=" + token(t, auth.RoleAdmin)
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg LiveMessage
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, "final", msg.Type)
	assert.Equal(t, model.SimulationStatusCompleted, msg.Status)
	require.NotNil(t, msg.Summary)
	assert.Equal(t, 12, msg.Summary.TotalActions)

	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

// ============================================================================
// 端到端：真实 Runner + 内存存储 + 假业务 API
// ============================================================================

func TestEndToEndMixedScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10s end-to-end run in short mode")
	}

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/teacher/classes":
			w.Write([]byte(`[{"_id":"c1"}]`))
		case strings.HasSuffix(r.URL.Path, "/students"):
			w.Write([]byte(`[{"_id":"s1"}]`))
		case strings.HasSuffix(r.URL.Path, "/templates"):
			w.Write([]byte(`[{"_id":"a1"}]`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer api.Close()

	store := memstore.NewStore("memory://livret_sandbox", "livret_sandbox")
	guard := sandbox.NewGuard("true", "", store)
	runner := sim.NewRunner(sim.Options{
		Store:           store,
		Guard:           guard,
		Auth:            testAuth,
		TargetURL:       api.URL + "/api",
		SampleInterval:  100 * time.Millisecond,
		CollectInterval: 100 * time.Millisecond,
		Logger:          logging.Discard(),
	})
	defer runner.Shutdown(context.Background())

	srv := newServer(NewHandler(guard, runner, nil, testAuth))
	admin := token(t, auth.RoleAdmin)

	rec, body := do(t, srv, http.MethodPost, "/api/v1/simulations/start", admin,
		map[string]any{"teachers": 2, "subAdmins": 1, "durationSec": 10, "scenario": "mixed"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ok"])
	runID := body["runId"].(string)

	rec, _ = do(t, srv, http.MethodPost, "/api/v1/simulations/start", admin, map[string]any{"teachers": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		_, body := do(t, srv, http.MethodGet, "/api/v1/simulations/"+runID, admin, nil)
		live, ok := body["live"].(map[string]any)
		return ok && body["run"].(map[string]any)["status"] == "running" && live["activeTeacherUsers"].(float64) <= 2
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_, body := do(t, srv, http.MethodGet, "/api/v1/simulations/"+runID, admin, nil)
		return body["run"].(map[string]any)["status"] == "completed"
	}, 20*time.Second, 200*time.Millisecond)

	// 清理在状态落定之后进行
	require.Eventually(t, func() bool {
		live, err := runner.Live(context.Background(), runID)
		return err == nil && live == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 0, store.Counts()["users"])

	_, body = do(t, srv, http.MethodGet, "/api/v1/simulations/"+runID, admin, nil)
	summary := body["run"].(map[string]any)["summary"].(map[string]any)
	assert.GreaterOrEqual(t, summary["totalActions"].(float64), float64(1))
	assert.Nil(t, body["live"])
}
