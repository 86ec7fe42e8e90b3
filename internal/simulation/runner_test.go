package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/sandbox"
	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
	"github.com/gilkh/livret-sub003/internal/shared/storage/memstore"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// ============================================================================
// 测试辅助
// ============================================================================

func newSandboxStore() *memstore.Store {
	return memstore.NewStore("memory://livret_sandbox", "livret_sandbox")
}

func newTestRunner(t *testing.T, store storeWithConn, targetURL string) *Runner {
	t.Helper()
	r := NewRunner(Options{
		Store:           store,
		Guard:           sandbox.NewGuard("true", "", store),
		Auth:            auth.Config{JWTSecret: "test-secret"},
		TargetURL:       targetURL,
		ActorTimeout:    2 * time.Second,
		SampleInterval:  50 * time.Millisecond,
		CollectInterval: 50 * time.Millisecond,
		Logger:          logging.Discard(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

// storeWithConn memstore 及其包装都满足
type storeWithConn interface {
	storage.PersistentStore
	sandbox.Conn
}

func waitDone(t *testing.T, h *RunHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("run %s did not finish", h.ID)
	}
}

// fakeLivret 模拟业务 API，记录收到的请求数
func fakeLivret(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	detail, err := json.Marshal(map[string]any{"template": map[string]any{"pages": defaultTemplatePages()}})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api")
		switch {
		case r.Method == http.MethodGet && path == "/teacher/classes":
			_, _ = w.Write([]byte(`[{"_id":"c1"},{"_id":"c2"}]`))
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/students"):
			_, _ = w.Write([]byte(`{"students":[{"_id":"s1"}]}`))
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/templates"):
			_, _ = w.Write([]byte(`[{"id":"a1"}]`))
		case r.Method == http.MethodGet && strings.HasPrefix(path, "/teacher/template-assignments/"):
			_, _ = w.Write(detail)
		case strings.HasSuffix(path, "/mark-done"):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"already_done"}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

// failingClassesStore CreateClasses 总是失败
type failingClassesStore struct {
	*memstore.Store
}

func (failingClassesStore) CreateClasses(context.Context, []*model.Class) error {
	return errors.New("disk full")
}

// ============================================================================
// Start 校验
// ============================================================================

func TestStartRejectedOutsideSandbox(t *testing.T) {
	store := memstore.NewStore("mongodb://localhost:27017", "livret")
	r := NewRunner(Options{
		Store:  store,
		Guard:  sandbox.NewGuard("true", "", store),
		Logger: logging.Discard(),
	})

	_, err := r.Start(context.Background(), StartRequest{Teachers: 1, DurationSec: 10}, "admin")
	var sbErr *sandbox.Error
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, sandbox.CodeNotAllowed, sbErr.Code)
	assert.Equal(t, 0, store.Counts()["users"])

	runs, err := store.ListSimulationRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStartInvalidScenario(t *testing.T) {
	r := newTestRunner(t, newSandboxStore(), "http://127.0.0.1:1/api")
	_, err := r.Start(context.Background(), StartRequest{Scenario: "chaos"}, "admin")
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

func TestStartRejectsWhenRunAlreadyRunning(t *testing.T) {
	ctx := context.Background()
	store := newSandboxStore()
	require.NoError(t, store.CreateSimulationRun(ctx, &model.SimulationRun{
		ID:        "existing",
		Status:    model.SimulationStatusRunning,
		StartedAt: time.Now(),
	}))
	r := newTestRunner(t, store, "http://127.0.0.1:1/api")

	_, err := r.Start(ctx, StartRequest{Teachers: 3, SubAdmins: 1, DurationSec: 10}, "admin")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Contains(t, err.Error(), "existing")

	counts := store.Counts()
	assert.Equal(t, 0, counts["users"])
	assert.Equal(t, 0, counts["classes"])
}

func TestClamp(t *testing.T) {
	got := StartRequest{
		Teachers:          999999999,
		SubAdmins:         -5,
		DurationSec:       1,
		ThinkTimeMs:       10,
		RampUpUsersPerSec: -1,
	}.Clamp()
	assert.Equal(t, model.MaxSimulationTeachers, got.Teachers)
	assert.Equal(t, 0, got.SubAdmins)
	assert.Equal(t, model.MinSimulationDuration, got.DurationSec)
	assert.Equal(t, minThinkTimeMs, got.ThinkTimeMs)
	assert.Zero(t, got.RampUpUsersPerSec)

	got = StartRequest{DurationSec: 100000, ThinkTimeMs: -3, RampUpUsersPerSec: 1e9}.Clamp()
	assert.Equal(t, model.MaxSimulationDuration, got.DurationSec)
	assert.Zero(t, got.ThinkTimeMs)
	assert.Equal(t, float64(maxRampUpPerSec), got.RampUpUsersPerSec)
}

// ============================================================================
// 生命周期
// ============================================================================

func TestRunWithoutActorsCompletes(t *testing.T) {
	ctx := context.Background()
	store := newSandboxStore()
	r := newTestRunner(t, store, "http://127.0.0.1:1/api")

	h, err := r.Start(ctx, StartRequest{DurationSec: 10}, "admin")
	require.NoError(t, err)
	waitDone(t, h)

	run, err := r.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusCompleted, run.Status)
	require.NotNil(t, run.EndedAt)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 0, run.Summary.TotalActions)
	assert.Equal(t, model.VerdictPass, run.Summary.Verdict)
	require.NotNil(t, run.Seed)
	assert.Len(t, run.Seed.ClassIDs, 1)
	assert.Equal(t, 6, run.Seed.StudentCount)
	assert.True(t, run.Sandbox)

	// 未要求清理时种子数据保留
	assert.Equal(t, 1, store.Counts()["classes"])

	running, err := r.Running(ctx)
	require.NoError(t, err)
	assert.Nil(t, running)
}

func TestSeedFailureMarksRunFailedAndCleansUp(t *testing.T) {
	ctx := context.Background()
	inner := newSandboxStore()
	r := newTestRunner(t, failingClassesStore{inner}, "http://127.0.0.1:1/api")

	h, err := r.Start(ctx, StartRequest{Teachers: 2, SubAdmins: 1, DurationSec: 10}, "admin")
	require.NoError(t, err)
	waitDone(t, h)

	run, err := r.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusFailed, run.Status)
	assert.Contains(t, run.Error, "disk full")
	assert.NotNil(t, run.EndedAt)
	assert.Equal(t, 0, inner.Counts()["users"])

	live, err := r.Live(ctx, h.ID)
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestStopWithoutRunningRun(t *testing.T) {
	r := newTestRunner(t, newSandboxStore(), "http://127.0.0.1:1/api")

	_, err := r.Stop(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Stop(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecoverStale(t *testing.T) {
	ctx := context.Background()
	store := newSandboxStore()
	require.NoError(t, store.CreateSimulationRun(ctx, &model.SimulationRun{
		ID:        "orphan",
		Status:    model.SimulationStatusRunning,
		StartedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.CreateSimulationRun(ctx, &model.SimulationRun{
		ID:        "done",
		Status:    model.SimulationStatusCompleted,
		StartedAt: time.Now().Add(-2 * time.Hour),
	}))
	r := newTestRunner(t, store, "http://127.0.0.1:1/api")

	n, err := r.RecoverStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	run, err := r.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusFailed, run.Status)
	assert.Equal(t, staleRunErrorMsg, run.Error)

	run, err = r.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusCompleted, run.Status)
}

// TestRunAgainstFakeAPI 完整执行：虚拟用户访问假业务 API，中途停止
func TestRunAgainstFakeAPI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load run in short mode")
	}
	ctx := context.Background()
	srv, hits := fakeLivret(t)
	store := newSandboxStore()
	r := newTestRunner(t, store, srv.URL+"/api")

	h, err := r.Start(ctx, StartRequest{
		Teachers:    3,
		SubAdmins:   2,
		DurationSec: 30,
		ThinkTimeMs: 50,
		Template:    &TemplateRequest{},
	}, "admin")
	require.NoError(t, err)

	// 同时只允许一个执行
	_, err = r.Start(ctx, StartRequest{Teachers: 1, DurationSec: 10}, "admin")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		live, err := r.Live(ctx, h.ID)
		return err == nil && live != nil && live.RecordedTotal >= 20
	}, 10*time.Second, 20*time.Millisecond)

	live, err := r.Live(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, live.RunID)
	assert.LessOrEqual(t, len(live.RecentActions), model.RecentActionsLimit)

	stopped, err := r.Stop(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusStopped, stopped.Status)
	require.NotNil(t, stopped.EndedAt)
	endedAt := *stopped.EndedAt

	waitDone(t, h)

	run, err := r.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusStopped, run.Status)
	assert.True(t, run.EndedAt.Equal(endedAt))
	assert.NotEmpty(t, run.SandboxTemplateID)
	require.NotNil(t, run.Seed)
	assert.Positive(t, run.Seed.AssignmentCount)

	require.NotNil(t, run.Summary)
	assert.Positive(t, run.Summary.TotalActions)
	assert.Contains(t, run.Summary.ByAction, "teacher.listClasses")
	assert.Positive(t, run.Summary.ByAction["teacher.patchData"].Total)
	assert.Positive(t, run.Summary.Latency.Count)
	assert.LessOrEqual(t, len(run.RecentActions), model.RecentActionsLimit)
	assert.Positive(t, hits.Load())

	// 临时用户全部删除
	assert.Equal(t, 0, store.Counts()["users"])

	// 再次 stop 不改变终止状态
	again, err := r.Stop(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusStopped, again.Status)
	assert.True(t, again.EndedAt.Equal(endedAt))

	history, err := r.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, h.ID, history[0].ID)
}

func TestRunWithCleanupRemovesSeedData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load run in short mode")
	}
	ctx := context.Background()
	srv, _ := fakeLivret(t)
	store := newSandboxStore()
	r := newTestRunner(t, store, srv.URL+"/api")

	h, err := r.Start(ctx, StartRequest{
		Teachers:          2,
		SubAdmins:         1,
		DurationSec:       10,
		ThinkTimeMs:       50,
		Template:          &TemplateRequest{Name: "Carnet"},
		CleanupSeededData: true,
	}, "admin")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, err := r.Get(ctx, h.ID)
		return err == nil && run.Seed != nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err = r.Stop(ctx, h.ID)
	require.NoError(t, err)
	waitDone(t, h)

	counts := store.Counts()
	for _, k := range []string{"users", "classes", "students", "enrollments", "template_assignments", "gradebook_templates", "role_scopes"} {
		assert.Equal(t, 0, counts[k], k)
	}

	run, err := r.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carnet", run.TemplateName)
}

func TestRampUpCountsOnlyStartedUsers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load run in short mode")
	}
	ctx := context.Background()
	srv, _ := fakeLivret(t)
	store := newSandboxStore()
	r := newTestRunner(t, store, srv.URL+"/api")

	h, err := r.Start(ctx, StartRequest{
		Teachers:          6,
		SubAdmins:         2,
		DurationSec:       30,
		ThinkTimeMs:       50,
		RampUpUsersPerSec: 1,
		Template:          &TemplateRequest{},
	}, "admin")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		live, err := r.Live(ctx, h.ID)
		return err == nil && live != nil && live.ActiveTeacherUsers+live.ActiveSubAdminUsers >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// 每秒放行一个，刚开始只有首批计入活跃
	live, err := r.Live(ctx, h.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, live.ActiveTeacherUsers+live.ActiveSubAdminUsers, int64(2))

	_, err = r.Stop(ctx, h.ID)
	require.NoError(t, err)
	waitDone(t, h)
	assert.Equal(t, 0, store.Counts()["users"])
}
