package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	dbName := "livret_sandbox_test"
	s, err := NewStore(uri, dbName)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	// 清空测试数据库
	ctx := context.Background()
	if err := s.db.Drop(ctx); err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}
	// 重新创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})

	return s
}

// Compile-time interface check
var _ storage.PersistentStore = (*Store)(nil)

func newRun(id string, startedAt time.Time) *model.SimulationRun {
	return &model.SimulationRun{
		ID:                   id,
		Status:               model.SimulationStatusRunning,
		Scenario:             "mixed",
		StartedAt:            startedAt,
		RequestedDurationSec: 60,
		Sandbox:              true,
		SandboxMarker:        "sandbox",
	}
}

func TestSimulationRunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.CreateSimulationRun(ctx, newRun("run-001", now)); err != nil {
		t.Fatalf("CreateSimulationRun: %v", err)
	}
	if err := s.CreateSimulationRun(ctx, newRun("run-001", now)); err != storage.ErrDuplicate {
		t.Fatalf("duplicate insert err = %v, want ErrDuplicate", err)
	}

	running, err := s.GetRunningSimulationRun(ctx)
	if err != nil || running == nil || running.ID != "run-001" {
		t.Fatalf("GetRunningSimulationRun = %v, %v", running, err)
	}

	ended := now.Add(time.Minute)
	ok, err := s.FinishSimulationRun(ctx, "run-001", model.SimulationStatusStopped, ended, "")
	if err != nil || !ok {
		t.Fatalf("FinishSimulationRun = %v, %v", ok, err)
	}

	// 终止状态不可逆
	ok, err = s.FinishSimulationRun(ctx, "run-001", model.SimulationStatusCompleted, ended.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("FinishSimulationRun second: %v", err)
	}
	if ok {
		t.Fatal("second finish should not transition")
	}

	got, err := s.GetSimulationRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("GetSimulationRun: %v", err)
	}
	if got.Status != model.SimulationStatusStopped {
		t.Errorf("Status = %s, want stopped", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}

	missing, err := s.GetSimulationRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetSimulationRun(missing) = %v, %v", missing, err)
	}
}

func TestPushSimulationActionBounded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSimulationRun(ctx, newRun("run-ring", time.Now().UTC())); err != nil {
		t.Fatalf("CreateSimulationRun: %v", err)
	}

	for i := 0; i < 25; i++ {
		m := model.ActionMetric{Name: fmt.Sprintf("a%d", i), OK: true, Ms: float64(i), At: time.Now().UTC()}
		if err := s.PushSimulationAction(ctx, "run-ring", m, 10); err != nil {
			t.Fatalf("PushSimulationAction: %v", err)
		}
	}

	actions, err := s.GetSimulationRecentActions(ctx, "run-ring")
	if err != nil {
		t.Fatalf("GetSimulationRecentActions: %v", err)
	}
	if len(actions) != 10 {
		t.Fatalf("len = %d, want 10", len(actions))
	}
	if actions[0].Name != "a15" || actions[9].Name != "a24" {
		t.Errorf("window = %s..%s, want a15..a24", actions[0].Name, actions[9].Name)
	}

	if err := s.PushSimulationAction(ctx, "missing", model.ActionMetric{Name: "x"}, 10); err != storage.ErrNotFound {
		t.Errorf("push to missing run err = %v, want ErrNotFound", err)
	}
}

func TestFailStaleSimulationRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.CreateSimulationRun(ctx, newRun("stale-1", now))
	done := newRun("done-1", now.Add(-time.Hour))
	done.Status = model.SimulationStatusCompleted
	s.CreateSimulationRun(ctx, done)

	n, err := s.FailStaleSimulationRuns(ctx, "interrupted", now)
	if err != nil {
		t.Fatalf("FailStaleSimulationRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("affected = %d, want 1", n)
	}

	runs, err := s.ListSimulationRuns(ctx, 25)
	if err != nil {
		t.Fatalf("ListSimulationRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "stale-1" {
		t.Fatalf("ListSimulationRuns order wrong: %+v", runs)
	}
	if runs[0].Status != model.SimulationStatusFailed || runs[0].Error != "interrupted" {
		t.Errorf("stale run = %s/%q", runs[0].Status, runs[0].Error)
	}
}

func TestSeedEnsureIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.EnsureTeacherClassAssignment(ctx, "t1", "c1", "run-x"); err != nil {
			t.Fatalf("EnsureTeacherClassAssignment: %v", err)
		}
		if err := s.EnsureSubAdminAssignment(ctx, "s1", "t1", "run-x"); err != nil {
			t.Fatalf("EnsureSubAdminAssignment: %v", err)
		}
		if err := s.EnsureRoleScope(ctx, "s1", []string{"PS", "MS"}, "run-x"); err != nil {
			t.Fatalf("EnsureRoleScope: %v", err)
		}
	}

	for col, want := range map[string]int64{
		ColTeacherClassAssignments: 1,
		ColSubAdminAssignments:     1,
		ColRoleScopes:              1,
	} {
		n, err := s.col(col).CountDocuments(ctx, map[string]any{})
		if err != nil {
			t.Fatalf("count %s: %v", col, err)
		}
		if n != want {
			t.Errorf("%s count = %d, want %d", col, n, want)
		}
	}

	deleted, err := s.DeleteSeedData(ctx, "run-x")
	if err != nil {
		t.Fatalf("DeleteSeedData: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
}

func TestUserDeleteAndCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ids := []string{"u1", "u2"}
	for _, id := range ids {
		u := &model.User{ID: id, Email: id + "@sandbox.local", Role: model.UserRoleTeacher, SimulationRunID: "run-u"}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	n, _ := s.CountSimulationUsers(ctx, "run-u")
	if n != 2 {
		t.Fatalf("CountSimulationUsers = %d, want 2", n)
	}

	deleted, err := s.DeleteUsers(ctx, ids)
	if err != nil || deleted != 2 {
		t.Fatalf("DeleteUsers = %d, %v", deleted, err)
	}
	n, _ = s.CountSimulationUsers(ctx, "run-u")
	if n != 0 {
		t.Errorf("CountSimulationUsers after delete = %d", n)
	}
}
