package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningRun(id string, at time.Time) *model.SimulationRun {
	return &model.SimulationRun{ID: id, Status: model.SimulationStatusRunning, StartedAt: at, Scenario: "mixed"}
}

func TestFinishIsIrreversible(t *testing.T) {
	s := NewStore("mongodb://localhost/livret_sandbox", "livret_sandbox")
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateSimulationRun(ctx, runningRun("r1", now)))
	assert.ErrorIs(t, s.CreateSimulationRun(ctx, runningRun("r1", now)), storage.ErrDuplicate)

	ok, err := s.FinishSimulationRun(ctx, "r1", model.SimulationStatusStopped, now.Add(time.Second), "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FinishSimulationRun(ctx, "r1", model.SimulationStatusCompleted, now.Add(time.Hour), "late")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetSimulationRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.SimulationStatusStopped, got.Status)
	assert.True(t, got.EndedAt.Equal(now.Add(time.Second)))
	assert.Empty(t, got.Error)
}

func TestPushActionConcurrentBounded(t *testing.T) {
	s := NewStore("", "")
	ctx := context.Background()
	require.NoError(t, s.CreateSimulationRun(ctx, runningRun("r1", time.Now())))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.PushSimulationAction(ctx, "r1", model.ActionMetric{Name: fmt.Sprintf("w%d-%d", w, i), OK: true}, model.RecentActionsLimit)
			}
		}(w)
	}
	wg.Wait()

	actions, err := s.GetSimulationRecentActions(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, actions, model.RecentActionsLimit)

	_, err = s.GetSimulationRecentActions(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewStore("", "")
	ctx := context.Background()
	require.NoError(t, s.CreateSimulationRun(ctx, runningRun("r1", time.Now())))

	got, _ := s.GetSimulationRun(ctx, "r1")
	got.Status = model.SimulationStatusFailed

	again, _ := s.GetSimulationRun(ctx, "r1")
	assert.Equal(t, model.SimulationStatusRunning, again.Status)
}

func TestRunningAndHistoryOrder(t *testing.T) {
	s := NewStore("", "")
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 30; i++ {
		r := runningRun(fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Second))
		if i < 29 {
			r.Status = model.SimulationStatusCompleted
		}
		require.NoError(t, s.CreateSimulationRun(ctx, r))
	}

	running, err := s.GetRunningSimulationRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, "r29", running.ID)

	runs, err := s.ListSimulationRuns(ctx, 25)
	require.NoError(t, err)
	assert.Len(t, runs, 25)
	assert.Equal(t, "r29", runs[0].ID)
	assert.Equal(t, "r05", runs[24].ID)

	n, err := s.FailStaleSimulationRuns(ctx, "interrupted", time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	running, err = s.GetRunningSimulationRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, running)
}

func TestEnsureUpsertsAndCleanup(t *testing.T) {
	s := NewStore("", "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.EnsureTeacherClassAssignment(ctx, "t1", "c1", "run"))
		require.NoError(t, s.EnsureSubAdminAssignment(ctx, "s1", "t1", "run"))
	}
	require.NoError(t, s.EnsureRoleScope(ctx, "s1", []string{"PS", "MS"}, "run"))
	require.NoError(t, s.EnsureRoleScope(ctx, "s1", []string{"MS", "GS"}, "run"))

	counts := s.Counts()
	assert.Equal(t, 1, counts["teacher_class_assignments"])
	assert.Equal(t, 1, counts["subadmin_assignments"])
	assert.ElementsMatch(t, []string{"PS", "MS", "GS"}, s.RoleScopeLevels("s1"))

	require.NoError(t, s.CreateClasses(ctx, []*model.Class{{ID: "c1", SeedTag: "run"}, {ID: "c2", SeedTag: "other"}}))

	n, err := s.DeleteSeedData(ctx, "run")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, 1, s.Counts()["classes"])

	_, err = s.DeleteSeedData(ctx, "")
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	s := NewStore("", "")
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u1", Email: "a@sandbox.local", SimulationRunID: "r"}))
	assert.ErrorIs(t, s.CreateUser(ctx, &model.User{ID: "u2", Email: "a@sandbox.local"}), storage.ErrDuplicate)

	n, _ := s.CountSimulationUsers(ctx, "r")
	assert.EqualValues(t, 1, n)

	deleted, err := s.DeleteUsers(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	n, _ = s.CountSimulationUsers(ctx, "r")
	assert.Zero(t, n)
}
