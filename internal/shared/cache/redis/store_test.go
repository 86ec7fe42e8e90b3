package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/cache"
	"github.com/gilkh/livret-sub003/internal/shared/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	s, err := NewStoreFromURL(url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLiveStateRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	state := &cache.LiveState{
		RunID:              "run-redis-1",
		StartedAt:          time.Now().UTC().Truncate(time.Millisecond),
		ActiveTeacherUsers: 3,
		InFlight:           1,
		RecentActions:      []model.ActionMetric{{Name: "teacher.listClasses", OK: true, Ms: 4}},
	}
	require.NoError(t, s.SetLiveState(ctx, state))

	got, err := s.GetLiveState(ctx, "run-redis-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ActiveTeacherUsers)
	assert.Len(t, got.RecentActions, 1)

	ttl, err := s.client.TTL(ctx, cache.KeyLiveState+"run-redis-1").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, cache.TTLLiveState)

	require.NoError(t, s.DeleteLiveState(ctx, "run-redis-1"))
	got, err = s.GetLiveState(ctx, "run-redis-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
