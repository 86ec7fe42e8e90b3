// Package redis LiveState 缓存操作
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gilkh/livret-sub003/internal/shared/cache"

	"github.com/redis/go-redis/v9"
)

var _ cache.LiveStateCache = (*Store)(nil)

// SetLiveState 整体覆盖写入，并刷新 TTL
func (s *Store) SetLiveState(ctx context.Context, state *cache.LiveState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal live state: %w", err)
	}
	return s.client.Set(ctx, cache.KeyLiveState+state.RunID, data, cache.TTLLiveState).Err()
}

// GetLiveState 获取实时状态
func (s *Store) GetLiveState(ctx context.Context, runID string) (*cache.LiveState, error) {
	data, err := s.client.Get(ctx, cache.KeyLiveState+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state cache.LiveState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal live state: %w", err)
	}
	return &state, nil
}

// DeleteLiveState 删除实时状态
func (s *Store) DeleteLiveState(ctx context.Context, runID string) error {
	return s.client.Del(ctx, cache.KeyLiveState+runID).Err()
}
