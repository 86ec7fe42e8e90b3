// Package cache 缓存层 mock 实现
package cache

import (
	"context"
	"sync"
)

// ============================================================================
// NoOpCache - 空操作的 Cache 实现（未配置 Redis 时使用）
// ============================================================================

// NoOpCache 是一个不做任何操作的 Cache 实现
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Close 关闭缓存
func (c *NoOpCache) Close() error {
	return nil
}

func (c *NoOpCache) SetLiveState(ctx context.Context, state *LiveState) error {
	return nil
}
func (c *NoOpCache) GetLiveState(ctx context.Context, runID string) (*LiveState, error) {
	return nil, nil
}
func (c *NoOpCache) DeleteLiveState(ctx context.Context, runID string) error {
	return nil
}

// 确保 NoOpCache 实现了 LiveStateCache 接口
var _ LiveStateCache = (*NoOpCache)(nil)

// ============================================================================
// MemoryCache - 进程内实现（测试用）
// ============================================================================

// MemoryCache 进程内 LiveStateCache，不处理 TTL
type MemoryCache struct {
	mu     sync.Mutex
	states map[string]LiveState
}

// NewMemoryCache 创建 MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{states: make(map[string]LiveState)}
}

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) SetLiveState(ctx context.Context, state *LiveState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *state
	c.states[state.RunID] = s
	return nil
}

func (c *MemoryCache) GetLiveState(ctx context.Context, runID string) (*LiveState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[runID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *MemoryCache) DeleteLiveState(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, runID)
	return nil
}

var _ LiveStateCache = (*MemoryCache)(nil)
