// Package cache 缓存层抽象接口
//
// 提供临时状态的存取能力，当前由 Redis 实现。
package cache

import (
	"context"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// LiveStateCache 模拟实时状态镜像
//
// 不存在时 GetLiveState 返回 (nil, nil)。
type LiveStateCache interface {
	SetLiveState(ctx context.Context, state *LiveState) error
	GetLiveState(ctx context.Context, runID string) (*LiveState, error)
	DeleteLiveState(ctx context.Context, runID string) error
	Close() error
}
