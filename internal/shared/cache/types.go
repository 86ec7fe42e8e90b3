// Package cache 缓存层类型定义
package cache

import (
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// LiveState 模拟执行的实时状态快照
//
// 由持有执行的 Runner 周期性写入，其他实例只读。
type LiveState struct {
	RunID               string               `json:"runId"`
	StartedAt           time.Time            `json:"startedAt"`
	StopRequested       bool                 `json:"stopRequested"`
	ActiveTeacherUsers  int64                `json:"activeTeacherUsers"`
	ActiveSubAdminUsers int64                `json:"activeSubAdminUsers"`
	InFlight            int64                `json:"inFlight"`
	RecordedTotal       int64                `json:"recordedTotal"`
	LastMetrics         *model.LiveMetrics   `json:"lastMetrics,omitempty"`
	RecentActions       []model.ActionMetric `json:"recentActions"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// KeyLiveState 实时状态 key 前缀，完整 key 为 sim:live:{runId}
	KeyLiveState = "sim:live:"

	// TTLLiveState 写入方停止刷新后自动过期
	TTLLiveState = 30 * time.Second
)
