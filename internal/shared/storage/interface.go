// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：mongostore/, memstore/
//   - 初始化时通过依赖注入传入实现
//
// 实时状态镜像不在这里，见 cache/。
package storage

import (
	"context"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

// ============================================================================
// SimulationStore - 模拟执行记录
// ============================================================================

// SimulationStore 模拟执行记录存储
//
// 状态流转只通过 FinishSimulationRun 完成，
// 实现必须以 status=running 作为更新条件，保证终止状态不可逆。
type SimulationStore interface {
	CreateSimulationRun(ctx context.Context, run *model.SimulationRun) error
	// GetSimulationRun 不存在时返回 (nil, nil)
	GetSimulationRun(ctx context.Context, id string) (*model.SimulationRun, error)
	// GetRunningSimulationRun 返回最近开始的 running 记录，没有时返回 (nil, nil)
	GetRunningSimulationRun(ctx context.Context) (*model.SimulationRun, error)
	// ListSimulationRuns 按 startedAt 倒序
	ListSimulationRuns(ctx context.Context, limit int) ([]*model.SimulationRun, error)

	// FinishSimulationRun 条件更新 running → status，返回是否真正发生了流转
	FinishSimulationRun(ctx context.Context, id string, status model.SimulationStatus, endedAt time.Time, errMsg string) (bool, error)
	SetSimulationSummary(ctx context.Context, id string, summary *model.SimulationSummary) error
	SetSimulationLastMetrics(ctx context.Context, id string, metrics *model.LiveMetrics) error
	SetSimulationSeed(ctx context.Context, id string, seed *model.SeedInfo) error
	SetSimulationTemplate(ctx context.Context, id, templateID, templateName string) error

	// PushSimulationAction 追加 action 并只保留最近 limit 条（单文档原子操作）
	PushSimulationAction(ctx context.Context, id string, action model.ActionMetric, limit int) error
	GetSimulationRecentActions(ctx context.Context, id string) ([]model.ActionMetric, error)

	// FailStaleSimulationRuns 将遗留的 running 记录标记为 failed，返回受影响数量
	FailStaleSimulationRuns(ctx context.Context, errMsg string, endedAt time.Time) (int64, error)
}

// ============================================================================
// UserStore - 用户
// ============================================================================

// UserStore 用户存储（模拟只创建和删除临时用户）
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	DeleteUsers(ctx context.Context, ids []string) (int64, error)
	CountSimulationUsers(ctx context.Context, runID string) (int64, error)
}

// ============================================================================
// SeedStore - 种子数据
// ============================================================================

// SeedStore 模拟种子数据存储
//
// 所有写入的文档都带 seedTag（= runId），DeleteSeedData 按 tag 批量清理。
// Ensure* 系列为 upsert，重复调用不会产生重复关系。
type SeedStore interface {
	// GetActiveSchoolYear 没有 active 学年时返回 (nil, nil)
	GetActiveSchoolYear(ctx context.Context) (*model.SchoolYear, error)
	CreateSchoolYear(ctx context.Context, year *model.SchoolYear) error
	CreateClasses(ctx context.Context, classes []*model.Class) error
	CreateStudents(ctx context.Context, students []*model.Student) error
	CreateEnrollments(ctx context.Context, enrollments []*model.Enrollment) error
	CreateTemplateAssignments(ctx context.Context, assignments []*model.TemplateAssignment) error
	CreateGradebookTemplate(ctx context.Context, tpl *model.GradebookTemplate) error

	EnsureTeacherClassAssignment(ctx context.Context, teacherID, classID, seedTag string) error
	EnsureRoleScope(ctx context.Context, userID string, levels []string, seedTag string) error
	EnsureSubAdminAssignment(ctx context.Context, subAdminID, teacherID, seedTag string) error

	DeleteSeedData(ctx context.Context, seedTag string) (int64, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	SimulationStore
	UserStore
	SeedStore
	Close() error
}
