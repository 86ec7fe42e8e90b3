// Package model 定义核心数据模型
//
// simulation.go 包含负载模拟相关的数据模型定义：
//   - SimulationRun：一次模拟执行的持久化记录
//   - SimulationStatus：执行状态枚举
//   - ActionMetric：单次 API 调用结果
//   - LiveMetrics：周期性资源快照
//   - SimulationSummary：执行结束后的汇总
package model

import "time"

// ============================================================================
// SimulationStatus - 模拟执行状态
// ============================================================================

// SimulationStatus 表示一次模拟执行的生命周期状态
//
// 状态只允许单向流转：
//
//	running → stopped | completed | failed
//
// 终止状态不可逆，endedAt 只在离开 running 时写入一次。
type SimulationStatus string

const (
	SimulationStatusRunning   SimulationStatus = "running"
	SimulationStatusStopped   SimulationStatus = "stopped"
	SimulationStatusCompleted SimulationStatus = "completed"
	SimulationStatusFailed    SimulationStatus = "failed"
)

// IsTerminal 判断是否为终止状态
func (s SimulationStatus) IsTerminal() bool {
	return s == SimulationStatusStopped || s == SimulationStatusCompleted || s == SimulationStatusFailed
}

// Verdict 稳定性结论
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictFail    Verdict = "fail"
)

// ============================================================================
// 参数边界
// ============================================================================

const (
	MaxSimulationTeachers  = 100000
	MaxSimulationSubAdmins = 10000
	MinSimulationDuration  = 10
	MaxSimulationDuration  = 1800

	// RecentActionsLimit recentActions 环形缓冲上限，与负载无关
	RecentActionsLimit = 200
)

// ============================================================================
// SimulationRun - 模拟执行记录
// ============================================================================

// SimulationRun 一次模拟执行（collection: simulation_runs）
//
// 字段说明：
//   - Status 只由 Run Controller 修改
//   - LastMetrics 运行期间约每秒覆盖一次
//   - RecentActions 最多保留最近 200 条，通过 $push + $slice 原子截断
//   - Summary 结束时写入一次
type SimulationRun struct {
	ID                   string             `json:"id" bson:"_id"`
	Status               SimulationStatus   `json:"status" bson:"status"`
	Scenario             string             `json:"scenario" bson:"scenario"`
	StartedAt            time.Time          `json:"startedAt" bson:"startedAt"`
	EndedAt              *time.Time         `json:"endedAt" bson:"endedAt"`
	RequestedDurationSec int                `json:"requestedDurationSec" bson:"requestedDurationSec"`
	Teachers             int                `json:"teachers" bson:"teachers"`
	SubAdmins            int                `json:"subAdmins" bson:"subAdmins"`
	ThinkTimeMs          int                `json:"thinkTimeMs,omitempty" bson:"thinkTimeMs,omitempty"`
	RampUpUsersPerSec    float64            `json:"rampUpUsersPerSec,omitempty" bson:"rampUpUsersPerSec,omitempty"`
	CleanupSeededData    bool               `json:"cleanupSeededData" bson:"cleanupSeededData"`
	TemplateName         string             `json:"templateName,omitempty" bson:"templateName,omitempty"`
	SandboxTemplateID    string             `json:"sandboxTemplateId,omitempty" bson:"sandboxTemplateId,omitempty"`
	Sandbox              bool               `json:"sandbox" bson:"sandbox"`
	SandboxMarker        string             `json:"sandboxMarker" bson:"sandboxMarker"`
	CreatedBy            string             `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	Seed                 *SeedInfo          `json:"seed,omitempty" bson:"seed,omitempty"`
	Summary              *SimulationSummary `json:"summary,omitempty" bson:"summary,omitempty"`
	LastMetrics          *LiveMetrics       `json:"lastMetrics,omitempty" bson:"lastMetrics,omitempty"`
	RecentActions        []ActionMetric     `json:"recentActions" bson:"recentActions"`
	Error                string             `json:"error,omitempty" bson:"error,omitempty"`
}

// IsRunning 判断是否运行中
func (r *SimulationRun) IsRunning() bool {
	return r.Status == SimulationStatusRunning
}

// ActionMetric 单次 API 调用结果
type ActionMetric struct {
	Name   string    `json:"name" bson:"name"`
	OK     bool      `json:"ok" bson:"ok"`
	Ms     float64   `json:"ms" bson:"ms"`
	Status int       `json:"status,omitempty" bson:"status,omitempty"`
	Error  string    `json:"error,omitempty" bson:"error,omitempty"`
	At     time.Time `json:"at" bson:"at"`
}

// SeedInfo 种子数据概要，seeding 完成后立即写入
type SeedInfo struct {
	SchoolYearID      string   `json:"schoolYearId" bson:"schoolYearId"`
	ClassIDs          []string `json:"classIds" bson:"classIds"`
	StudentCount      int      `json:"studentCount" bson:"studentCount"`
	AssignmentCount   int      `json:"assignmentCount" bson:"assignmentCount"`
	FirstAssignmentID string   `json:"firstAssignmentId,omitempty" bson:"firstAssignmentId,omitempty"`
	Levels            []string `json:"levels" bson:"levels"`
}

// ============================================================================
// LiveMetrics - 资源快照
// ============================================================================

// CPUUsage 相对执行开始的 CPU 增量（毫秒）
type CPUUsage struct {
	UserMs   float64 `json:"userMs" bson:"userMs"`
	SystemMs float64 `json:"systemMs" bson:"systemMs"`
}

// MemoryUsage 当前内存占用（字节）
type MemoryUsage struct {
	RSS       uint64 `json:"rss" bson:"rss"`
	HeapUsed  uint64 `json:"heapUsed" bson:"heapUsed"`
	HeapTotal uint64 `json:"heapTotal" bson:"heapTotal"`
	External  uint64 `json:"external" bson:"external"` // 非堆运行时内存（栈 + GC 元数据）
}

// LiveMetrics 周期性写入的快照（覆盖写，非追加）
type LiveMetrics struct {
	At                  time.Time   `json:"at" bson:"at"`
	Phase               string      `json:"phase" bson:"phase"` // seeding | running | finishing
	CPU                 CPUUsage    `json:"cpu" bson:"cpu"`
	Memory              MemoryUsage `json:"memory" bson:"memory"`
	Goroutines          int         `json:"goroutines" bson:"goroutines"`
	ActiveTeacherUsers  int64       `json:"activeTeacherUsers" bson:"activeTeacherUsers"`
	ActiveSubAdminUsers int64       `json:"activeSubAdminUsers" bson:"activeSubAdminUsers"`
	InFlight            int64       `json:"inFlight" bson:"inFlight"`
	SeededClasses       int         `json:"seededClasses,omitempty" bson:"seededClasses,omitempty"`
	SeededStudents      int         `json:"seededStudents,omitempty" bson:"seededStudents,omitempty"`
	SeededAssignments   int         `json:"seededAssignments,omitempty" bson:"seededAssignments,omitempty"`
}

// ============================================================================
// SimulationSummary - 汇总
// ============================================================================

// LatencyPercentiles 延迟分位数（毫秒）
type LatencyPercentiles struct {
	P50   float64 `json:"p50" bson:"p50"`
	P95   float64 `json:"p95" bson:"p95"`
	P99   float64 `json:"p99" bson:"p99"`
	Count int     `json:"count" bson:"count"`
}

// ActionBreakdown 按 action 名称聚合
type ActionBreakdown struct {
	Total  int `json:"total" bson:"total"`
	Errors int `json:"errors" bson:"errors"`
}

// ResourceDelta 执行开始到结束的资源变化
type ResourceDelta struct {
	CPUUserMs     float64 `json:"cpuUserMs" bson:"cpuUserMs"`
	CPUSystemMs   float64 `json:"cpuSystemMs" bson:"cpuSystemMs"`
	RSSDelta      int64   `json:"rssDelta" bson:"rssDelta"`
	HeapUsedDelta int64   `json:"heapUsedDelta" bson:"heapUsedDelta"`
}

// SimulationSummary 执行汇总
//
// Latency 基于持久化的最近 200 条 action（窗口近似），
// LatencyFullRun 基于全量 t-digest 估算。
type SimulationSummary struct {
	TotalActions   int                        `json:"totalActions" bson:"totalActions"`
	OKActions      int                        `json:"okActions" bson:"okActions"`
	ErrorActions   int                        `json:"errorActions" bson:"errorActions"`
	ErrorRate      float64                    `json:"errorRate" bson:"errorRate"`
	Latency        LatencyPercentiles         `json:"latency" bson:"latency"`
	LatencyFullRun LatencyPercentiles         `json:"latencyFullRun" bson:"latencyFullRun"`
	ByAction       map[string]ActionBreakdown `json:"byAction" bson:"byAction"`
	Resources      ResourceDelta              `json:"resources" bson:"resources"`
	Verdict        Verdict                    `json:"verdict" bson:"verdict"`
	DurationSec    float64                    `json:"durationSec" bson:"durationSec"`
	RecordedTotal  int64                      `json:"recordedTotal" bson:"recordedTotal"` // 全量记录数（不受 200 上限影响）
}
