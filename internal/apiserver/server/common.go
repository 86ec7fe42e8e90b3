// Package server 路由配置与核心基础设施
//
// 文件组织：
//   - common.go: Handler 定义、健康检查、响应工具
//   - handler.go: 路由与中间件
//   - metrics.go: Prometheus 指标
//
// 模拟控制接口本身在 internal/apiserver/simulation。
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	simapi "github.com/gilkh/livret-sub003/internal/apiserver/simulation"
	"github.com/gilkh/livret-sub003/internal/sandbox"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// Deps Handler 依赖
//
// Runner 只在沙箱进程中注入，Process 只在主进程中注入。
type Deps struct {
	Guard      *sandbox.Guard
	Runner     simapi.RunController
	Process    simapi.SandboxProcess
	Auth       auth.Config
	Registerer prometheus.Registerer // nil 时使用默认注册表
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到模拟控制处理器
//   - 健康检查与指标导出
type Handler struct {
	guard    *sandbox.Guard
	authCfg  auth.Config
	sim      *simapi.Handler
	metrics  *Metrics
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(d Deps) *Handler {
	reg := d.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Default("api")
	}
	return &Handler{
		guard:    d.Guard,
		authCfg:  d.Auth,
		sim:      simapi.NewHandler(d.Guard, d.Runner, d.Process, d.Auth),
		metrics:  NewMetrics("livret", reg),
		gatherer: gatherer,
		logger:   logger,
	}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 沙箱进程管理器用它判断子进程是否就绪。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   h.sim.Mode(),
	})
}
