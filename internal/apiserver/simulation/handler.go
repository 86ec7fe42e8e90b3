// Package simulation 负载模拟控制接口 - HTTP 处理
//
// 同一套路由在两种进程角色下行为不同：
//   - 沙箱进程（Guard 判定通过）：直接调用本进程的 Runner
//   - 主进程：执行相关路由反向代理到沙箱子进程，沙箱生命周期路由由本进程处理
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/sandbox"
	"github.com/gilkh/livret-sub003/internal/shared/cache"
	"github.com/gilkh/livret-sub003/internal/shared/model"
	sim "github.com/gilkh/livret-sub003/internal/simulation"
)

const maxRequestBody = 1 << 20

// RunController handler 需要的执行控制接口（用于测试 mock）
type RunController interface {
	Start(ctx context.Context, req sim.StartRequest, createdBy string) (*sim.RunHandle, error)
	Stop(ctx context.Context, runID string) (*model.SimulationRun, error)
	Running(ctx context.Context) (*model.SimulationRun, error)
	History(ctx context.Context) ([]*model.SimulationRun, error)
	Get(ctx context.Context, runID string) (*model.SimulationRun, error)
	Live(ctx context.Context, runID string) (*cache.LiveState, error)
}

// SandboxProcess 主进程持有的沙箱子进程
type SandboxProcess interface {
	Status() sandbox.Status
	Start(ctx context.Context) (sandbox.Status, error)
	Stop() sandbox.Status
	BaseURL() string
}

// Mode 进程角色
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeMain    Mode = "main"
)

// Handler 模拟控制 HTTP 处理器
type Handler struct {
	guard   *sandbox.Guard
	runner  RunController  // 沙箱模式下必填
	process SandboxProcess // 主模式下必填
	authCfg auth.Config
	proxy   *sandboxProxy
}

// NewHandler 创建处理器；模式在创建时由 guard 决定
func NewHandler(guard *sandbox.Guard, runner RunController, process SandboxProcess, authCfg auth.Config) *Handler {
	h := &Handler{
		guard:   guard,
		runner:  runner,
		process: process,
		authCfg: authCfg,
	}
	if process != nil {
		h.proxy = newSandboxProxy(process)
	}
	return h
}

// Mode 当前进程角色
func (h *Handler) Mode() Mode {
	if h.guard.IsSandbox() {
		return ModeSandbox
	}
	return ModeMain
}

// RegisterRoutes 注册模拟控制路由（均要求管理员）
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/simulations/start", auth.AdminOnly(h.runRoute(h.Start)))
	mux.HandleFunc("POST /api/v1/simulations/stop", auth.AdminOnly(h.runRoute(h.Stop)))
	mux.HandleFunc("GET /api/v1/simulations/status", auth.AdminOnly(h.runRoute(h.Status)))
	mux.HandleFunc("GET /api/v1/simulations/history", auth.AdminOnly(h.runRoute(h.History)))
	mux.HandleFunc("GET /api/v1/simulations/{id}", auth.AdminOnly(h.runRoute(h.Get)))

	mux.HandleFunc("GET /api/v1/simulations/sandbox/status", auth.AdminOnly(h.SandboxStatus))
	mux.HandleFunc("POST /api/v1/simulations/sandbox/start", auth.AdminOnly(h.SandboxStart))
	mux.HandleFunc("POST /api/v1/simulations/sandbox/stop", auth.AdminOnly(h.SandboxStop))
}

// RegisterWebSocket 注册实时推送（需绕过 metrics 中间件）
func (h *Handler) RegisterWebSocket(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/simulations/{id}", h.HandleWebSocket)
}

// runRoute 沙箱模式本地处理，主模式转发到沙箱子进程
func (h *Handler) runRoute(local http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Mode() == ModeSandbox && h.runner != nil {
			local(w, r)
			return
		}
		if h.proxy == nil {
			writeError(w, http.StatusForbidden, sandbox.CodeNotAllowed, "simulations are only allowed against a sandbox database", nil)
			return
		}
		h.proxy.ServeHTTP(w, r, h.guard.Diagnostics())
	}
}

// ============================================================================
// 执行控制（沙箱模式）
// ============================================================================

// Start 启动一次执行
// POST /api/v1/simulations/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req sim.StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", nil)
		return
	}

	var createdBy string
	if u := auth.GetAuthUser(r.Context()); u != nil {
		createdBy = u.ID
	}

	handle, err := h.runner.Start(r.Context(), req, createdBy)
	if err != nil {
		writeRunError(w, err)
		return
	}
	log.Printf("[simulation.start] run_id=%s teachers=%d sub_admins=%d duration=%d by=%s",
		handle.ID, req.Teachers, req.SubAdmins, req.DurationSec, createdBy)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runId": handle.ID})
}

// stopRequest POST /stop 请求体，runId 为空时停止当前执行
type stopRequest struct {
	RunID string `json:"runId"`
}

// Stop 停止执行
// POST /api/v1/simulations/stop
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", nil)
		return
	}

	run, err := h.runner.Stop(r.Context(), req.RunID)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": run})
}

// Status 当前执行与实时状态
// GET /api/v1/simulations/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	running, err := h.runner.Running(ctx)
	if err != nil {
		writeRunError(w, err)
		return
	}

	var live *cache.LiveState
	if running != nil {
		if live, err = h.runner.Live(ctx, running.ID); err != nil {
			log.Printf("[simulation.status] live state unavailable run_id=%s err=%v", running.ID, err)
		}
	}

	resp := h.diagnosticsEnvelope()
	resp["running"] = running
	resp["live"] = live
	writeJSON(w, http.StatusOK, resp)
}

// History 最近的执行记录
// GET /api/v1/simulations/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runner.History(r.Context())
	if err != nil {
		writeRunError(w, err)
		return
	}
	if runs == nil {
		runs = []*model.SimulationRun{}
	}
	resp := h.diagnosticsEnvelope()
	resp["runs"] = runs
	writeJSON(w, http.StatusOK, resp)
}

// Get 单条执行记录
// GET /api/v1/simulations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := h.runner.Get(ctx, id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	live, err := h.runner.Live(ctx, id)
	if err != nil {
		log.Printf("[simulation.get] live state unavailable run_id=%s err=%v", id, err)
	}

	resp := h.diagnosticsEnvelope()
	resp["run"] = run
	resp["live"] = live
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) diagnosticsEnvelope() map[string]any {
	d := h.guard.Diagnostics()
	return map[string]any{
		"sandbox":            d.OK,
		"sandboxDiagnostics": d,
	}
}

// ============================================================================
// 沙箱生命周期
// ============================================================================

// SandboxStatus 进程角色与子进程状态
// GET /api/v1/simulations/sandbox/status
func (h *Handler) SandboxStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"mode":               h.Mode(),
		"sandboxServer":      h.sandboxServer(),
		"sandboxDiagnostics": h.guard.Diagnostics(),
	})
}

// SandboxStart 构建并启动沙箱子进程
// POST /api/v1/simulations/sandbox/start
func (h *Handler) SandboxStart(w http.ResponseWriter, r *http.Request) {
	if h.Mode() == ModeSandbox {
		writeError(w, http.StatusBadRequest, "already_in_sandbox", "this process is already the sandbox server", nil)
		return
	}
	if h.process == nil {
		writeError(w, http.StatusNotImplemented, "sandbox_not_configured", "sandbox process manager is not configured", nil)
		return
	}

	status, err := h.process.Start(r.Context())
	if err != nil {
		log.Printf("[simulation.sandbox.start] failed err=%v", err)
		writeRunError(w, err)
		return
	}
	log.Printf("[simulation.sandbox.start] running pid=%d url=%s", status.PID, status.BaseURL)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sandboxServer": status})
}

// SandboxStop 停止沙箱子进程；沙箱进程不能停止自己
// POST /api/v1/simulations/sandbox/stop
func (h *Handler) SandboxStop(w http.ResponseWriter, r *http.Request) {
	if h.Mode() == ModeSandbox {
		writeError(w, http.StatusBadRequest, "cannot_stop_from_sandbox", "the sandbox server cannot stop itself", nil)
		return
	}
	if h.process == nil {
		writeError(w, http.StatusNotImplemented, "sandbox_not_configured", "sandbox process manager is not configured", nil)
		return
	}

	status := h.process.Stop()
	log.Printf("[simulation.sandbox.stop] state=%s", status.State)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sandboxServer": status})
}

// sandboxServer 沙箱模式下描述自身，主模式下返回子进程状态
func (h *Handler) sandboxServer() any {
	if h.Mode() == ModeSandbox {
		return map[string]any{"running": true, "self": true}
	}
	if h.process == nil {
		return nil
	}
	return h.process.Status()
}

// ============================================================================
// 响应辅助
// ============================================================================

func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	body := map[string]any{"error": code}
	if message != "" {
		body["message"] = message
	}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeRunError 错误到 HTTP 状态码的唯一映射
func writeRunError(w http.ResponseWriter, err error) {
	var sbErr *sandbox.Error
	switch {
	case errors.As(err, &sbErr):
		status := http.StatusBadGateway
		switch sbErr.Code {
		case sandbox.CodeNotAllowed:
			status = http.StatusForbidden
		case sandbox.CodeNotRunning:
			status = http.StatusConflict
		}
		writeError(w, status, sbErr.Code, sbErr.Message, sbErr.Details)
	case errors.Is(err, sim.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", err.Error(), nil)
	case errors.Is(err, sim.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, sim.ErrInvalidScenario):
		writeError(w, http.StatusBadRequest, "invalid_scenario", err.Error(), nil)
	default:
		log.Printf("[simulation] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
}
