package server

import (
	"net"
	"net/http"
	"time"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// 模拟执行 (管理员):
//   - POST /api/v1/simulations/start   - 启动执行
//   - POST /api/v1/simulations/stop    - 停止执行
//   - GET  /api/v1/simulations/status  - 当前执行与实时状态
//   - GET  /api/v1/simulations/history - 最近 25 条记录
//   - GET  /api/v1/simulations/{id}    - 执行详情
//
// 沙箱进程 (管理员):
//   - GET  /api/v1/simulations/sandbox/status
//   - POST /api/v1/simulations/sandbox/start
//   - POST /api/v1/simulations/sandbox/stop
//
// WebSocket:
//   - GET /ws/simulations/{id}?token= - 实时状态推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler(h.gatherer))

	// 模拟控制接口
	h.sim.RegisterRoutes(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authCfg)(mux)

	// 指标中间件在认证之外，被拒绝的请求同样计数
	apiHandler := h.metrics.MetricsMiddleware(authedHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(apiHandler)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	h.sim.RegisterWebSocket(topMux)
	topMux.Handle("/", h.requestLog(corsHandler))

	return topMux
}

// requestLog 记录每个请求；/health 和 /metrics 只在 debug 级别可见
func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			h.logger.Debug("Health check", "path", r.URL.Path, "status", wrapped.statusCode)
			return
		}
		h.logger.HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), clientIP(r))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
