package simulation

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/shared/cache"
	"github.com/gilkh/livret-sub003/internal/shared/model"
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（开发环境）
	},
}

const (
	livePushInterval = time.Second
	liveWriteTimeout = 10 * time.Second
	livePongWait     = 60 * time.Second
)

// LiveMessage WebSocket 推送消息
type LiveMessage struct {
	Type      string                   `json:"type"` // live | final | error
	RunID     string                   `json:"runId"`
	Status    model.SimulationStatus   `json:"status,omitempty"`
	Live      *cache.LiveState         `json:"live,omitempty"`
	Summary   *model.SimulationSummary `json:"summary,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// HandleWebSocket 每秒推送实时状态，执行离开 running 后发送 final 并关闭
//
// 路由: GET /ws/simulations/{id}?token=<access token>
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Mode() != ModeSandbox || h.runner == nil {
		body := map[string]any{}
		if h.process != nil {
			body["sandboxUrl"] = h.process.BaseURL()
		}
		writeError(w, http.StatusBadRequest, "use_sandbox_url", "live stream is served by the sandbox server", body)
		return
	}

	user, err := auth.Authenticate(h.authCfg, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token", nil)
		return
	}
	if !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin access required", nil)
		return
	}

	runID := r.PathValue("id")
	if _, err := h.runner.Get(r.Context(), runID); err != nil {
		writeRunError(w, err)
		return
	}

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[simulation.ws] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readPump(conn, cancel)

	ticker := time.NewTicker(livePushInterval)
	defer ticker.Stop()
	for {
		msg, final := h.liveMessage(ctx, runID)
		conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[simulation.ws] write error run_id=%s err=%v", runID, err)
			return
		}
		if final {
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// liveMessage 组装一帧；第二个返回值表示执行已结束
func (h *Handler) liveMessage(ctx context.Context, runID string) (LiveMessage, bool) {
	msg := LiveMessage{Type: "live", RunID: runID, Timestamp: time.Now()}

	run, err := h.runner.Get(ctx, runID)
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
		return msg, true
	}
	msg.Status = run.Status

	if !run.IsRunning() {
		msg.Type = "final"
		msg.Summary = run.Summary
		return msg, true
	}
	if live, err := h.runner.Live(ctx, runID); err == nil {
		msg.Live = live
	}
	return msg, false
}

// readPump 只处理 pong 和关闭；连接断开时取消推送
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[simulation.ws] read error: %v", err)
			}
			return
		}
	}
}
