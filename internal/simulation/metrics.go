package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// ============================================================================
// timed - 单次调用计时
// ============================================================================

// timed 执行 call 并生成 ActionMetric
//
// 只有 2xx 算成功；传输层错误记为 ok=false, status=0，错误信息写入 metric，不向上抛出。
func timed(ctx context.Context, name string, call func(context.Context) (*Response, error)) (model.ActionMetric, []byte) {
	start := time.Now()
	resp, err := call(ctx)
	m := model.ActionMetric{
		Name: name,
		Ms:   float64(time.Since(start).Microseconds()) / 1000,
		At:   start,
	}
	if err != nil {
		m.Error = err.Error()
		if resp != nil {
			m.Status = resp.Status
		}
		return m, nil
	}
	m.Status = resp.Status
	m.OK = resp.Status >= 200 && resp.Status < 300
	if !m.OK {
		m.Error = errorBody(resp)
	}
	return m, resp.Body
}

func errorBody(resp *Response) string {
	const limit = 200
	body := string(resp.Body)
	if len(body) > limit {
		body = body[:limit]
	}
	return body
}

// ============================================================================
// ring - 固定容量环形缓冲
// ============================================================================

// ring 保留最近 cap 条 action，按到达顺序输出
type ring struct {
	mu    sync.Mutex
	buf   []model.ActionMetric
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = model.RecentActionsLimit
	}
	return &ring{buf: make([]model.ActionMetric, capacity)}
}

func (r *ring) push(m model.ActionMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = m
		r.size++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) snapshot() []model.ActionMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActionMetric, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// ============================================================================
// Metrics - Prometheus 指标
// ============================================================================

// Metrics 模拟相关的 Prometheus 指标
type Metrics struct {
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	RunsTotal      *prometheus.CounterVec
	ActiveActors   *prometheus.GaugeVec
	InFlight       prometheus.Gauge
}

// NewMetrics 创建指标；reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livret",
				Subsystem: "simulation",
				Name:      "actions_total",
				Help:      "Simulated API calls by action name and outcome",
			},
			[]string{"action", "ok"},
		),
		ActionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "livret",
				Subsystem: "simulation",
				Name:      "action_duration_seconds",
				Help:      "Simulated API call latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
			},
			[]string{"action"},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livret",
				Subsystem: "simulation",
				Name:      "runs_total",
				Help:      "Finished simulation runs by terminal status",
			},
			[]string{"status"},
		),
		ActiveActors: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "livret",
				Subsystem: "simulation",
				Name:      "active_actors",
				Help:      "Virtual actors whose loop is still running",
			},
			[]string{"role"},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "livret",
				Subsystem: "simulation",
				Name:      "in_flight_calls",
				Help:      "Simulated API calls currently in progress",
			},
		),
	}
}

// ============================================================================
// Recorder - 单次执行的 action 记录
// ============================================================================

// fullRunStats 全量统计（不受 200 条上限影响）
type fullRunStats struct {
	Total    int
	Errors   int
	ByAction map[string]model.ActionBreakdown
	Latency  model.LatencyPercentiles
}

// Recorder 记录一次执行的全部 action
//
// 每条 action 同时进入本地环形缓冲、全量 t-digest 和持久化的 recentActions。
type Recorder struct {
	runID   string
	store   storage.SimulationStore
	limit   int
	metrics *Metrics
	logger  *logging.Logger

	recent   *ring
	recorded atomic.Int64

	mu       sync.Mutex
	digest   *tdigest.TDigest
	errors   int
	byAction map[string]model.ActionBreakdown
}

func newRecorder(runID string, store storage.SimulationStore, limit int, metrics *Metrics, logger *logging.Logger) *Recorder {
	if limit <= 0 {
		limit = model.RecentActionsLimit
	}
	return &Recorder{
		runID:    runID,
		store:    store,
		limit:    limit,
		metrics:  metrics,
		logger:   logger,
		recent:   newRing(limit),
		digest:   tdigest.NewWithCompression(100),
		byAction: make(map[string]model.ActionBreakdown),
	}
}

// Record 记录一条 action；持久化失败只写日志
func (r *Recorder) Record(ctx context.Context, m model.ActionMetric) {
	r.recent.push(m)

	r.mu.Lock()
	r.recorded.Add(1)
	r.digest.Add(m.Ms, 1)
	b := r.byAction[m.Name]
	b.Total++
	if !m.OK {
		b.Errors++
		r.errors++
	}
	r.byAction[m.Name] = b
	r.mu.Unlock()

	if r.metrics != nil {
		ok := "true"
		if !m.OK {
			ok = "false"
		}
		r.metrics.ActionsTotal.WithLabelValues(m.Name, ok).Inc()
		r.metrics.ActionDuration.WithLabelValues(m.Name).Observe(m.Ms / 1000)
	}
	r.logger.ActionLog(m.Name, m.OK, m.Status, m.Ms, m.Error)

	if err := r.store.PushSimulationAction(ctx, r.runID, m, r.limit); err != nil {
		r.logger.WithError(err).Debug("Persist action failed", "action", m.Name)
	}
}

// Recent 本地环形缓冲快照
func (r *Recorder) Recent() []model.ActionMetric {
	return r.recent.snapshot()
}

// Recorded 累计记录数
func (r *Recorder) Recorded() int64 {
	return r.recorded.Load()
}

func (r *Recorder) fullRun() fullRunStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byAction := make(map[string]model.ActionBreakdown, len(r.byAction))
	for k, v := range r.byAction {
		byAction[k] = v
	}
	total := int(r.recorded.Load())
	stats := fullRunStats{Total: total, Errors: r.errors, ByAction: byAction}
	if total > 0 {
		stats.Latency = model.LatencyPercentiles{
			P50:   round2(r.digest.Quantile(0.50)),
			P95:   round2(r.digest.Quantile(0.95)),
			P99:   round2(r.digest.Quantile(0.99)),
			Count: total,
		}
	}
	return stats
}
