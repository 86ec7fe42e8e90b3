package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/cache"
	"github.com/gilkh/livret-sub003/internal/shared/model"
)

// liveRun 一次执行的内存实时状态
//
// 执行开始时创建，终止时从 Runner 中移除；goroutine 之间共享，
// 计数器用 atomic，其余字段由 mu 保护。
type liveRun struct {
	runID     string
	startedAt time.Time
	deadline  time.Time
	recorder  *Recorder

	// stopCtx 在请求停止时取消，只用于等待（think time、ramp-up、采样周期），
	// 不传给业务 API 调用
	stopCtx  context.Context
	stop     context.CancelFunc
	stopFlag atomic.Bool

	activeTeachers  atomic.Int64
	activeSubAdmins atomic.Int64
	inFlight        atomic.Int64

	mu          sync.Mutex
	lastMetrics *model.LiveMetrics
	collected   []model.ActionMetric

	done chan struct{}
}

func newLiveRun(runID string, startedAt time.Time, duration time.Duration, recorder *Recorder) *liveRun {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveRun{
		runID:     runID,
		startedAt: startedAt,
		deadline:  startedAt.Add(duration),
		recorder:  recorder,
		stopCtx:   ctx,
		stop:      cancel,
		done:      make(chan struct{}),
	}
}

// requestStop 设置协作式停止标志，重复调用无副作用
func (l *liveRun) requestStop() {
	l.stopFlag.Store(true)
	l.stop()
}

func (l *liveRun) stopRequested() bool {
	return l.stopFlag.Load()
}

// sleep 等待 d；期间请求停止则提前返回 false
func (l *liveRun) sleep(d time.Duration) bool {
	if d <= 0 {
		return !l.stopRequested()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !l.stopRequested()
	case <-l.stopCtx.Done():
		return false
	}
}

func (l *liveRun) setLastMetrics(m *model.LiveMetrics) {
	m.ActiveTeacherUsers = l.activeTeachers.Load()
	m.ActiveSubAdminUsers = l.activeSubAdmins.Load()
	m.InFlight = l.inFlight.Load()

	l.mu.Lock()
	l.lastMetrics = m
	l.mu.Unlock()
}

func (l *liveRun) setCollected(actions []model.ActionMetric) {
	l.mu.Lock()
	l.collected = actions
	l.mu.Unlock()
}

func (l *liveRun) collectedActions() []model.ActionMetric {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ActionMetric(nil), l.collected...)
}

// snapshot 对外可见的实时状态
func (l *liveRun) snapshot() *cache.LiveState {
	l.mu.Lock()
	var last *model.LiveMetrics
	if l.lastMetrics != nil {
		c := *l.lastMetrics
		last = &c
	}
	l.mu.Unlock()

	return &cache.LiveState{
		RunID:               l.runID,
		StartedAt:           l.startedAt,
		StopRequested:       l.stopRequested(),
		ActiveTeacherUsers:  l.activeTeachers.Load(),
		ActiveSubAdminUsers: l.activeSubAdmins.Load(),
		InFlight:            l.inFlight.Load(),
		RecordedTotal:       l.recorder.Recorded(),
		LastMetrics:         last,
		RecentActions:       l.recorder.Recent(),
		UpdatedAt:           time.Now(),
	}
}
