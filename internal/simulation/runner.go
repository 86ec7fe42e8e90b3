// Package simulation 负载模拟：虚拟用户、种子数据、指标采集和执行编排
//
// 一次执行（Run）的生命周期：
//
//	Start → 创建记录 → 创建虚拟用户 → 种子数据 → 并发执行 actor loop + 采样 + 回读
//	     → 时长到期或全部 loop 结束 → 汇总 → completed
//
// 任一步骤出错时记录标记为 failed；无论结果如何，临时用户和内存状态都会被清理。
// 同一个 Runner 同时只允许一个 running 执行。
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/config"
	"github.com/gilkh/livret-sub003/internal/shared/cache"
	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

var (
	ErrAlreadyRunning  = errors.New("already_running")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidScenario = errors.New("invalid_scenario")
)

const (
	minThinkTimeMs   = 50
	maxThinkTimeMs   = 10000
	maxRampUpPerSec  = 10000
	cleanupTimeout   = 2 * time.Minute
	staleRunErrorMsg = "interrupted: server restarted before the run finished"
)

// Guard 启动前的沙箱校验
type Guard interface {
	AssertSandbox() error
}

// ============================================================================
// StartRequest
// ============================================================================

// StartRequest 启动参数（POST /simulations/start 的 body）
type StartRequest struct {
	Teachers          int              `json:"teachers"`
	SubAdmins         int              `json:"subAdmins"`
	DurationSec       int              `json:"durationSec"`
	ThinkTimeMs       int              `json:"thinkTimeMs,omitempty"`
	RampUpUsersPerSec float64          `json:"rampUpUsersPerSec,omitempty"`
	Scenario          string           `json:"scenario,omitempty"`
	Template          *TemplateRequest `json:"template,omitempty"`
	CleanupSeededData bool             `json:"cleanupSeededData,omitempty"`
}

// Clamp 把参数限制在允许范围内
func (r StartRequest) Clamp() StartRequest {
	r.Teachers = min(max(r.Teachers, 0), model.MaxSimulationTeachers)
	r.SubAdmins = min(max(r.SubAdmins, 0), model.MaxSimulationSubAdmins)
	r.DurationSec = min(max(r.DurationSec, model.MinSimulationDuration), model.MaxSimulationDuration)
	if r.ThinkTimeMs > 0 {
		r.ThinkTimeMs = min(max(r.ThinkTimeMs, minThinkTimeMs), maxThinkTimeMs)
	} else {
		r.ThinkTimeMs = 0
	}
	r.RampUpUsersPerSec = min(max(r.RampUpUsersPerSec, 0), maxRampUpPerSec)
	return r
}

// ============================================================================
// Options / Runner
// ============================================================================

// Options Runner 依赖与参数
type Options struct {
	Store           storage.PersistentStore
	Guard           Guard
	Cache           cache.LiveStateCache // nil 时不镜像
	Auth            auth.Config
	ActorTokenTTL   time.Duration
	TargetURL       string // 业务 API 根地址，如 http://localhost:8091/api
	Marker          string
	ActorTimeout    time.Duration
	SampleInterval  time.Duration
	CollectInterval time.Duration
	HistoryLimit    int
	RecentActionCap int
	Registerer      prometheus.Registerer
	Logger          *logging.Logger
}

// OptionsFromConfig 从应用配置填充参数（Store/Guard/Cache 由调用方注入）
func OptionsFromConfig(cfg *config.Config) Options {
	s := cfg.Simulation
	return Options{
		Auth:            auth.Config{JWTSecret: cfg.Auth.JWTSecret, AccessTokenTTL: cfg.AccessTokenTTL},
		ActorTokenTTL:   s.ActorTokenTTL,
		TargetURL:       s.TargetURL,
		Marker:          s.Marker,
		ActorTimeout:    s.ActorTimeout,
		SampleInterval:  s.SampleInterval,
		CollectInterval: s.CollectInterval,
		HistoryLimit:    s.HistoryLimit,
		RecentActionCap: s.RecentActionCap,
	}
}

func (o *Options) setDefaults() {
	if o.ActorTimeout <= 0 {
		o.ActorTimeout = 15 * time.Second
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = time.Second
	}
	if o.CollectInterval <= 0 {
		o.CollectInterval = 750 * time.Millisecond
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 25
	}
	if o.RecentActionCap <= 0 {
		o.RecentActionCap = model.RecentActionsLimit
	}
	if o.Marker == "" {
		o.Marker = "sandbox"
	}
	if o.Cache == nil {
		o.Cache = cache.NewNoOpCache()
	}
	if o.Logger == nil {
		o.Logger = logging.Default("simulation")
	}
}

// RunHandle Start 返回的执行句柄
type RunHandle struct {
	ID   string
	done <-chan struct{}
}

// Done 执行结束（包括清理）后关闭
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Runner 执行编排器
type Runner struct {
	opts    Options
	store   storage.PersistentStore
	guard   Guard
	cache   cache.LiveStateCache
	factory *ActorFactory
	seeder  *Seeder
	client  *Client
	metrics *Metrics
	usage   *resourceSampler
	logger  *logging.Logger

	startMu sync.Mutex // 串行化 "检查 running + 创建记录"

	mu   sync.RWMutex
	live map[string]*liveRun

	wg      sync.WaitGroup
	baseCtx context.Context // 业务调用使用，只在 Shutdown 超时时取消
	cancel  context.CancelFunc
}

// NewRunner 创建 Runner
func NewRunner(opts Options) *Runner {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:    opts,
		store:   opts.Store,
		guard:   opts.Guard,
		cache:   opts.Cache,
		factory: NewActorFactory(opts.Store, opts.Auth, opts.ActorTokenTTL),
		seeder:  NewSeeder(opts.Store, nil),
		client:  NewClient(opts.TargetURL, opts.ActorTimeout),
		metrics: NewMetrics(opts.Registerer),
		usage:   newResourceSampler(),
		logger:  opts.Logger,
		live:    make(map[string]*liveRun),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// ============================================================================
// Start
// ============================================================================

// Start 校验并启动一次执行，立即返回；执行在后台 goroutine 中进行
func (r *Runner) Start(ctx context.Context, req StartRequest, createdBy string) (*RunHandle, error) {
	if r.guard == nil {
		return nil, errors.New("simulation guard not configured")
	}
	if err := r.guard.AssertSandbox(); err != nil {
		return nil, err
	}
	scenario, err := ParseScenario(req.Scenario)
	if err != nil {
		return nil, err
	}
	req = req.Clamp()

	r.startMu.Lock()
	defer r.startMu.Unlock()

	if id := r.anyLive(); id != "" {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	running, err := r.store.GetRunningSimulationRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("check running simulation: %w", err)
	}
	if running != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, running.ID)
	}

	now := time.Now()
	run := &model.SimulationRun{
		ID:                   uuid.NewString(),
		Status:               model.SimulationStatusRunning,
		Scenario:             string(scenario),
		StartedAt:            now,
		RequestedDurationSec: req.DurationSec,
		Teachers:             req.Teachers,
		SubAdmins:            req.SubAdmins,
		ThinkTimeMs:          req.ThinkTimeMs,
		RampUpUsersPerSec:    req.RampUpUsersPerSec,
		CleanupSeededData:    req.CleanupSeededData,
		Sandbox:              true,
		SandboxMarker:        r.opts.Marker,
		CreatedBy:            createdBy,
		RecentActions:        []model.ActionMetric{},
	}
	if err := r.store.CreateSimulationRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create simulation run: %w", err)
	}

	logger := r.logger.WithRunID(run.ID)
	rec := newRecorder(run.ID, r.store, r.opts.RecentActionCap, r.metrics, logger)
	lr := newLiveRun(run.ID, now, time.Duration(req.DurationSec)*time.Second, rec)

	r.mu.Lock()
	r.live[run.ID] = lr
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(run, lr, req, scenario, logger)

	logger.SimulationLog("started", run.ID,
		"teachers", req.Teachers, "sub_admins", req.SubAdmins,
		"duration_sec", req.DurationSec, "scenario", string(scenario))
	return &RunHandle{ID: run.ID, done: lr.done}, nil
}

// execute 后台执行；所有退出路径都会清理
func (r *Runner) execute(run *model.SimulationRun, lr *liveRun, req StartRequest, scenario Scenario, logger *logging.Logger) {
	defer r.wg.Done()
	defer close(lr.done)

	var actorIDs []string
	defer func() {
		r.cleanup(run.ID, lr, actorIDs, req.CleanupSeededData, logger)
	}()
	defer func() {
		if p := recover(); p != nil {
			r.fail(run.ID, fmt.Errorf("panic: %v", p), logger)
		}
	}()

	if err := r.drive(r.baseCtx, run, lr, req, scenario, &actorIDs, logger); err != nil {
		r.fail(run.ID, err, logger)
	}
}

// drive 执行主体，返回的错误会把记录标记为 failed
func (r *Runner) drive(ctx context.Context, run *model.SimulationRun, lr *liveRun, req StartRequest, scenario Scenario, actorIDs *[]string, logger *logging.Logger) error {
	base := r.usage.sample()

	// 1. 虚拟用户：先教师后副管理员
	teachers, err := r.createActors(ctx, run.ID, model.UserRoleTeacher, req.Teachers, lr, actorIDs)
	if err != nil {
		return err
	}
	subAdmins, err := r.createActors(ctx, run.ID, model.UserRoleSubAdmin, req.SubAdmins, lr, actorIDs)
	if err != nil {
		return err
	}
	if lr.stopRequested() {
		logger.SimulationLog("stopped_before_launch", run.ID)
		return nil
	}

	// 2. 临时模板
	var templateID string
	if req.Template.Enabled() {
		tpl := newRunTemplate(run.ID, req.Template)
		if err := r.store.CreateGradebookTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("create gradebook template: %w", err)
		}
		if err := r.store.SetSimulationTemplate(ctx, run.ID, tpl.ID, tpl.Name); err != nil {
			return fmt.Errorf("record gradebook template: %w", err)
		}
		templateID = tpl.ID
	}

	// 3. 种子数据，立即写入概要
	seed, err := r.seeder.Seed(ctx, SeedConfig{
		RunID:        run.ID,
		TemplateID:   templateID,
		TeacherCount: len(teachers),
	}, actorIDsOf(teachers), actorIDsOf(subAdmins))
	if err != nil {
		return fmt.Errorf("seed data: %w", err)
	}
	if err := r.store.SetSimulationSeed(ctx, run.ID, seed.Info()); err != nil {
		return fmt.Errorf("record seed: %w", err)
	}
	seeded := r.usage.sample().liveMetrics(base, "seeding")
	seeded.SeededClasses = len(seed.ClassIDs)
	seeded.SeededStudents = len(seed.StudentIDs)
	seeded.SeededAssignments = len(seed.AssignmentIDs)
	lr.setLastMetrics(seeded)
	if err := r.store.SetSimulationLastMetrics(ctx, run.ID, seeded); err != nil {
		return fmt.Errorf("record seed metrics: %w", err)
	}
	logger.SimulationLog("seeded", run.ID, "classes", len(seed.ClassIDs), "students", len(seed.StudentIDs), "assignments", len(seed.AssignmentIDs))

	// 4. 并发：actor loops + 采样 + 回读
	loopsDone := r.launchLoops(ctx, lr, scenario, req, seed, teachers, subAdmins, logger)

	var background errgroup.Group
	background.Go(func() error {
		r.sampleLoop(ctx, lr, base)
		return nil
	})
	background.Go(func() error {
		r.collectLoop(ctx, lr)
		return nil
	})

	// 5. 全部 loop 结束 / 时长到期 / 外部停止，三者取先
	timer := time.NewTimer(time.Until(lr.deadline))
	defer timer.Stop()
	select {
	case <-loopsDone:
	case <-timer.C:
	case <-lr.stopCtx.Done():
	}

	// 6. 通知停止，等待采样与回读退出
	lr.requestStop()
	_ = background.Wait()

	// 7. 汇总
	window, err := r.store.GetSimulationRecentActions(ctx, run.ID)
	if err != nil {
		logger.WithError(err).Warn("Reread recent actions failed, using collected copy")
		window = lr.collectedActions()
	}
	end := r.usage.sample()
	summary := buildSummary(window, lr.recorder.fullRun(), base, end)

	final := end.liveMetrics(base, "finishing")
	lr.setLastMetrics(final)
	if err := r.store.SetSimulationLastMetrics(ctx, run.ID, final); err != nil {
		logger.WithError(err).Warn("Persist final metrics failed")
	}

	// 8. 写入汇总；已被 stop 的记录只附加汇总
	if err := r.store.SetSimulationSummary(ctx, run.ID, summary); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}
	finished, err := r.store.FinishSimulationRun(ctx, run.ID, model.SimulationStatusCompleted, time.Now(), "")
	if err != nil {
		return fmt.Errorf("finish simulation run: %w", err)
	}
	if finished {
		r.metrics.RunsTotal.WithLabelValues(string(model.SimulationStatusCompleted)).Inc()
	}
	logger.SimulationLog("completed", run.ID,
		"total_actions", summary.TotalActions,
		"error_rate", summary.ErrorRate,
		"verdict", string(summary.Verdict),
		"status_changed", finished)
	return nil
}

// createActors 创建 n 个 role 用户；创建出的 id 立刻登记到 actorIDs
func (r *Runner) createActors(ctx context.Context, runID string, role model.UserRole, n int, lr *liveRun, actorIDs *[]string) ([]*Actor, error) {
	actors := make([]*Actor, 0, n)
	for i := 0; i < n; i++ {
		if lr.stopRequested() {
			break
		}
		a, err := r.factory.CreateActor(ctx, runID, role)
		if a != nil {
			*actorIDs = append(*actorIDs, a.ID)
		}
		if err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, nil
}

// launchLoops 为每个虚拟用户启动一个 loop，返回全部结束时关闭的 channel
func (r *Runner) launchLoops(ctx context.Context, lr *liveRun, scenario Scenario, req StartRequest, seed *SeedResult, teachers, subAdmins []*Actor, logger *logging.Logger) <-chan struct{} {
	var limiter *rate.Limiter
	if req.RampUpUsersPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(req.RampUpUsersPerSec), 1)
	}
	var scale float64
	if req.ThinkTimeMs > 0 {
		scale = float64(req.ThinkTimeMs) / 600
	}

	var loops errgroup.Group
	seedBase := uint64(time.Now().UnixNano())
	for i, a := range append(append([]*Actor{}, teachers...), subAdmins...) {
		counter := &lr.activeTeachers
		if a.Role == model.UserRoleSubAdmin {
			counter = &lr.activeSubAdmins
		}
		loop := &actorLoop{
			actor:    a,
			behavior: scenario.behaviorFor(a.Role),
			live:     lr,
			client:   r.client,
			recorder: lr.recorder,
			seed:     seed,
			rng:      rand.New(rand.NewPCG(seedBase, uint64(i))),
			scale:    scale,
			logger:   logger.WithActor(string(a.Role), a.ID),
		}
		loops.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(lr.stopCtx); err != nil {
					return nil
				}
			}
			// 通过限速后才计入活跃用户
			counter.Add(1)
			defer counter.Add(-1)
			loop.run(ctx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = loops.Wait()
		close(done)
	}()
	return done
}

// sampleLoop 每 SampleInterval 覆盖写 lastMetrics，并刷新实时状态镜像
func (r *Runner) sampleLoop(ctx context.Context, lr *liveRun, base resourceSample) {
	ticker := time.NewTicker(r.opts.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lr.stopCtx.Done():
			return
		case <-ticker.C:
		}

		m := r.usage.sample().liveMetrics(base, "running")
		lr.setLastMetrics(m)
		if err := r.store.SetSimulationLastMetrics(ctx, lr.runID, m); err != nil {
			r.logger.WithRunID(lr.runID).WithError(err).Debug("Persist last metrics failed")
		}
		r.metrics.ActiveActors.WithLabelValues("teacher").Set(float64(m.ActiveTeacherUsers))
		r.metrics.ActiveActors.WithLabelValues("subadmin").Set(float64(m.ActiveSubAdminUsers))
		r.metrics.InFlight.Set(float64(m.InFlight))
		if err := r.cache.SetLiveState(ctx, lr.snapshot()); err != nil {
			r.logger.WithRunID(lr.runID).WithError(err).Debug("Mirror live state failed")
		}
	}
}

// collectLoop 每 CollectInterval 回读持久化的 recentActions
func (r *Runner) collectLoop(ctx context.Context, lr *liveRun) {
	ticker := time.NewTicker(r.opts.CollectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lr.stopCtx.Done():
			return
		case <-ticker.C:
		}

		actions, err := r.store.GetSimulationRecentActions(ctx, lr.runID)
		if err != nil {
			r.logger.WithRunID(lr.runID).WithError(err).Debug("Reread recent actions failed")
			continue
		}
		lr.setCollected(actions)
	}
}

// fail 把仍在 running 的记录标记为 failed
func (r *Runner) fail(runID string, cause error, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	finished, err := r.store.FinishSimulationRun(ctx, runID, model.SimulationStatusFailed, time.Now(), cause.Error())
	if err != nil {
		logger.WithError(err).Error("Mark simulation failed failed", "cause", cause.Error())
		return
	}
	if finished {
		r.metrics.RunsTotal.WithLabelValues(string(model.SimulationStatusFailed)).Inc()
	}
	logger.WithError(cause).Error("Simulation failed", "status_changed", finished)
}

// cleanup 删除临时用户、可选清理种子数据、移除实时状态
func (r *Runner) cleanup(runID string, lr *liveRun, actorIDs []string, cleanupSeed bool, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	lr.requestStop()

	if n, err := r.factory.DeleteActors(ctx, actorIDs); err != nil {
		logger.WithError(err).Error("Delete simulation actors failed", "count", len(actorIDs))
	} else {
		logger.Info("Simulation actors deleted", "deleted", n)
	}
	if left, err := r.store.CountSimulationUsers(ctx, runID); err != nil {
		logger.WithError(err).Warn("Count leftover simulation users failed")
	} else if left > 0 {
		logger.Error("Simulation users survived cleanup", "count", left)
	}

	if cleanupSeed {
		if n, err := r.seeder.Cleanup(ctx, runID); err != nil {
			logger.WithError(err).Error("Delete seeded data failed")
		} else {
			logger.Info("Seeded data deleted", "deleted", n)
		}
	}

	r.mu.Lock()
	delete(r.live, runID)
	r.mu.Unlock()

	if err := r.cache.DeleteLiveState(ctx, runID); err != nil {
		logger.WithError(err).Debug("Delete live state mirror failed")
	}
	r.metrics.ActiveActors.WithLabelValues("teacher").Set(0)
	r.metrics.ActiveActors.WithLabelValues("subadmin").Set(0)
	r.metrics.InFlight.Set(0)
}

// ============================================================================
// 查询与控制
// ============================================================================

// Stop 请求停止；runID 为空时停止当前 running 执行
//
// 终止状态的记录保持不变（endedAt 不会被覆盖）。
func (r *Runner) Stop(ctx context.Context, runID string) (*model.SimulationRun, error) {
	if runID == "" {
		running, err := r.store.GetRunningSimulationRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("get running simulation: %w", err)
		}
		switch {
		case running != nil:
			runID = running.ID
		case r.anyLive() != "":
			runID = r.anyLive()
		default:
			return nil, ErrNotFound
		}
	}

	run, err := r.store.GetSimulationRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get simulation run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	if lr := r.lookup(runID); lr != nil {
		lr.requestStop()
	}
	if !run.IsRunning() {
		return run, nil
	}

	finished, err := r.store.FinishSimulationRun(ctx, runID, model.SimulationStatusStopped, time.Now(), "")
	if err != nil {
		return nil, fmt.Errorf("stop simulation run: %w", err)
	}
	if finished {
		r.metrics.RunsTotal.WithLabelValues(string(model.SimulationStatusStopped)).Inc()
		r.logger.SimulationLog("stopped", runID)
	}
	return r.store.GetSimulationRun(ctx, runID)
}

// Live 实时状态：本实例持有时直接读取，否则读镜像；都没有时返回 nil
func (r *Runner) Live(ctx context.Context, runID string) (*cache.LiveState, error) {
	if lr := r.lookup(runID); lr != nil {
		return lr.snapshot(), nil
	}
	return r.cache.GetLiveState(ctx, runID)
}

// Running 当前 running 记录，没有时返回 nil
func (r *Runner) Running(ctx context.Context) (*model.SimulationRun, error) {
	return r.store.GetRunningSimulationRun(ctx)
}

// History 最近的执行记录
func (r *Runner) History(ctx context.Context) ([]*model.SimulationRun, error) {
	return r.store.ListSimulationRuns(ctx, r.opts.HistoryLimit)
}

// Get 单条执行记录
func (r *Runner) Get(ctx context.Context, runID string) (*model.SimulationRun, error) {
	run, err := r.store.GetSimulationRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run, nil
}

// RecoverStale 进程启动时把上一个进程遗留的 running 记录标记为 failed
func (r *Runner) RecoverStale(ctx context.Context) (int64, error) {
	if r.anyLive() != "" {
		return 0, nil
	}
	n, err := r.store.FailStaleSimulationRuns(ctx, staleRunErrorMsg, time.Now())
	if err != nil {
		return 0, fmt.Errorf("recover stale simulation runs: %w", err)
	}
	if n > 0 {
		r.logger.Warn("Recovered stale simulation runs", "count", n)
	}
	return n, nil
}

// Shutdown 停止全部执行并等待清理完成；ctx 到期时取消进行中的业务调用
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if _, err := r.Stop(ctx, id); err != nil {
			r.logger.WithRunID(id).WithError(err).Warn("Stop on shutdown failed")
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		// 中断进行中的业务调用，不再等待清理
		r.cancel()
		err = ctx.Err()
	}
	r.client.Close()
	return err
}

func (r *Runner) lookup(runID string) *liveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live[runID]
}

func (r *Runner) anyLive() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.live {
		return id
	}
	return ""
}

func actorIDsOf(actors []*Actor) []string {
	ids := make([]string, len(actors))
	for i, a := range actors {
		ids[i] = a.ID
	}
	return ids
}
