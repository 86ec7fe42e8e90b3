package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gilkh/livret-sub003/internal/config"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// State 沙箱子进程状态
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// outputLimit 构建输出截断长度
const outputLimit = 4 * 1024

// Options 沙箱子进程参数
type Options struct {
	Port                 string
	BaseURL              string // 健康检查与代理使用的地址
	MongoURI             string
	DBName               string
	Marker               string
	Binary               string
	BuildCommand         []string // 为空时跳过构建
	WorkDir              string
	HealthInterval       time.Duration
	HealthRequestTimeout time.Duration
	HealthDeadline       time.Duration
	StopGrace            time.Duration
}

// OptionsFromConfig 从应用配置生成沙箱参数
func OptionsFromConfig(cfg *config.Config) Options {
	sb := cfg.Sandbox
	return Options{
		Port:                 sb.Port,
		BaseURL:              cfg.SandboxBaseURL(),
		MongoURI:             sb.MongoURI,
		DBName:               sb.DBName,
		Marker:               cfg.Simulation.Marker,
		Binary:               sb.Binary,
		BuildCommand:         sb.BuildCommand,
		WorkDir:              sb.WorkDir,
		HealthInterval:       sb.HealthInterval,
		HealthRequestTimeout: sb.HealthRequestTimeout,
		HealthDeadline:       sb.HealthDeadline,
		StopGrace:            sb.StopGrace,
	}
}

func (o *Options) setDefaults() {
	if o.HealthInterval <= 0 {
		o.HealthInterval = 750 * time.Millisecond
	}
	if o.HealthRequestTimeout <= 0 {
		o.HealthRequestTimeout = 1500 * time.Millisecond
	}
	if o.HealthDeadline <= 0 {
		o.HealthDeadline = 30 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.Marker == "" {
		o.Marker = DefaultMarker
	}
}

// Status 沙箱子进程状态快照
type Status struct {
	Running   bool       `json:"running"`
	State     State      `json:"state"`
	PID       int        `json:"pid,omitempty"`
	Port      string     `json:"port"`
	BaseURL   string     `json:"baseUrl"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Manager 管理唯一的沙箱子进程
//
// 状态机：stopped → starting → running → stopped（崩溃时 running → stopped）。
// 启动失败时记录 lastError 并复位句柄，之后可以重新 Start。
// starting 期间调用 Stop 会取消构建/健康检查，并等待该次 Start 退出后才回到 stopped，
// 因此任意时刻最多只有一个子进程。
type Manager struct {
	opts   Options
	logger *logging.Logger
	client *http.Client
	up     prometheus.Gauge

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	done      chan struct{} // 子进程退出时关闭
	startedAt time.Time
	lastError string

	// 每次 Start 和 Stop 递增；进行中的 Start 发现代数变化即放弃
	gen         uint64
	cancelStart context.CancelFunc
	unwound     chan struct{} // 进行中的 Start 返回后关闭
}

// NewManager 创建 Manager；reg 为 nil 时指标不注册
func NewManager(opts Options, reg prometheus.Registerer) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:   opts,
		logger: logging.Default("sandbox"),
		client: &http.Client{Timeout: opts.HealthRequestTimeout},
		up: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "livret",
			Name:      "sandbox_process_up",
			Help:      "Whether the sandbox api-server child process is running",
		}),
		state: StateStopped,
	}
}

// BaseURL 沙箱子进程地址
func (m *Manager) BaseURL() string {
	return m.opts.BaseURL
}

// Status 当前状态（不阻塞）
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	s := Status{
		Running:   m.state == StateRunning && m.cmd != nil,
		State:     m.state,
		Port:      m.opts.Port,
		BaseURL:   m.opts.BaseURL,
		LastError: m.lastError,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
	}
	if !m.startedAt.IsZero() && s.Running {
		t := m.startedAt
		s.StartedAt = &t
	}
	return s
}

// Start 构建并启动沙箱子进程，直到健康检查通过
//
// 已处于 starting/running 时直接返回当前状态。
func (m *Manager) Start(ctx context.Context) (Status, error) {
	m.mu.Lock()
	if m.state != StateStopped {
		s := m.statusLocked()
		m.mu.Unlock()
		return s, nil
	}
	m.state = StateStarting
	m.lastError = ""
	m.gen++
	gen := m.gen
	startCtx, cancel := context.WithCancel(ctx)
	m.cancelStart = cancel
	unwound := make(chan struct{})
	m.unwound = unwound
	m.mu.Unlock()

	err := m.start(startCtx, gen)
	cancel()

	m.mu.Lock()
	m.cancelStart = nil
	m.unwound = nil
	superseded := m.gen != gen
	if err != nil || superseded {
		m.state = StateStopped
	}
	if err != nil && !superseded {
		m.lastError = err.Error()
	}
	m.mu.Unlock()
	close(unwound)

	if err != nil {
		m.logger.WithError(err).Warn("Sandbox start failed")
	}
	return m.Status(), err
}

func (m *Manager) start(ctx context.Context, gen uint64) error {
	if err := m.build(ctx); err != nil {
		if ctx.Err() != nil {
			return newError(CodeStartFailed, "start cancelled during build: %v", ctx.Err())
		}
		return err
	}

	binary := m.binaryPath()
	if _, err := os.Stat(binary); err != nil {
		return newError(CodeMissingBuild, "sandbox binary not found at %s", binary).with("binary", binary)
	}

	cmd, done, err := m.spawn(binary, gen)
	if err != nil {
		return err
	}

	if err := m.waitHealthy(ctx, done); err != nil {
		m.mu.Lock()
		if m.cmd == cmd {
			m.cmd = nil
			m.done = nil
		}
		m.mu.Unlock()
		m.kill(cmd, done)
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.cmd != cmd {
		// Stop 在健康检查期间抢先执行
		if m.cmd == cmd {
			m.cmd = nil
			m.done = nil
		}
		m.mu.Unlock()
		m.kill(cmd, done)
		return newError(CodeStartFailed, "sandbox stopped while starting")
	}
	m.state = StateRunning
	m.startedAt = time.Now()
	m.up.Set(1)
	m.mu.Unlock()
	m.logger.Info("Sandbox running", "pid", cmd.Process.Pid, "base_url", m.opts.BaseURL, "db", m.opts.DBName)
	return nil
}

// build 同步执行构建命令
func (m *Manager) build(ctx context.Context) error {
	if len(m.opts.BuildCommand) == 0 {
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.opts.BuildCommand[0], m.opts.BuildCommand[1:]...)
	cmd.Dir = m.opts.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = m.opts.StopGrace

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		m.logger.WithDuration(time.Since(start)).Info("Sandbox build finished")
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return newError(CodeBuildFailed, "build command failed: %v", err).
		with("stdout", tail(stdout.String(), outputLimit)).
		with("stderr", tail(stderr.String(), outputLimit)).
		with("exitCode", exitCode)
}

func (m *Manager) binaryPath() string {
	if filepath.IsAbs(m.opts.Binary) || m.opts.WorkDir == "" {
		return m.opts.Binary
	}
	return filepath.Join(m.opts.WorkDir, m.opts.Binary)
}

// spawn 在独立进程组中启动子进程，并启动退出监视 goroutine
func (m *Manager) spawn(binary string, gen uint64) (*exec.Cmd, chan struct{}, error) {
	cmd := exec.Command(binary)
	cmd.Dir = m.opts.WorkDir
	cmd.Env = append(os.Environ(),
		"PORT="+m.opts.Port,
		"MONGO_URI="+m.opts.MongoURI,
		"MONGODB_URI="+m.opts.MongoURI,
		"MONGO_DB_NAME="+m.opts.DBName,
		"SIMULATION_SANDBOX=true",
		"SIMULATION_SANDBOX_MARKER="+m.opts.Marker,
	)
	setProcessGroup(cmd)

	stdout := m.logger.LineWriter("[sandbox]")
	stderr := m.logger.LineWriter("[sandbox]")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = m.opts.StopGrace

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, nil, newError(CodeStartFailed, "spawn %s: %v", binary, err)
	}

	done := make(chan struct{})
	m.mu.Lock()
	current := m.gen == gen && m.state == StateStarting
	if current {
		m.cmd = cmd
		m.done = done
	}
	m.mu.Unlock()

	go m.watch(cmd, done, stdout, stderr)
	if !current {
		m.kill(cmd, done)
		return nil, nil, newError(CodeStartFailed, "sandbox stopped while starting")
	}
	return cmd, done, nil
}

// watch 等待子进程退出；意外退出时标记为 stopped
func (m *Manager) watch(cmd *exec.Cmd, done chan struct{}, closers ...io.Closer) {
	err := cmd.Wait()
	for _, c := range closers {
		c.Close()
	}

	m.mu.Lock()
	if m.cmd == cmd {
		m.cmd = nil
		m.done = nil
		m.state = StateStopped
		m.up.Set(0)
		if err != nil {
			m.lastError = fmt.Sprintf("sandbox process exited: %v", err)
		} else {
			m.lastError = "sandbox process exited"
		}
		m.logger.Warn("Sandbox process exited unexpectedly", "pid", cmd.Process.Pid, "error", m.lastError)
	}
	m.mu.Unlock()
	close(done)
}

// waitHealthy 轮询 {baseUrl}/health 直到成功或超时
func (m *Manager) waitHealthy(ctx context.Context, done <-chan struct{}) error {
	deadline := time.NewTimer(m.opts.HealthDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()

	url := m.opts.BaseURL + "/health"
	for {
		if m.checkHealth(ctx, url) {
			return nil
		}
		select {
		case <-ctx.Done():
			return newError(CodeStartFailed, "start cancelled: %v", ctx.Err())
		case <-done:
			return newError(CodeStartFailed, "sandbox process exited before becoming healthy")
		case <-deadline.C:
			return newError(CodeHealthCheckTimeout, "sandbox did not become healthy within %s", m.opts.HealthDeadline).
				with("url", url)
		case <-ticker.C:
		}
	}
}

func (m *Manager) checkHealth(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Stop 终止整个子进程组；重复调用无副作用
//
// starting 期间调用时取消该次启动，并等待它退出后返回。
func (m *Manager) Stop() Status {
	m.mu.Lock()
	cmd, done := m.cmd, m.done
	m.cmd = nil
	m.done = nil
	m.gen++
	cancel, unwound := m.cancelStart, m.unwound
	if unwound == nil {
		m.state = StateStopped
	}
	m.up.Set(0)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil {
		m.kill(cmd, done)
		m.logger.Info("Sandbox stopped", "pid", cmd.Process.Pid)
	}
	if unwound != nil {
		<-unwound
	}
	return m.Status()
}

// kill 先发 SIGTERM，宽限期后 SIGKILL
func (m *Manager) kill(cmd *exec.Cmd, done <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	if err := signalTree(cmd.Process, false); err != nil {
		m.logger.WithError(err).Debug("Sandbox terminate signal failed")
	}
	select {
	case <-done:
		return
	case <-time.After(m.opts.StopGrace):
	}
	if err := signalTree(cmd.Process, true); err != nil {
		m.logger.WithError(err).Debug("Sandbox kill signal failed")
	}
	select {
	case <-done:
	case <-time.After(m.opts.StopGrace):
		m.logger.Warn("Sandbox process did not exit after kill", "pid", cmd.Process.Pid)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
