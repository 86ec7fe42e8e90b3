// Package logging 结构化日志
package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	RunIDKey     ContextKey = "run_id"
	UserIDKey    ContextKey = "user_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	level := ParseLevel(cfg.Level)

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	return NewWithWriter(output, level, cfg.Format, cfg.Component)
}

// NewWithWriter 使用指定输出创建日志器（测试中常用 bytes.Buffer）
func NewWithWriter(w io.Writer, level slog.Level, format, component string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	if component != "" {
		l = l.With(slog.String("component", component))
	}
	return &Logger{Logger: l, component: component}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard 丢弃所有输出
func Discard() *Logger {
	return NewWithWriter(io.Discard, slog.LevelError, "text", "")
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...), component: l.component}
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("run_id", v))
	}
	if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("user_id", v))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithRunID 添加 Run ID
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(slog.String("run_id", runID))
}

// WithActor 添加虚拟用户信息
func (l *Logger) WithActor(role, actorID string) *Logger {
	return l.with(slog.String("actor_role", role), slog.String("actor_id", actorID))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// ActionLog 虚拟用户调用日志，失败记 warn，成功记 debug
func (l *Logger) ActionLog(name string, ok bool, status int, ms float64, errMsg string) {
	attrs := []any{
		slog.String("action", name),
		slog.Int("status", status),
		slog.Float64("ms", ms),
	}
	if !ok {
		if errMsg != "" {
			attrs = append(attrs, slog.String("error", errMsg))
		}
		l.Logger.Warn("Simulation action failed", attrs...)
		return
	}
	l.Logger.Debug("Simulation action", attrs...)
}

// SimulationLog 模拟生命周期事件
func (l *Logger) SimulationLog(event, runID string, extra ...any) {
	attrs := []any{
		slog.String("event", event),
		slog.String("run_id", runID),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Simulation event", attrs...)
}

// LineWriter 返回按行写日志的 io.Writer，用于转发子进程输出
//
// 调用方写完后必须 Close，否则最后一行可能丢失。
func (l *Logger) LineWriter(prefix string) io.WriteCloser {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			l.Logger.Info(prefix + " " + scanner.Text())
		}
		// 超长行导致 Scanner 退出后继续丢弃，避免写端阻塞
		_, _ = io.Copy(io.Discard, pr)
		pr.Close()
	}()
	return pw
}
