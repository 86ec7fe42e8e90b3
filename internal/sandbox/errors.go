package sandbox

import "fmt"

// 沙箱相关错误码（直接作为 HTTP 响应的 error 字段）
const (
	CodeNotAllowed         = "simulation_not_allowed"
	CodeNotRunning         = "sandbox_server_not_running"
	CodeHealthCheckTimeout = "sandbox_health_check_timeout"
	CodeMissingBuild       = "sandbox_server_missing_build"
	CodeBuildFailed        = "sandbox_server_build_failed"
	CodeStartFailed        = "sandbox_start_failed"
)

// Error 带错误码和诊断信息的沙箱错误
type Error struct {
	Code    string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}
