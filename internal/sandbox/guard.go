// Package sandbox 沙箱判定与沙箱子进程管理
//
// Guard 只根据进程级信号（环境变量 + 当前数据库连接）判断是否允许
// 施加合成负载，从不读取请求参数。
// Manager 负责构建、启动、健康检查和终止独立的沙箱 api-server 子进程。
package sandbox

import (
	"strings"

	"github.com/gilkh/livret-sub003/internal/config"
)

// DefaultMarker 默认沙箱标记
const DefaultMarker = "sandbox"

// Conn 当前数据库连接（mongostore.Store / memstore.Store 均满足）
type Conn interface {
	URI() string
	DBName() string
}

// Guard 沙箱判定
type Guard struct {
	Flag   string // SIMULATION_SANDBOX 原始值
	Marker string // SIMULATION_SANDBOX_MARKER，空时为 sandbox
	Conn   Conn
}

// NewGuard 创建 Guard
func NewGuard(flag, marker string, conn Conn) *Guard {
	return &Guard{Flag: flag, Marker: marker, Conn: conn}
}

// Diagnostics 判定过程的快照，会原样返回给控制接口调用方
type Diagnostics struct {
	Enabled     bool   `json:"enabled"`
	Marker      string `json:"marker"`
	DBName      string `json:"dbName"`
	URI         string `json:"uri"` // 已隐藏密码
	MarkerMatch bool   `json:"markerMatch"`
	TestMatch   bool   `json:"testMatch"`
	OK          bool   `json:"ok"`
}

// Diagnostics 计算当前判定结果
func (g *Guard) Diagnostics() Diagnostics {
	marker := strings.TrimSpace(g.Marker)
	if marker == "" {
		marker = DefaultMarker
	}

	var uri, dbName string
	if g.Conn != nil {
		uri = g.Conn.URI()
		dbName = g.Conn.DBName()
	}

	d := Diagnostics{
		Enabled:     isTruthy(g.Flag),
		Marker:      marker,
		DBName:      dbName,
		URI:         config.MaskPassword(uri),
		MarkerMatch: containsFold(uri, marker) || containsFold(dbName, marker),
		TestMatch:   containsFold(uri, "test") || containsFold(dbName, "test"),
	}
	d.OK = d.Enabled && (d.MarkerMatch || d.TestMatch)
	return d
}

// IsSandbox 当前进程是否处于已验证的沙箱环境
func (g *Guard) IsSandbox() bool {
	return g.Diagnostics().OK
}

// AssertSandbox 非沙箱环境时返回 simulation_not_allowed
func (g *Guard) AssertSandbox() error {
	d := g.Diagnostics()
	if d.OK {
		return nil
	}
	return newError(CodeNotAllowed, "simulations are only allowed against a sandbox database").
		with("dbName", d.DBName).
		with("uri", d.URI)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
