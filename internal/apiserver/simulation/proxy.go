package simulation

import (
	"crypto/tls"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gilkh/livret-sub003/internal/sandbox"
)

// sandboxProxy 把控制请求原样转发给沙箱子进程
//
// Authorization 头随请求转发，子进程自行校验；状态码和响应体原样返回。
type sandboxProxy struct {
	process   SandboxProcess
	transport http.RoundTripper
}

func newSandboxProxy(process SandboxProcess) *sandboxProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// 沙箱可能使用自签证书
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	transport.ResponseHeaderTimeout = 30 * time.Second
	return &sandboxProxy{process: process, transport: transport}
}

// ServeHTTP 子进程未运行时返回 409 sandbox_server_not_running
func (p *sandboxProxy) ServeHTTP(w http.ResponseWriter, r *http.Request, diag sandbox.Diagnostics) {
	status := p.process.Status()
	if !status.Running {
		writeError(w, http.StatusConflict, sandbox.CodeNotRunning, "sandbox server is not running; start it first", map[string]any{
			"sandboxServer":      status,
			"sandboxDiagnostics": diag,
		})
		return
	}

	target, err := url.Parse(p.process.BaseURL())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "invalid sandbox base url", nil)
		return
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("[simulation.proxy] forward failed path=%s err=%v", r.URL.Path, err)
			writeError(w, http.StatusBadGateway, "sandbox_proxy_failed", err.Error(), map[string]any{
				"sandboxServer": p.process.Status(),
			})
		},
	}
	proxy.ServeHTTP(w, r)
}
