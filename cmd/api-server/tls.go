package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gilkh/livret-sub003/internal/config"
	"github.com/gilkh/livret-sub003/internal/tlsutil"
)

// resolveCerts 返回证书与私钥路径，以及可供下载的 CA 路径（自签名时非空）
func resolveCerts(cfg config.TLSConfig) (certFile, keyFile, caFile string, err error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return cfg.CertFile, cfg.KeyFile, "", nil
	}
	files, err := tlsutil.Ensure(tlsutil.Options{Dir: cfg.CertDir, Hosts: cfg.Hosts})
	if err != nil {
		return "", "", "", err
	}
	return files.Cert, files.Key, files.CA, nil
}

// withCADownload 在 /ca.pem 提供自签名 CA，便于浏览器或 simctl 信任
func withCADownload(next http.Handler, caFile string) http.Handler {
	if caFile == "" {
		return next
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		log.Printf("[tls.ca] read failed path=%s err=%v", caFile, err)
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ca.pem" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Header().Set("Content-Disposition", `attachment; filename="livret-ca.pem"`)
		w.Write(data)
	})
}

// handshakeFilter 丢弃 "TLS handshake error"，自签名证书下浏览器首连会大量触发
type handshakeFilter struct {
	out io.Writer
}

func (f handshakeFilter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "TLS handshake error") {
		return len(p), nil
	}
	return f.out.Write(p)
}

func newServerErrorLog() *log.Logger {
	return log.New(handshakeFilter{out: os.Stderr}, "[http] ", log.LstdFlags)
}

// redirectListener 在 TLS 端口上识别明文 HTTP 请求并 301 到 https://
//
// 首字节 0x16 为 TLS ClientHello，原样交给 TLS 层。
type redirectListener struct {
	net.Listener
}

func (l redirectListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		first := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = io.ReadFull(conn, first)
		conn.SetReadDeadline(time.Time{})
		if err != nil {
			conn.Close()
			continue
		}

		if first[0] == 0x16 {
			return &peekedConn{Conn: conn, head: first}, nil
		}
		go redirectPlainHTTP(&peekedConn{Conn: conn, head: first})
	}
}

// peekedConn 先返回已读出的字节
type peekedConn struct {
	net.Conn
	head []byte
}

func (c *peekedConn) Read(b []byte) (int, error) {
	if len(c.head) > 0 {
		n := copy(b, c.head)
		c.head = c.head[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

func redirectPlainHTTP(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return
	}
	fmt.Fprintf(conn, "HTTP/1.1 301 Moved Permanently\r\nLocation: %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		httpsLocation(req, conn.LocalAddr().String()))
}

// httpsLocation 目标地址；非 443 端口时补上实际监听端口
func httpsLocation(req *http.Request, localAddr string) string {
	host := req.Host
	if host == "" {
		host = localAddr
	}
	_, port, _ := net.SplitHostPort(localAddr)
	if port != "" && port != "443" {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, port)
		}
	}
	return "https://" + host + req.URL.RequestURI()
}
