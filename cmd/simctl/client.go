package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// apiClient 控制接口客户端
type apiClient struct {
	base   string
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

func newAPIClient(base, token string, insecure bool, timeout time.Duration) *apiClient {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	dialer := *websocket.DefaultDialer
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		http:   &http.Client{Transport: tr, Timeout: timeout},
		dialer: &dialer,
	}
}

// apiError 非 2xx 响应
type apiError struct {
	Status  int
	Code    string
	Message string
	Body    map[string]any
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// do 发送请求并解析 JSON 响应
func (c *apiClient) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode, Body: out}
		e.Code, _ = out["error"].(string)
		e.Message, _ = out["message"].(string)
		return nil, e
	}
	return out, nil
}

// liveURL WebSocket 地址，http(s) 换成 ws(s)
func (c *apiClient) liveURL(runID string) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/simulations/" + url.PathEscape(runID)
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

// watch 逐帧回调，直到收到 final 帧或连接关闭
func (c *apiClient) watch(ctx context.Context, runID string, onFrame func(map[string]any)) error {
	target, err := c.liveURL(runID)
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			var body map[string]any
			json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			e := &apiError{Status: resp.StatusCode, Body: body}
			e.Code, _ = body["error"].(string)
			e.Message, _ = body["message"].(string)
			return e
		}
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		onFrame(frame)
		if t, _ := frame["type"].(string); t == "final" || t == "error" {
			return nil
		}
	}
}
