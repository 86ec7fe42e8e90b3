package simulation

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBody 单次响应读取上限
const maxResponseBody = 4 << 20

// Client 虚拟用户访问业务 API 的 HTTP 客户端
//
// 所有虚拟用户共享同一个 Transport，本地沙箱可能是自签证书，因此跳过 TLS 校验。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建客户端，timeout 为单次调用超时
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	transport.MaxIdleConnsPerHost = 256
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Response 业务 API 响应
type Response struct {
	Status int
	Body   []byte
}

// Do 以 token 身份调用 method path；body 非 nil 时编码为 JSON
func (c *Client) Do(ctx context.Context, token, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Response{Status: resp.StatusCode}, err
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Close 释放空闲连接
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// idsFrom 从列表响应中提取 id
//
// 兼容裸数组和 {items|data|classes|students|templates|assignments: [...]} 两种形态，
// 每个元素读取 _id 或 id。
func idsFrom(data []byte) []string {
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err != nil {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil
		}
		for _, key := range []string{"items", "data", "classes", "students", "templates", "assignments"} {
			if raw, ok := wrapped[key]; ok && json.Unmarshal(raw, &list) == nil {
				break
			}
		}
	}

	ids := make([]string, 0, len(list))
	for _, item := range list {
		if id := idOf(item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func idOf(item map[string]any) string {
	for _, key := range []string{"_id", "id"} {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
