package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// HTTPEndpoint 单个 HTTP 工具端点
type HTTPEndpoint struct {
	// Name 工具名，在连接器内唯一
	Name        string `json:"name"`
	Description string `json:"description"`
	Method      string `json:"method"`
	// Path 相对 BaseURL 的路径，支持 {param} 占位符
	Path string `json:"path"`
	// Parameters JSON Schema 形式的参数定义
	Parameters map[string]any `json:"parameters"`
}

// HTTPConfig HTTP 连接器配置
type HTTPConfig struct {
	BaseURL string `json:"base_url"`
	// Headers 每次请求附带的固定请求头
	Headers map[string]string `json:"headers,omitempty"`
	// BearerToken 静态令牌，设置后加 Authorization 头
	BearerToken string         `json:"-"`
	Endpoints   []HTTPEndpoint `json:"endpoints"`
	Timeout     time.Duration  `json:"-"`
}

// HTTPConnector 通用 HTTP 接口连接器
//
// 端点由连接配置声明。路径占位符和剩余参数分别映射到
// URL 路径、查询串（GET/DELETE）或 JSON 请求体（其他方法）。
type HTTPConnector struct {
	connectionID string
	config       *HTTPConfig
	client       *http.Client
	endpoints    map[string]HTTPEndpoint
}

// NewHTTPConnector 创建 HTTP 连接器。
// tokenSource 非 nil 时走 OAuth，自动续期并覆盖静态令牌。
func NewHTTPConnector(connectionID string, cfg *HTTPConfig, tokenSource oauth2.TokenSource) (*HTTPConnector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("HTTP 连接器缺少 base_url")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("base_url 无效: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if tokenSource != nil {
		client = oauth2.NewClient(context.Background(), tokenSource)
		client.Timeout = timeout
	}

	endpoints := make(map[string]HTTPEndpoint, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if ep.Name == "" {
			return nil, fmt.Errorf("端点缺少名称")
		}
		endpoints[ep.Name] = ep
	}
	return &HTTPConnector{
		connectionID: connectionID,
		config:       cfg,
		client:       client,
		endpoints:    endpoints,
	}, nil
}

// Type 连接器类型
func (c *HTTPConnector) Type() string { return "http" }

// ConnectionID 所属连接 ID
func (c *HTTPConnector) ConnectionID() string { return c.connectionID }

// ListTools 列出端点对应的工具定义
func (c *HTTPConnector) ListTools() []ToolDefinition {
	tools := make([]ToolDefinition, 0, len(c.config.Endpoints))
	for _, ep := range c.config.Endpoints {
		params := ep.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, ToolDefinition{
			Name:        ep.Name,
			Description: ep.Description,
			Parameters:  params,
		})
	}
	return tools
}

// CallTool 调用端点
func (c *HTTPConnector) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	endpoint, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: http.%s", ErrToolNotFound, name)
	}

	path, remaining := fillPathParams(endpoint.Path, params)
	fullURL := strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	method := strings.ToUpper(endpoint.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(remaining) > 0 {
			query := url.Values{}
			for k, v := range remaining {
				query.Set(k, fmt.Sprintf("%v", v))
			}
			fullURL += "?" + query.Encode()
		}
	default:
		if len(remaining) > 0 {
			raw, err := json.Marshal(remaining)
			if err != nil {
				return nil, fmt.Errorf("序列化请求体失败: %w", err)
			}
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if c.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.BearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &CallResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	// 响应体最大 4MB，超出截断
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &CallResult{Success: false, Error: fmt.Sprintf("读取响应失败: %v", err)}, nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsed,
	}
	if resp.StatusCode >= 400 {
		return &CallResult{
			Success: false,
			Data:    data,
			Error:   fmt.Sprintf("接口返回 %d", resp.StatusCode),
		}, nil
	}
	return &CallResult{Success: true, Data: data}, nil
}

// Close HTTP 连接器无持久资源
func (c *HTTPConnector) Close() error { return nil }

// fillPathParams 把 {param} 占位符替换为参数值，返回剩余参数
func fillPathParams(path string, params map[string]any) (string, map[string]any) {
	remaining := make(map[string]any, len(params))
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(fmt.Sprintf("%v", v)))
		} else {
			remaining[k] = v
		}
	}
	return path, remaining
}
