package gateway

import (
	"context"
)

// ToolDefinition 工具定义，向 LLM 暴露的工具描述
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CallResult 单次工具调用结果
type CallResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Connector 外部系统连接器
//
// 每个实例对应一个已配置的连接。实现必须保证 CallTool
// 在 ctx 取消后尽快返回；返回的业务失败放在 CallResult.Error，
// error 仅表示连接器自身故障。
type Connector interface {
	// Type 连接器类型，如 mysql、http
	Type() string
	// ConnectionID 所属连接 ID
	ConnectionID() string
	// ListTools 列出该连接器暴露的全部工具
	ListTools() []ToolDefinition
	// CallTool 调用指定工具。name 为去掉连接器前缀后的工具名。
	CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error)
	// Close 释放底层资源
	Close() error
}

// ToolCallRequest 网关调用请求
type ToolCallRequest struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	UserQuery string         `json:"user_query,omitempty"`
	ToolName  string         `json:"tool_name" binding:"required"`
	Params    map[string]any `json:"params,omitempty"`
}

// ToolCallResponse 网关调用响应，Params/Result 均为脱敏后内容。
// Success 仅在 status 为 success 时为 true，denied/fail 均为 false。
type ToolCallResponse struct {
	AuditID         string `json:"audit_id,omitempty"`
	ToolName        string `json:"tool_name"`
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}
