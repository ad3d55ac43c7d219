package types

import "time"

// AuditEvent 审计事件纯数据模型
// 不依赖任何internal包，供 WebSocket 推送与导出使用
type AuditEvent struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id,omitempty"`
	UserQuery       string    `json:"user_query,omitempty"`
	ToolName        string    `json:"tool_name"`
	ToolParams      any       `json:"tool_params,omitempty"`
	Response        any       `json:"response,omitempty"`
	Status          string    `json:"status"` // success, fail, denied
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
}
