package tasks

// Task Types
const (
	TypeArchiveAuditLogs = "audit:archive"
	TypeExportAuditLogs  = "audit:export"
	TypeTestConnection   = "connection:test"
)

// ArchiveAuditLogsPayload 审计日志归档任务载荷（无参数，按配置保留期执行）
type ArchiveAuditLogsPayload struct{}

// ExportAuditLogsPayload 审计日志导出任务载荷
type ExportAuditLogsPayload struct {
	UserID     string `json:"user_id"`
	ToolName   string `json:"tool_name,omitempty"`
	Status     string `json:"status,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
}

// TestConnectionPayload 连接连通性测试任务载荷
type TestConnectionPayload struct {
	ConnectionID string `json:"connection_id"`
	OwnerID      string `json:"owner_id"`
}
