package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status 审计状态
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusDenied  Status = "denied"
)

// AuditLog 审计日志表
//
// 每次 MCP Tool 调用写入一条记录，只追加、永不更新。
// 入库前必须完成脱敏，原始敏感值不允许落盘。
type AuditLog struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`

	// 调用方信息
	UserID    string `gorm:"type:varchar(255);not null;index" json:"user_id"`
	SessionID string `gorm:"type:varchar(64);index" json:"session_id,omitempty"`

	// 请求信息
	UserQuery  string         `gorm:"type:text" json:"user_query,omitempty"`
	ToolName   string         `gorm:"type:varchar(255);not null;index" json:"tool_name"`
	ToolParams datatypes.JSON `gorm:"type:jsonb" json:"tool_params,omitempty"`

	// 响应信息（脱敏后全量保存）
	Response datatypes.JSON `gorm:"type:jsonb" json:"response,omitempty"`

	// 状态
	Status       Status `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// 执行耗时（毫秒）
	ExecutionTimeMS int64 `gorm:"not null;default:0" json:"execution_time_ms"`
}

// BeforeCreate GORM 钩子：创建前生成 ID 与时间戳
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return nil
}

// TableName 指定表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// AuditLogArchive 审计日志归档表
// 保留期外的记录由归档任务迁移至此，结构与主表一致。
type AuditLogArchive struct {
	AuditLog
	ArchivedAt time.Time `gorm:"not null" json:"archived_at"`
}

// TableName 指定表名
func (AuditLogArchive) TableName() string {
	return "audit_log_archives"
}
