package permission

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Level 权限级别
type Level string

const (
	LevelAllowed          Level = "allowed"
	LevelBlocked          Level = "blocked"
	LevelApprovalRequired Level = "approval_required"
)

// TimeRestriction 时间窗口限制
// AllowedHours 为 0-23 的小时列表，AllowedDays 为 time.Weekday 数值（0=周日）。
// 两者为空表示不限制。
type TimeRestriction struct {
	AllowedHours []int `json:"allowed_hours,omitempty"`
	AllowedDays  []int `json:"allowed_days,omitempty"`
}

// ParamConstraint 参数约束
// Expression 中以 value 引用参数值，例如 "value < 1000"、"value =~ '^SELECT'"。
type ParamConstraint struct {
	Param      string `json:"param"`
	Expression string `json:"expression"`
	Message    string `json:"message,omitempty"`
}

// RateLimit 调用频率限制，0 表示不限制
type RateLimit struct {
	PerHour int `json:"per_hour,omitempty"`
	PerDay  int `json:"per_day,omitempty"`
}

// ToolPermission 工具权限表
//
// 同一用户对同一连接的同一工具只有一条记录。
// 没有记录时默认放行。
type ToolPermission struct {
	ID           string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string `gorm:"type:varchar(255);not null;uniqueIndex:uk_permission_user_conn_tool" json:"user_id"`
	ConnectionID string `gorm:"type:uuid;not null;uniqueIndex:uk_permission_user_conn_tool" json:"connection_id"`
	ToolName     string `gorm:"type:varchar(255);not null;uniqueIndex:uk_permission_user_conn_tool" json:"tool_name"`

	Level     Level      `gorm:"type:varchar(20);not null;default:'allowed'" json:"level"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// 细粒度限制（JSON 序列化的 TimeRestriction / []ParamConstraint / RateLimit）
	TimeRestriction  datatypes.JSON `gorm:"type:jsonb" json:"time_restriction,omitempty"`
	ParamConstraints datatypes.JSON `gorm:"type:jsonb" json:"param_constraints,omitempty"`
	RateLimit        datatypes.JSON `gorm:"type:jsonb" json:"rate_limit,omitempty"`

	GrantedBy string    `gorm:"type:varchar(255)" json:"granted_by,omitempty"`
	Reason    string    `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate GORM 钩子：创建前生成 ID
func (p *ToolPermission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (ToolPermission) TableName() string {
	return "tool_permissions"
}
