package connection

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Type 连接类型
type Type string

const (
	TypeMySQL Type = "mysql"
	TypeHTTP  Type = "http"
	TypeOAuth Type = "oauth"
)

// TestStatus 连通性测试结果
type TestStatus string

const (
	TestStatusUnknown TestStatus = "unknown"
	TestStatusOK      TestStatus = "ok"
	TestStatusFailed  TestStatus = "failed"
)

// Connection 外部系统连接配置
//
// Config 保存非敏感配置（主机、端口、库名、接口地址等），
// 凭据单独加密存储，任何读路径都不返回明文。
type Connection struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID     string `gorm:"type:varchar(255);not null;index" json:"owner_id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Type        Type   `gorm:"type:varchar(20);not null;index" json:"type"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	Config datatypes.JSONMap `gorm:"type:jsonb" json:"config,omitempty"`

	// AES-GCM 加密后的凭据，接口序列化时始终省略
	EncryptedCredentials string `gorm:"type:text" json:"-"`

	// OAuth 令牌（加密存储）
	EncryptedOAuthToken string     `gorm:"column:encrypted_oauth_token;type:text" json:"-"`
	OAuthProvider       string     `gorm:"column:oauth_provider;type:varchar(64)" json:"oauth_provider,omitempty"`
	OAuthExpiresAt      *time.Time `gorm:"column:oauth_expires_at" json:"oauth_expires_at,omitempty"`

	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	LastTestStatus TestStatus `gorm:"type:varchar(20);default:'unknown'" json:"last_test_status"`
	LastTestedAt   *time.Time `json:"last_tested_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate GORM 钩子：创建前生成 ID
func (c *Connection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (Connection) TableName() string {
	return "connections"
}
