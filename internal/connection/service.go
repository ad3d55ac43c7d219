package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/security"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrConnectionNotFound 连接不存在
	ErrConnectionNotFound = errors.New("连接不存在")
	// ErrConnectionInactive 连接已停用
	ErrConnectionInactive = errors.New("连接已停用")
)

// CreateRequest 创建连接请求
type CreateRequest struct {
	Name        string            `json:"name" binding:"required"`
	Type        Type              `json:"type" binding:"required,oneof=mysql http oauth"`
	Description string            `json:"description,omitempty"`
	Config      map[string]any    `json:"config,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// UpdateRequest 更新连接请求，nil 字段表示不修改
type UpdateRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Config      map[string]any    `json:"config,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
	IsActive    *bool             `json:"is_active,omitempty"`
}

// Service 连接管理服务
type Service struct {
	db *gorm.DB
}

// NewService 创建连接服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Create 创建连接，凭据加密后落盘
func (s *Service) Create(ctx context.Context, ownerID string, req *CreateRequest) (*Connection, error) {
	conn := &Connection{
		OwnerID:        ownerID,
		Name:           req.Name,
		Type:           req.Type,
		Description:    req.Description,
		Config:         datatypes.JSONMap(req.Config),
		IsActive:       true,
		LastTestStatus: TestStatusUnknown,
	}
	if len(req.Credentials) > 0 {
		encrypted, err := security.EncryptCredentials(req.Credentials)
		if err != nil {
			return nil, fmt.Errorf("加密凭据失败: %w", err)
		}
		conn.EncryptedCredentials = encrypted
	}
	if err := s.db.WithContext(ctx).Create(conn).Error; err != nil {
		return nil, fmt.Errorf("创建连接失败: %w", err)
	}
	logger.Info("连接已创建",
		zap.String("connection_id", conn.ID),
		zap.String("type", string(conn.Type)),
		zap.String("owner_id", ownerID))
	return conn, nil
}

// Get 查询连接，校验归属
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Connection, error) {
	var conn Connection
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("查询连接失败: %w", err)
	}
	return &conn, nil
}

// List 列出用户的全部连接
func (s *Service) List(ctx context.Context, ownerID string) ([]*Connection, error) {
	var conns []*Connection
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("查询连接列表失败: %w", err)
	}
	return conns, nil
}

// Update 更新连接，只改非 nil 字段
func (s *Service) Update(ctx context.Context, ownerID, id string, req *UpdateRequest) (*Connection, error) {
	conn, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		conn.Name = *req.Name
	}
	if req.Description != nil {
		conn.Description = *req.Description
	}
	if req.Config != nil {
		conn.Config = datatypes.JSONMap(req.Config)
	}
	if req.IsActive != nil {
		conn.IsActive = *req.IsActive
	}
	if len(req.Credentials) > 0 {
		encrypted, err := security.EncryptCredentials(req.Credentials)
		if err != nil {
			return nil, fmt.Errorf("加密凭据失败: %w", err)
		}
		conn.EncryptedCredentials = encrypted
		// 换凭据后此前的测试结果不再可信
		conn.LastTestStatus = TestStatusUnknown
		conn.LastTestedAt = nil
	}
	if err := s.db.WithContext(ctx).Save(conn).Error; err != nil {
		return nil, fmt.Errorf("更新连接失败: %w", err)
	}
	return conn, nil
}

// Delete 删除连接
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&Connection{})
	if result.Error != nil {
		return fmt.Errorf("删除连接失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// Credentials 解密连接凭据，仅供网关内部使用
func (s *Service) Credentials(conn *Connection) (map[string]string, error) {
	if conn.EncryptedCredentials == "" {
		return map[string]string{}, nil
	}
	creds, err := security.DecryptCredentials(conn.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("解密凭据失败: %w", err)
	}
	return creds, nil
}

// MarkTested 记录连通性测试结果
func (s *Service) MarkTested(ctx context.Context, id string, ok bool) error {
	status := TestStatusOK
	if !ok {
		status = TestStatusFailed
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_test_status": status,
			"last_tested_at":   now,
		}).Error
}

// SaveOAuthToken 加密保存 OAuth 令牌
func (s *Service) SaveOAuthToken(ctx context.Context, id, provider string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("序列化 OAuth 令牌失败: %w", err)
	}
	encrypted, err := security.EncryptSecret(string(raw))
	if err != nil {
		return fmt.Errorf("加密 OAuth 令牌失败: %w", err)
	}
	updates := map[string]any{
		"encrypted_oauth_token": encrypted,
		"oauth_provider":        provider,
	}
	if !token.Expiry.IsZero() {
		updates["oauth_expires_at"] = token.Expiry.UTC()
	}
	return s.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// OAuthToken 解密 OAuth 令牌
func (s *Service) OAuthToken(conn *Connection) (*oauth2.Token, error) {
	if conn.EncryptedOAuthToken == "" {
		return nil, fmt.Errorf("连接 %s 没有 OAuth 令牌", conn.ID)
	}
	raw, err := security.DecryptSecret(conn.EncryptedOAuthToken)
	if err != nil {
		return nil, fmt.Errorf("解密 OAuth 令牌失败: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("解析 OAuth 令牌失败: %w", err)
	}
	return &token, nil
}
