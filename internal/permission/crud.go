package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GrantRequest 授权请求
type GrantRequest struct {
	UserID           string            `json:"user_id" binding:"required"`
	ConnectionID     string            `json:"connection_id" binding:"required"`
	ToolName         string            `json:"tool_name" binding:"required"`
	Level            Level             `json:"level" binding:"required,oneof=allowed blocked approval_required"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	TimeRestriction  *TimeRestriction  `json:"time_restriction,omitempty"`
	ParamConstraints []ParamConstraint `json:"param_constraints,omitempty"`
	RateLimit        *RateLimit        `json:"rate_limit,omitempty"`
	GrantedBy        string            `json:"granted_by,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// Grant 创建或覆盖一条权限记录
func (s *Service) Grant(ctx context.Context, req *GrantRequest) (*ToolPermission, error) {
	perm := &ToolPermission{
		UserID:       req.UserID,
		ConnectionID: req.ConnectionID,
		ToolName:     req.ToolName,
		Level:        req.Level,
		ExpiresAt:    req.ExpiresAt,
		GrantedBy:    req.GrantedBy,
		Reason:       req.Reason,
	}
	if err := marshalInto(req.TimeRestriction, &perm.TimeRestriction); err != nil {
		return nil, err
	}
	if len(req.ParamConstraints) > 0 {
		if err := marshalInto(req.ParamConstraints, &perm.ParamConstraints); err != nil {
			return nil, err
		}
	}
	if err := marshalInto(req.RateLimit, &perm.RateLimit); err != nil {
		return nil, err
	}

	var existing ToolPermission
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND connection_id = ? AND tool_name = ?",
			req.UserID, req.ConnectionID, req.ToolName).
		First(&existing).Error
	switch {
	case err == nil:
		perm.ID = existing.ID
		perm.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(perm).Error; err != nil {
			return nil, fmt.Errorf("更新权限失败: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(perm).Error; err != nil {
			return nil, fmt.Errorf("创建权限失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("查询权限失败: %w", err)
	}
	return perm, nil
}

// BulkGrant 批量授权，任何一条失败整体回滚
func (s *Service) BulkGrant(ctx context.Context, reqs []*GrantRequest) ([]*ToolPermission, error) {
	var results []*ToolPermission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := &Service{db: tx, redis: s.redis, now: s.now}
		for _, req := range reqs {
			perm, err := scoped.Grant(ctx, req)
			if err != nil {
				return err
			}
			results = append(results, perm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListByUser 列出用户在某连接上的全部权限。connectionID 为空时列出全部连接。
func (s *Service) ListByUser(ctx context.Context, userID, connectionID string) ([]*ToolPermission, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if connectionID != "" {
		query = query.Where("connection_id = ?", connectionID)
	}
	var perms []*ToolPermission
	if err := query.Order("tool_name ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("查询权限列表失败: %w", err)
	}
	return perms, nil
}

// Revoke 删除一条权限记录，之后恢复默认放行
func (s *Service) Revoke(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&ToolPermission{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("删除权限失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// marshalInto 把可选配置序列化进 JSON 列，nil 时保持空
func marshalInto(value any, target *datatypes.JSON) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case *TimeRestriction:
		if v == nil {
			return nil
		}
	case *RateLimit:
		if v == nil {
			return nil
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化权限配置失败: %w", err)
	}
	*target = datatypes.JSON(raw)
	return nil
}
