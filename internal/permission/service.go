package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/Knetic/govaluate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrPermissionNotFound 权限记录不存在
	ErrPermissionNotFound = errors.New("权限记录不存在")
	// ErrPermissionExists 权限记录已存在
	ErrPermissionExists = errors.New("该用户对此工具的权限已存在")
)

// Decision 权限判定结果
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Service 权限服务
//
// 判定顺序：级别 → 有效期 → 时间窗口 → 参数约束 → 频率限制。
// 任何一步不通过即拒绝并给出原因。
type Service struct {
	db    *gorm.DB
	redis *redis.Client
	now   func() time.Time
}

// NewService 创建权限服务。redis 可为 nil，此时跳过频率限制。
func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{db: db, redis: rdb, now: time.Now}
}

// Check 判定用户是否可以调用指定连接上的工具。
// 没有权限记录时默认放行；返回 error 仅表示判定过程本身失败。
func (s *Service) Check(ctx context.Context, userID, connectionID, toolName string, params map[string]any) (*Decision, error) {
	var perm ToolPermission
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND connection_id = ? AND tool_name = ?", userID, connectionID, toolName).
		First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Decision{Allowed: true}, nil
		}
		return nil, fmt.Errorf("查询工具权限失败: %w", err)
	}

	switch perm.Level {
	case LevelBlocked:
		return &Decision{Allowed: false, Reason: "该工具已被禁用"}, nil
	case LevelApprovalRequired:
		return &Decision{Allowed: false, Reason: "该工具需要审批后才能调用"}, nil
	}

	if perm.ExpiresAt != nil && s.now().After(*perm.ExpiresAt) {
		return &Decision{Allowed: false, Reason: "权限已过期"}, nil
	}

	if decision := s.checkTimeRestriction(&perm); decision != nil {
		return decision, nil
	}
	if decision := s.checkParamConstraints(&perm, params); decision != nil {
		return decision, nil
	}
	if decision := s.checkRateLimit(ctx, &perm); decision != nil {
		return decision, nil
	}
	return &Decision{Allowed: true}, nil
}

// checkTimeRestriction 校验时间窗口，通过时返回 nil
func (s *Service) checkTimeRestriction(perm *ToolPermission) *Decision {
	if len(perm.TimeRestriction) == 0 {
		return nil
	}
	var restriction TimeRestriction
	if err := json.Unmarshal(perm.TimeRestriction, &restriction); err != nil {
		logger.Warn("时间限制配置解析失败，按拒绝处理",
			zap.String("permission_id", perm.ID), zap.Error(err))
		return &Decision{Allowed: false, Reason: "时间限制配置无效"}
	}

	now := s.now()
	if len(restriction.AllowedHours) > 0 && !containsInt(restriction.AllowedHours, now.Hour()) {
		return &Decision{Allowed: false, Reason: "当前时间不在允许的调用时段内"}
	}
	if len(restriction.AllowedDays) > 0 && !containsInt(restriction.AllowedDays, int(now.Weekday())) {
		return &Decision{Allowed: false, Reason: "当前日期不在允许的调用日内"}
	}
	return nil
}

// checkParamConstraints 逐条校验参数约束，通过时返回 nil
func (s *Service) checkParamConstraints(perm *ToolPermission, params map[string]any) *Decision {
	if len(perm.ParamConstraints) == 0 {
		return nil
	}
	var constraints []ParamConstraint
	if err := json.Unmarshal(perm.ParamConstraints, &constraints); err != nil {
		logger.Warn("参数约束配置解析失败，按拒绝处理",
			zap.String("permission_id", perm.ID), zap.Error(err))
		return &Decision{Allowed: false, Reason: "参数约束配置无效"}
	}

	for _, constraint := range constraints {
		value, ok := params[constraint.Param]
		if !ok {
			// 未传该参数时不触发约束
			continue
		}
		expr, err := govaluate.NewEvaluableExpression(constraint.Expression)
		if err != nil {
			logger.Warn("参数约束表达式无效，按拒绝处理",
				zap.String("expression", constraint.Expression), zap.Error(err))
			return &Decision{Allowed: false, Reason: "参数约束表达式无效"}
		}
		result, err := expr.Evaluate(map[string]any{"value": normalizeValue(value)})
		if err != nil {
			return &Decision{Allowed: false, Reason: fmt.Sprintf("参数 %s 约束求值失败", constraint.Param)}
		}
		passed, ok := result.(bool)
		if !ok || !passed {
			reason := constraint.Message
			if reason == "" {
				reason = fmt.Sprintf("参数 %s 不满足约束条件", constraint.Param)
			}
			return &Decision{Allowed: false, Reason: reason}
		}
	}
	return nil
}

// normalizeValue 把 JSON 解码出的数值统一为 float64 供表达式比较
func normalizeValue(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f
		}
	}
	return value
}

// checkRateLimit 基于 Redis 计数器校验调用频率，通过时返回 nil
func (s *Service) checkRateLimit(ctx context.Context, perm *ToolPermission) *Decision {
	if s.redis == nil || len(perm.RateLimit) == 0 {
		return nil
	}
	var limit RateLimit
	if err := json.Unmarshal(perm.RateLimit, &limit); err != nil {
		logger.Warn("频率限制配置解析失败，跳过限制",
			zap.String("permission_id", perm.ID), zap.Error(err))
		return nil
	}
	if limit.PerHour <= 0 && limit.PerDay <= 0 {
		return nil
	}

	now := s.now().UTC()
	if limit.PerHour > 0 {
		key := fmt.Sprintf("gateway:ratelimit:%s:%s:%s:h%s",
			perm.UserID, perm.ConnectionID, perm.ToolName, now.Format("2006010215"))
		if decision := s.incrAndCheck(ctx, key, time.Hour, limit.PerHour, "小时"); decision != nil {
			return decision
		}
	}
	if limit.PerDay > 0 {
		key := fmt.Sprintf("gateway:ratelimit:%s:%s:%s:d%s",
			perm.UserID, perm.ConnectionID, perm.ToolName, now.Format("20060102"))
		if decision := s.incrAndCheck(ctx, key, 24*time.Hour, limit.PerDay, "天"); decision != nil {
			return decision
		}
	}
	return nil
}

func (s *Service) incrAndCheck(ctx context.Context, key string, window time.Duration, limit int, unit string) *Decision {
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		// Redis 不可用时放行，避免阻断业务
		logger.Warn("频率限制计数失败，跳过限制", zap.String("key", key), zap.Error(err))
		return nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, window)
	}
	if count > int64(limit) {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("已超过每%s %d 次的调用上限", unit, limit),
		}
	}
	return nil
}

func containsInt(list []int, target int) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
