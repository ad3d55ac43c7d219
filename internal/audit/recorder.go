package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"github.com/JOSSEP-ENG/ai-agent-logging/pkg/types"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventSink 审计事件旁路消费者（如 WebSocket 实时推送）。
// 推送失败不影响审计写入。
type EventSink interface {
	Publish(event *types.AuditEvent)
}

// Recorder 审计记录器
//
// 负责把调用事件脱敏后同步写入数据库。写入失败只记日志并计数，
// 不向上传播，调用结果不受审计可用性影响。
type Recorder struct {
	db     *gorm.DB
	masker *masking.Masker
	sinks  []EventSink

	writeFailures atomic.Int64
}

// NewRecorder 创建审计记录器
func NewRecorder(db *gorm.DB, masker *masking.Masker) *Recorder {
	return &Recorder{
		db:     db,
		masker: masker,
	}
}

// AddSink 注册审计事件旁路消费者
func (r *Recorder) AddSink(sink EventSink) {
	r.sinks = append(r.sinks, sink)
}

// Record 脱敏并写入一条审计记录，返回记录 ID。
// 写入失败时返回空 ID 和错误，但调用方不应因此改变工具调用结果。
func (r *Recorder) Record(ctx context.Context, event *types.AuditEvent) (string, error) {
	maskedParams := r.masker.MaskPayload(event.ToolParams)
	maskedResponse := r.masker.MaskPayload(event.Response)
	maskedQuery := r.masker.MaskString(event.UserQuery)
	maskedError := r.masker.MaskString(event.ErrorMessage)

	entry := &AuditLog{
		ID:              event.ID,
		Timestamp:       event.Timestamp,
		UserID:          event.UserID,
		SessionID:       event.SessionID,
		UserQuery:       maskedQuery,
		ToolName:        event.ToolName,
		Status:          Status(event.Status),
		ErrorMessage:    maskedError,
		ExecutionTimeMS: event.ExecutionTimeMS,
	}

	if maskedParams != nil {
		raw, err := json.Marshal(maskedParams)
		if err == nil {
			entry.ToolParams = datatypes.JSON(raw)
		}
	}
	if maskedResponse != nil {
		raw, err := json.Marshal(maskedResponse)
		if err == nil {
			entry.Response = datatypes.JSON(raw)
		}
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.writeFailures.Add(1)
		logger.Error("审计日志写入失败",
			zap.String("tool_name", event.ToolName),
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return "", fmt.Errorf("写入审计日志失败: %w", err)
	}

	r.publish(entry, maskedParams, maskedResponse)
	return entry.ID, nil
}

// publish 向旁路消费者广播已脱敏的事件
func (r *Recorder) publish(entry *AuditLog, params, response any) {
	if len(r.sinks) == 0 {
		return
	}
	event := &types.AuditEvent{
		ID:              entry.ID,
		Timestamp:       entry.Timestamp,
		UserID:          entry.UserID,
		SessionID:       entry.SessionID,
		UserQuery:       entry.UserQuery,
		ToolName:        entry.ToolName,
		ToolParams:      params,
		Response:        response,
		Status:          string(entry.Status),
		ErrorMessage:    entry.ErrorMessage,
		ExecutionTimeMS: entry.ExecutionTimeMS,
	}
	for _, sink := range r.sinks {
		sink.Publish(event)
	}
}

// WriteFailures 返回累计写入失败次数
func (r *Recorder) WriteFailures() int64 {
	return r.writeFailures.Load()
}

// QueryFilter 审计日志查询条件
type QueryFilter struct {
	UserID    string     `form:"user_id"`
	ToolName  string     `form:"tool_name"`
	Status    string     `form:"status"`
	Keyword   string     `form:"keyword"`
	StartTime *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	Order     string     `form:"order"` // asc | desc，默认 desc
	types.PaginationRequest
}

// Query 按条件分页查询审计日志
func (r *Recorder) Query(ctx context.Context, filter *QueryFilter) ([]*AuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&AuditLog{})
	query = applyFilter(query, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计审计日志失败: %w", err)
	}

	order := "timestamp DESC"
	if strings.EqualFold(filter.Order, "asc") {
		order = "timestamp ASC"
	}

	var logs []*AuditLog
	if err := query.Order(order).
		Offset(filter.GetOffset()).
		Limit(filter.GetPageSize()).
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询审计日志失败: %w", err)
	}
	return logs, total, nil
}

// GetByID 按 ID 查询单条审计日志
func (r *Recorder) GetByID(ctx context.Context, id string) (*AuditLog, error) {
	var entry AuditLog
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("审计日志不存在: %w", err)
	}
	return &entry, nil
}

// StatusCount 按状态统计
type StatusCount struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
}

// ToolCount 按工具统计
type ToolCount struct {
	ToolName string `json:"tool_name"`
	Count    int64  `json:"count"`
}

// Stats 审计统计结果
type Stats struct {
	Total        int64         `json:"total"`
	SuccessCount int64         `json:"success_count"`
	FailCount    int64         `json:"fail_count"`
	DeniedCount  int64         `json:"denied_count"`
	AvgTimeMS    float64       `json:"avg_time_ms"`
	ByTool       []ToolCount   `json:"by_tool"`
	ByStatus     []StatusCount `json:"by_status"`
}

// GetStats 按条件汇总审计统计
func (r *Recorder) GetStats(ctx context.Context, filter *QueryFilter) (*Stats, error) {
	base := applyFilter(r.db.WithContext(ctx).Model(&AuditLog{}), filter)

	stats := &Stats{}
	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("统计审计日志失败: %w", err)
	}

	var byStatus []StatusCount
	if err := base.Session(&gorm.Session{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("按状态统计失败: %w", err)
	}
	stats.ByStatus = byStatus
	for _, sc := range byStatus {
		switch sc.Status {
		case StatusSuccess:
			stats.SuccessCount = sc.Count
		case StatusFail:
			stats.FailCount = sc.Count
		case StatusDenied:
			stats.DeniedCount = sc.Count
		}
	}

	if err := base.Session(&gorm.Session{}).
		Select("tool_name, count(*) as count").
		Group("tool_name").
		Order("count DESC").
		Limit(20).
		Scan(&stats.ByTool).Error; err != nil {
		return nil, fmt.Errorf("按工具统计失败: %w", err)
	}

	var avg *float64
	if err := base.Session(&gorm.Session{}).
		Select("avg(execution_time_ms)").
		Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("统计平均耗时失败: %w", err)
	}
	if avg != nil {
		stats.AvgTimeMS = *avg
	}
	return stats, nil
}

// applyFilter 拼装查询条件
func applyFilter(query *gorm.DB, filter *QueryFilter) *gorm.DB {
	if filter == nil {
		return query
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.ToolName != "" {
		query = query.Where("tool_name = ?", filter.ToolName)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Keyword != "" {
		pattern := "%" + filter.Keyword + "%"
		query = query.Where("user_query LIKE ? OR error_message LIKE ?", pattern, pattern)
	}
	if filter.StartTime != nil {
		query = query.Where("timestamp >= ?", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		query = query.Where("timestamp <= ?", filter.EndTime.UTC())
	}
	return query
}
