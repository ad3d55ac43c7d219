package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type AuditHandler struct {
	archiver *audit.Archiver
	exporter *audit.Exporter
	logger   *zap.Logger
}

func NewAuditHandler(archiver *audit.Archiver, exporter *audit.Exporter, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		archiver: archiver,
		exporter: exporter,
		logger:   logger,
	}
}

// HandleArchive 归档保留期外的审计日志
func (h *AuditHandler) HandleArchive(ctx context.Context, t *asynq.Task) error {
	archived, err := h.archiver.ArchiveExpired(ctx)
	if err != nil {
		h.logger.Error("审计日志归档失败", zap.Error(err))
		return err
	}
	h.logger.Info("审计日志归档任务完成", zap.Int64("archived", archived))
	return nil
}

// HandleExport 把审计日志导出到文件
func (h *AuditHandler) HandleExport(ctx context.Context, t *asynq.Task) error {
	var p tasks.ExportAuditLogsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	filter := &audit.QueryFilter{
		UserID:   p.UserID,
		ToolName: p.ToolName,
		Status:   p.Status,
	}
	if p.StartTime != "" {
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil {
			return fmt.Errorf("start_time 格式无效: %w", err)
		}
		filter.StartTime = &start
	}
	if p.EndTime != "" {
		end, err := time.Parse(time.RFC3339, p.EndTime)
		if err != nil {
			return fmt.Errorf("end_time 格式无效: %w", err)
		}
		filter.EndTime = &end
	}

	if err := os.MkdirAll(filepath.Dir(p.OutputPath), 0o750); err != nil {
		return fmt.Errorf("创建导出目录失败: %w", err)
	}
	file, err := os.Create(p.OutputPath)
	if err != nil {
		return fmt.Errorf("创建导出文件失败: %w", err)
	}
	defer file.Close()

	count, err := h.exporter.Export(ctx, filter, audit.ExportFormat(p.Format), file)
	if err != nil {
		h.logger.Error("审计日志导出失败",
			zap.String("output", p.OutputPath), zap.Error(err))
		return err
	}
	h.logger.Info("审计日志导出完成",
		zap.String("output", p.OutputPath), zap.Int("count", count))
	return nil
}
