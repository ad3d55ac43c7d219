package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// 导出单批次条数上限，避免一次性拉全表
const exportBatchSize = 1000

// Exporter 审计日志导出器
type Exporter struct {
	recorder *Recorder
}

// NewExporter 创建导出器
func NewExporter(recorder *Recorder) *Exporter {
	return &Exporter{recorder: recorder}
}

// Export 按条件导出审计日志到 writer
func (e *Exporter) Export(ctx context.Context, filter *QueryFilter, format ExportFormat, w io.Writer) (int, error) {
	switch format {
	case FormatCSV:
		return e.exportCSV(ctx, filter, w)
	case FormatJSON:
		return e.exportJSON(ctx, filter, w)
	default:
		return 0, fmt.Errorf("不支持的导出格式: %s", format)
	}
}

func (e *Exporter) exportCSV(ctx context.Context, filter *QueryFilter, w io.Writer) (int, error) {
	writer := csv.NewWriter(w)
	header := []string{
		"id", "timestamp", "user_id", "session_id", "user_query",
		"tool_name", "tool_params", "response", "status", "error_message", "execution_time_ms",
	}
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入 CSV 表头失败: %w", err)
	}

	count := 0
	err := e.forEachBatch(ctx, filter, func(logs []*AuditLog) error {
		for _, entry := range logs {
			record := []string{
				entry.ID,
				entry.Timestamp.UTC().Format(time.RFC3339),
				entry.UserID,
				entry.SessionID,
				entry.UserQuery,
				entry.ToolName,
				string(entry.ToolParams),
				string(entry.Response),
				string(entry.Status),
				entry.ErrorMessage,
				strconv.FormatInt(entry.ExecutionTimeMS, 10),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入 CSV 行失败: %w", err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	writer.Flush()
	return count, writer.Error()
}

func (e *Exporter) exportJSON(ctx context.Context, filter *QueryFilter, w io.Writer) (int, error) {
	if _, err := w.Write([]byte("[")); err != nil {
		return 0, err
	}
	encoder := json.NewEncoder(w)
	count := 0
	err := e.forEachBatch(ctx, filter, func(logs []*AuditLog) error {
		for _, entry := range logs {
			if count > 0 {
				if _, err := w.Write([]byte(",")); err != nil {
					return err
				}
			}
			if err := encoder.Encode(entry); err != nil {
				return fmt.Errorf("编码审计日志失败: %w", err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	_, err = w.Write([]byte("]"))
	return count, err
}

// forEachBatch 分批遍历符合条件的记录
func (e *Exporter) forEachBatch(ctx context.Context, filter *QueryFilter, fn func([]*AuditLog) error) error {
	page := 1
	for {
		batchFilter := *filter
		batchFilter.Page = page
		batchFilter.PageSize = exportBatchSize
		logs, _, err := e.recorder.Query(ctx, &batchFilter)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		if err := fn(logs); err != nil {
			return err
		}
		if len(logs) < batchFilter.GetPageSize() {
			return nil
		}
		page++
	}
}
