package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"github.com/JOSSEP-ENG/ai-agent-logging/pkg/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupAuditDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AuditLog{}, &AuditLogArchive{}))
	return db
}

type captureSink struct {
	events []*types.AuditEvent
}

func (s *captureSink) Publish(event *types.AuditEvent) {
	s.events = append(s.events, event)
}

func TestRecorder_Record(t *testing.T) {
	db := setupAuditDB(t)
	recorder := NewRecorder(db, masking.New())
	ctx := context.Background()

	t.Run("写入记录并脱敏参数", func(t *testing.T) {
		id, err := recorder.Record(ctx, &types.AuditEvent{
			UserID:   "user-1",
			ToolName: "mysql.query",
			UserQuery: "김철수 고객 이메일 kim@company.com 조회",
			ToolParams: map[string]any{
				"sql":   "SELECT * FROM customers WHERE email = 'kim@company.com'",
				"phone": "010-1234-5678",
			},
			Response:        map[string]any{"rows": 1},
			Status:          string(StatusSuccess),
			ExecutionTimeMS: 42,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		entry, err := recorder.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, entry.Status)
		assert.Contains(t, entry.UserQuery, "k**@company.com")
		assert.NotContains(t, entry.UserQuery, "kim@company.com")
		assert.Contains(t, string(entry.ToolParams), "010-****-5678")
		assert.NotContains(t, string(entry.ToolParams), "010-1234-5678")
		assert.Equal(t, int64(42), entry.ExecutionTimeMS)
		assert.False(t, entry.Timestamp.IsZero())
	})

	t.Run("错误信息同样脱敏", func(t *testing.T) {
		id, err := recorder.Record(ctx, &types.AuditEvent{
			UserID:       "user-1",
			ToolName:     "mysql.query",
			Status:       string(StatusFail),
			ErrorMessage: "duplicate entry kim@company.com",
		})
		require.NoError(t, err)

		entry, err := recorder.GetByID(ctx, id)
		require.NoError(t, err)
		assert.NotContains(t, entry.ErrorMessage, "kim@company.com")
	})

	t.Run("旁路消费者收到脱敏后的事件", func(t *testing.T) {
		sink := &captureSink{}
		recorder.AddSink(sink)

		_, err := recorder.Record(ctx, &types.AuditEvent{
			UserID:    "user-2",
			ToolName:  "http.get",
			UserQuery: "연락처 010-9876-5432",
			Status:    string(StatusSuccess),
		})
		require.NoError(t, err)
		require.Len(t, sink.events, 1)
		assert.Equal(t, "010-****-5432", strings.TrimPrefix(sink.events[0].UserQuery, "연락처 "))
	})
}

func seedLogs(t *testing.T, recorder *Recorder) {
	ctx := context.Background()
	fixtures := []struct {
		user   string
		tool   string
		status Status
		ms     int64
	}{
		{"alice", "mysql.query", StatusSuccess, 10},
		{"alice", "mysql.query", StatusFail, 20},
		{"alice", "http.get", StatusSuccess, 30},
		{"bob", "mysql.query", StatusDenied, 0},
		{"bob", "slack.send", StatusSuccess, 40},
	}
	for _, f := range fixtures {
		_, err := recorder.Record(ctx, &types.AuditEvent{
			UserID:          f.user,
			ToolName:        f.tool,
			Status:          string(f.status),
			ExecutionTimeMS: f.ms,
		})
		require.NoError(t, err)
	}
}

func TestRecorder_Query(t *testing.T) {
	db := setupAuditDB(t)
	recorder := NewRecorder(db, masking.New())
	seedLogs(t, recorder)
	ctx := context.Background()

	t.Run("按用户过滤", func(t *testing.T) {
		logs, total, err := recorder.Query(ctx, &QueryFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, logs, 3)
	})

	t.Run("按工具和状态过滤", func(t *testing.T) {
		logs, total, err := recorder.Query(ctx, &QueryFilter{
			ToolName: "mysql.query",
			Status:   string(StatusDenied),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "bob", logs[0].UserID)
	})

	t.Run("默认按时间倒序", func(t *testing.T) {
		logs, _, err := recorder.Query(ctx, &QueryFilter{})
		require.NoError(t, err)
		require.True(t, len(logs) >= 2)
		for i := 1; i < len(logs); i++ {
			assert.False(t, logs[i-1].Timestamp.Before(logs[i].Timestamp))
		}
	})

	t.Run("分页", func(t *testing.T) {
		filter := &QueryFilter{}
		filter.Page = 1
		filter.PageSize = 2
		logs, total, err := recorder.Query(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, logs, 2)
	})
}

func TestRecorder_GetStats(t *testing.T) {
	db := setupAuditDB(t)
	recorder := NewRecorder(db, masking.New())
	seedLogs(t, recorder)

	stats, err := recorder.GetStats(context.Background(), &QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(3), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.FailCount)
	assert.Equal(t, int64(1), stats.DeniedCount)
	assert.InDelta(t, 20.0, stats.AvgTimeMS, 0.01)

	require.NotEmpty(t, stats.ByTool)
	assert.Equal(t, "mysql.query", stats.ByTool[0].ToolName)
	assert.Equal(t, int64(3), stats.ByTool[0].Count)
}

func TestExporter_Export(t *testing.T) {
	db := setupAuditDB(t)
	recorder := NewRecorder(db, masking.New())
	seedLogs(t, recorder)
	exporter := NewExporter(recorder)
	ctx := context.Background()

	t.Run("CSV 导出", func(t *testing.T) {
		var buf bytes.Buffer
		count, err := exporter.Export(ctx, &QueryFilter{UserID: "alice"}, FormatCSV, &buf)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Len(t, lines, 4) // 表头 + 3 行
		assert.Contains(t, lines[0], "tool_name")
	})

	t.Run("JSON 导出", func(t *testing.T) {
		var buf bytes.Buffer
		count, err := exporter.Export(ctx, &QueryFilter{}, FormatJSON, &buf)
		require.NoError(t, err)
		assert.Equal(t, 5, count)

		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Len(t, decoded, 5)
	})

	t.Run("不支持的格式", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := exporter.Export(ctx, &QueryFilter{}, ExportFormat("xml"), &buf)
		assert.Error(t, err)
	})
}

func TestArchiver_ArchiveExpired(t *testing.T) {
	db := setupAuditDB(t)
	recorder := NewRecorder(db, masking.New())
	ctx := context.Background()

	// 两条过期、一条在保留期内
	old := time.Now().UTC().AddDate(0, 0, -120)
	for i := 0; i < 2; i++ {
		entry := &AuditLog{
			UserID:   "alice",
			ToolName: "mysql.query",
			Status:   StatusSuccess,
		}
		require.NoError(t, db.Create(entry).Error)
		require.NoError(t, db.Model(entry).Update("timestamp", old.Add(time.Duration(i)*time.Minute)).Error)
	}
	_, err := recorder.Record(ctx, &types.AuditEvent{
		UserID: "alice", ToolName: "http.get", Status: string(StatusSuccess),
	})
	require.NoError(t, err)

	archiver := NewArchiver(db, 90)
	archived, err := archiver.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), archived)

	var remaining, inArchive int64
	require.NoError(t, db.Model(&AuditLog{}).Count(&remaining).Error)
	require.NoError(t, db.Model(&AuditLogArchive{}).Count(&inArchive).Error)
	assert.Equal(t, int64(1), remaining)
	assert.Equal(t, int64(2), inArchive)
}
