package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupGatewayDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:gateway_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&audit.AuditLog{}))
	return db
}

// fakeConnector 测试用连接器
type fakeConnector struct {
	connectionID string
	callFn       func(ctx context.Context, name string, params map[string]any) (*CallResult, error)
}

func (f *fakeConnector) Type() string         { return "fake" }
func (f *fakeConnector) ConnectionID() string { return f.connectionID }
func (f *fakeConnector) Close() error         { return nil }

func (f *fakeConnector) ListTools() []ToolDefinition {
	return []ToolDefinition{
		{Name: "echo", Description: "回显参数", Parameters: map[string]any{"type": "object"}},
		{Name: "boom", Description: "触发 panic", Parameters: map[string]any{"type": "object"}},
		{Name: "slow", Description: "慢工具", Parameters: map[string]any{"type": "object"}},
	}
}

func (f *fakeConnector) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	if f.callFn != nil {
		return f.callFn(ctx, name, params)
	}
	switch name {
	case "echo":
		return &CallResult{Success: true, Data: params}, nil
	case "boom":
		panic("连接器内部错误")
	case "slow":
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &CallResult{Success: true}, nil
		}
	}
	return nil, ErrToolNotFound
}

// denyChecker 固定拒绝的权限判定
type denyChecker struct{ reason string }

func (d denyChecker) Check(context.Context, string, string, string, map[string]any) (bool, string, error) {
	return false, d.reason, nil
}

func newTestDispatcher(t *testing.T, db *gorm.DB, checker PermissionChecker, timeout time.Duration) (*Dispatcher, *audit.Recorder) {
	registry := NewRegistry()
	registry.Register(&fakeConnector{connectionID: "conn-1"})
	recorder := audit.NewRecorder(db, masking.New())
	return NewDispatcher(registry, recorder, masking.New(), checker, timeout), recorder
}

func lastAuditLog(t *testing.T, recorder *audit.Recorder) *audit.AuditLog {
	logs, _, err := recorder.Query(context.Background(), &audit.QueryFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	return logs[0]
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("成功调用写一条 success 审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, recorder := newTestDispatcher(t, db, nil, time.Second)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{
			UserID:   "alice",
			ToolName: "fake.echo",
			Params:   map[string]any{"message": "연락처 010-1234-5678"},
		})
		assert.True(t, resp.Success)
		assert.Equal(t, string(audit.StatusSuccess), resp.Status)
		assert.NotEmpty(t, resp.AuditID)

		entry := lastAuditLog(t, recorder)
		assert.Equal(t, audit.StatusSuccess, entry.Status)
		assert.Equal(t, "fake.echo", entry.ToolName)
		assert.Contains(t, string(entry.ToolParams), "010-****-5678")
	})

	t.Run("响应脱敏", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, _ := newTestDispatcher(t, db, nil, time.Second)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{
			UserID:   "alice",
			ToolName: "fake.echo",
			Params:   map[string]any{"email": "kim@company.com"},
		})
		result, ok := resp.Result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "k**@company.com", result["email"])
	})

	t.Run("未知工具按 denied 审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, recorder := newTestDispatcher(t, db, nil, time.Second)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{
			UserID:   "alice",
			ToolName: "nosuch.tool",
		})
		assert.False(t, resp.Success)
		assert.Equal(t, string(audit.StatusDenied), resp.Status)
		assert.Contains(t, resp.Error, ReasonUnknownTool)
		assert.Contains(t, resp.Error, "nosuch.tool")

		entry := lastAuditLog(t, recorder)
		assert.Equal(t, audit.StatusDenied, entry.Status)
		assert.Equal(t, "nosuch.tool", entry.ToolName)
	})

	t.Run("权限拒绝按 denied 审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, recorder := newTestDispatcher(t, db, denyChecker{reason: "该工具已被禁用"}, time.Second)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{
			UserID:   "alice",
			ToolName: "fake.echo",
		})
		assert.False(t, resp.Success)
		assert.Equal(t, string(audit.StatusDenied), resp.Status)
		assert.Equal(t, "该工具已被禁用", resp.Error)
		assert.Equal(t, audit.StatusDenied, lastAuditLog(t, recorder).Status)
	})

	t.Run("panic 恢复并按 fail 审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, recorder := newTestDispatcher(t, db, nil, time.Second)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{
			UserID:   "alice",
			ToolName: "fake.boom",
		})
		assert.False(t, resp.Success)
		assert.Equal(t, string(audit.StatusFail), resp.Status)
		assert.Contains(t, resp.Error, "异常终止")
		assert.Equal(t, audit.StatusFail, lastAuditLog(t, recorder).Status)
	})

	t.Run("超时按 fail 审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, recorder := newTestDispatcher(t, db, nil, 50*time.Millisecond)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{
			UserID:   "alice",
			ToolName: "fake.slow",
		})
		assert.Equal(t, string(audit.StatusFail), resp.Status)
		assert.Contains(t, resp.Error, "超时")
		assert.Equal(t, audit.StatusFail, lastAuditLog(t, recorder).Status)
	})

	t.Run("业务失败按 fail 审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		registry := NewRegistry()
		registry.Register(&fakeConnector{
			connectionID: "conn-1",
			callFn: func(context.Context, string, map[string]any) (*CallResult, error) {
				return &CallResult{Success: false, Error: "目标系统返回 500"}, nil
			},
		})
		recorder := audit.NewRecorder(db, masking.New())
		dispatcher := NewDispatcher(registry, recorder, masking.New(), nil, time.Second)

		resp := dispatcher.Dispatch(ctx, &ToolCallRequest{UserID: "alice", ToolName: "fake.echo"})
		assert.False(t, resp.Success)
		assert.Equal(t, string(audit.StatusFail), resp.Status)
		assert.Equal(t, "目标系统返回 500", resp.Error)
		assert.Equal(t, audit.StatusFail, lastAuditLog(t, recorder).Status)
	})

	t.Run("每次调用恰好一条审计", func(t *testing.T) {
		db := setupGatewayDB(t)
		dispatcher, recorder := newTestDispatcher(t, db, nil, time.Second)

		dispatcher.Dispatch(ctx, &ToolCallRequest{UserID: "alice", ToolName: "fake.echo"})
		dispatcher.Dispatch(ctx, &ToolCallRequest{UserID: "alice", ToolName: "nosuch.tool"})
		dispatcher.Dispatch(ctx, &ToolCallRequest{UserID: "alice", ToolName: "fake.boom"})

		_, total, err := recorder.Query(ctx, &audit.QueryFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})
}

func TestDispatcher_PermissionError(t *testing.T) {
	db := setupGatewayDB(t)
	registry := NewRegistry()
	registry.Register(&fakeConnector{connectionID: "conn-1"})
	recorder := audit.NewRecorder(db, masking.New())
	dispatcher := NewDispatcher(registry, recorder, masking.New(),
		errChecker{}, time.Second)

	resp := dispatcher.Dispatch(context.Background(), &ToolCallRequest{
		UserID: "alice", ToolName: "fake.echo",
	})
	assert.Equal(t, string(audit.StatusFail), resp.Status)
}

type errChecker struct{}

func (errChecker) Check(context.Context, string, string, string, map[string]any) (bool, string, error) {
	return false, "", errors.New("权限服务不可用")
}
