package gateway

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/metrics"
	"github.com/JOSSEP-ENG/ai-agent-logging/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("gateway")

// ReasonUnknownTool 未知工具拒绝响应的固定错误前缀，调用方可按此匹配
const ReasonUnknownTool = "unknown tool"

// PermissionChecker 调用前的权限判定
type PermissionChecker interface {
	Check(ctx context.Context, userID, connectionID, toolName string, params map[string]any) (allowed bool, reason string, err error)
}

// allowAllChecker 未配置权限服务时的默认实现
type allowAllChecker struct{}

func (allowAllChecker) Check(context.Context, string, string, string, map[string]any) (bool, string, error) {
	return true, "", nil
}

// Dispatcher 网关调度器
//
// 一次 Dispatch 的完整链路：解析工具 → 权限判定 → 带超时执行 →
// 脱敏 → 同步写审计。无论成功、失败还是被拒绝，都恰好产生一条
// 审计记录；审计写入失败只计数，不改变调用结果。
type Dispatcher struct {
	registry   *Registry
	recorder   *audit.Recorder
	masker     *masking.Masker
	permission PermissionChecker
	timeout    time.Duration
}

// NewDispatcher 创建调度器。permission 为 nil 时默认放行。
func NewDispatcher(registry *Registry, recorder *audit.Recorder, masker *masking.Masker, permission PermissionChecker, timeout time.Duration) *Dispatcher {
	if permission == nil {
		permission = allowAllChecker{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:   registry,
		recorder:   recorder,
		masker:     masker,
		permission: permission,
		timeout:    timeout,
	}
}

// Dispatch 执行一次受审计的工具调用
func (d *Dispatcher) Dispatch(ctx context.Context, req *ToolCallRequest) *ToolCallResponse {
	ctx, span := tracer.Start(ctx, "gateway.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", req.ToolName),
		attribute.String("user.id", req.UserID),
	)

	start := time.Now()

	connector, localName, err := d.registry.Resolve(req.ToolName)
	if err != nil {
		// 未知工具按拒绝处理并审计
		return d.finish(ctx, req, start, audit.StatusDenied, nil,
			fmt.Sprintf("%s: %s", ReasonUnknownTool, req.ToolName))
	}

	allowed, reason, err := d.permission.Check(ctx, req.UserID, connector.ConnectionID(), req.ToolName, req.Params)
	if err != nil {
		logger.Error("权限判定失败",
			zap.String("tool_name", req.ToolName),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return d.finish(ctx, req, start, audit.StatusFail, nil,
			"权限判定失败: "+err.Error())
	}
	if !allowed {
		return d.finish(ctx, req, start, audit.StatusDenied, nil, reason)
	}

	result, callErr := d.callWithRecovery(ctx, connector, localName, req.Params)
	switch {
	case callErr != nil:
		return d.finish(ctx, req, start, audit.StatusFail, nil, callErr.Error())
	case !result.Success:
		return d.finish(ctx, req, start, audit.StatusFail, result.Data, result.Error)
	default:
		return d.finish(ctx, req, start, audit.StatusSuccess, result.Data, "")
	}
}

// callWithRecovery 带超时和 panic 恢复地执行工具
func (d *Dispatcher) callWithRecovery(ctx context.Context, connector Connector, name string, params map[string]any) (result *CallResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("工具执行发生 panic",
				zap.String("tool_name", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			result = nil
			err = fmt.Errorf("工具执行异常终止: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err = connector.CallTool(callCtx, name, params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("工具执行超时（%s）", d.timeout)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("连接器返回空结果")
	}
	return result, nil
}

// finish 统一收尾：脱敏、写审计、更新指标、组装响应
func (d *Dispatcher) finish(ctx context.Context, req *ToolCallRequest, start time.Time, status audit.Status, data any, errMsg string) *ToolCallResponse {
	elapsed := time.Since(start)
	elapsedMS := elapsed.Milliseconds()

	maskedResult := d.masker.MaskPayload(data)
	maskedErr := d.masker.MaskString(errMsg)

	auditID, err := d.recorder.Record(ctx, &types.AuditEvent{
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		UserQuery:       req.UserQuery,
		ToolName:        req.ToolName,
		ToolParams:      req.Params,
		Response:        data,
		Status:          string(status),
		ErrorMessage:    errMsg,
		ExecutionTimeMS: elapsedMS,
	})
	if err != nil {
		metrics.AuditWriteFailures.Inc()
	}

	metrics.ToolCallTotal.WithLabelValues(req.ToolName, string(status)).Inc()
	metrics.ToolCallDuration.WithLabelValues(req.ToolName).Observe(elapsed.Seconds())

	logger.WithContext(ctx).Info("工具调用完成",
		zap.String("tool_name", req.ToolName),
		zap.String("user_id", req.UserID),
		zap.String("status", string(status)),
		zap.Int64("elapsed_ms", elapsedMS))

	return &ToolCallResponse{
		AuditID:         auditID,
		ToolName:        req.ToolName,
		Success:         status == audit.StatusSuccess,
		Status:          string(status),
		Result:          maskedResult,
		Error:           maskedErr,
		ExecutionTimeMS: elapsedMS,
	}
}

// ListTools 列出网关当前可用的全部工具
func (d *Dispatcher) ListTools() []ToolDefinition {
	return d.registry.ListTools()
}
