package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 工具调用指标
var (
	// ToolCallTotal 工具调用总数（按工具和结果状态）
	ToolCallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_tool_call_total",
		Help: "MCP 工具调用总数",
	}, []string{"tool", "status"})

	// ToolCallDuration 工具调用耗时分布
	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_tool_call_duration_seconds",
		Help:    "MCP 工具调用耗时",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"tool"})

	// AuditWriteFailures 审计日志写入失败数
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_write_failures_total",
		Help: "审计日志写入失败总数",
	})

	// MaskingApplied 脱敏规则命中次数
	MaskingApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_masking_applied_total",
		Help: "脱敏规则命中总数",
	}, []string{"rule"})
)

// HTTP 指标
var (
	httpRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "HTTP 请求总数",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP 请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// GinMiddleware 采集 HTTP 请求指标
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
