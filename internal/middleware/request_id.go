package middleware

import (
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 请求 ID 透传头
const RequestIDHeader = "X-Request-ID"

// RequestID 为每个请求生成或透传请求 ID，并注入日志上下文
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
