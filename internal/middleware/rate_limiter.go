package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimit 基于 Redis 的接口级限流（固定窗口）。
// rdb 为 nil 时直接放行。
func RateLimit(rdb *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}

		identity := CurrentUserID(c)
		if identity == "" {
			identity = c.ClientIP()
		}
		key := fmt.Sprintf("gateway:httplimit:%s:%s:%d",
			identity, c.FullPath(), time.Now().Unix()/int64(window.Seconds()))

		count, err := rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			// Redis 不可用时放行
			logger.Warn("限流计数失败", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(c.Request.Context(), key, window)
		}
		if count > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
