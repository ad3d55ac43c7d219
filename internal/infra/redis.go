package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/config"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var globalRedis *redis.Client

// InitRedis 初始化 Redis 连接（单节点）
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接测试失败: %w", err)
	}

	logger.Info("Redis 初始化成功",
		zap.String("addr", cfg.Addr()),
		zap.Int("db", cfg.DB),
	)

	globalRedis = rdb
	return rdb, nil
}

// GetRedis 获取全局 Redis 客户端
func GetRedis() *redis.Client {
	return globalRedis
}

// CloseRedis 关闭 Redis 连接
func CloseRedis() error {
	if globalRedis != nil {
		return globalRedis.Close()
	}
	return nil
}
