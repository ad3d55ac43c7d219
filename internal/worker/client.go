package worker

import (
	"encoding/json"
	"fmt"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/config"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/hibiken/asynq"
)

// Client 任务投递客户端
type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// EnqueueExport 投递审计导出任务
func (c *Client) EnqueueExport(payload *tasks.ExportAuditLogsPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	info, err := c.client.Enqueue(
		asynq.NewTask(tasks.TypeExportAuditLogs, raw),
		asynq.Queue("audit"))
	if err != nil {
		return "", fmt.Errorf("投递导出任务失败: %w", err)
	}
	return info.ID, nil
}

// EnqueueConnectionTest 投递连接测试任务
func (c *Client) EnqueueConnectionTest(payload *tasks.TestConnectionPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	info, err := c.client.Enqueue(asynq.NewTask(tasks.TypeTestConnection, raw))
	if err != nil {
		return "", fmt.Errorf("投递连接测试任务失败: %w", err)
	}
	return info.ID, nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}
