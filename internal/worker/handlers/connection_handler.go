package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/connection"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type ConnectionHandler struct {
	connections *connection.Service
	manager     *gateway.Manager
	logger      *zap.Logger
}

func NewConnectionHandler(connections *connection.Service, manager *gateway.Manager, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		manager:     manager,
		logger:      logger,
	}
}

// HandleTestConnection 后台执行连通性测试并回写结果
func (h *ConnectionHandler) HandleTestConnection(ctx context.Context, t *asynq.Task) error {
	var p tasks.TestConnectionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	testErr := h.manager.TestConnection(ctx, p.OwnerID, p.ConnectionID)
	if err := h.connections.MarkTested(ctx, p.ConnectionID, testErr == nil); err != nil {
		h.logger.Error("回写连接测试结果失败",
			zap.String("connection_id", p.ConnectionID), zap.Error(err))
		return err
	}
	if testErr != nil {
		h.logger.Warn("连接测试未通过",
			zap.String("connection_id", p.ConnectionID), zap.Error(testErr))
	} else {
		h.logger.Info("连接测试通过", zap.String("connection_id", p.ConnectionID))
	}
	return nil
}
