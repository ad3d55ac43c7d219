package worker

import (
	"context"
	"fmt"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/config"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/connection"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/handlers"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	archiver *audit.Archiver,
	exporter *audit.Exporter,
	connections *connection.Service,
	manager *gateway.Manager,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"audit":   6, // 审计维护优先
				"default": 2,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	auditHandler := handlers.NewAuditHandler(archiver, exporter, logger)
	mux.HandleFunc(tasks.TypeArchiveAuditLogs, auditHandler.HandleArchive)
	mux.HandleFunc(tasks.TypeExportAuditLogs, auditHandler.HandleExport)

	connectionHandler := handlers.NewConnectionHandler(connections, manager, logger)
	mux.HandleFunc(tasks.TypeTestConnection, connectionHandler.HandleTestConnection)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
