package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/api"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/config"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/connection"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/infra"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/permission"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("服务启动中", zap.String("env", env))

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db,
			&audit.AuditLog{},
			&audit.AuditLogArchive{},
			&permission.ToolPermission{},
			&connection.Connection{},
		); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	}

	// 4. 初始化 Redis（可选，失败时降级运行）
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis 不可用，限流与后台任务将被禁用", zap.Error(err))
		rdb = nil
	}
	defer infra.CloseRedis()

	// 5. 组装依赖
	container, err := api.BuildContainer(cfg, db, rdb)
	if err != nil {
		logger.Fatal("组装应用失败", zap.Error(err))
	}
	defer container.GatewayManager.Close()

	// 6. 启动后台 Worker 与定时调度（依赖 Redis）
	var (
		workerServer *worker.Server
		scheduler    *worker.Scheduler
	)
	if rdb != nil {
		workerServer = worker.NewServer(
			cfg.Redis,
			container.Archiver,
			container.Exporter,
			container.ConnectionService,
			container.GatewayManager,
			logger.Get(),
		)
		if err := workerServer.Start(); err != nil {
			logger.Fatal("启动 Worker 失败", zap.Error(err))
		}

		scheduler, err = worker.NewScheduler(cfg.Redis, cfg.Audit, logger.Get())
		if err != nil {
			logger.Fatal("初始化定时调度失败", zap.Error(err))
		}
		if err := scheduler.Start(); err != nil {
			logger.Fatal("启动定时调度失败", zap.Error(err))
		}
	}

	// 7. 启动 HTTP 服务
	router := api.SetupRouter(container)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务已启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务异常退出", zap.Error(err))
		}
	}()

	// 8. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("收到退出信号，开始关闭")

	if scheduler != nil {
		scheduler.Shutdown()
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	if container.WorkerClient != nil {
		_ = container.WorkerClient.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务关闭超时", zap.Error(err))
	}
	logger.Info("服务已退出")
}

// loadEnvFile 逐级向上查找 .env 并加载，不存在时静默跳过
func loadEnvFile() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 4; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
