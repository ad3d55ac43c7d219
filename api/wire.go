package api

import (
	"context"
	"time"

	auditHandlers "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/audit"
	chatHandlers "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/chat"
	connectionHandlers "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/connections"
	gatewayHandlers "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/gateway"
	permissionHandlers "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/permissions"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/agent"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/config"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/connection"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/metrics"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/middleware"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/notification"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/permission"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// permissionAdapter 把权限服务适配成网关的判定接口
type permissionAdapter struct {
	service *permission.Service
}

func (a *permissionAdapter) Check(ctx context.Context, userID, connectionID, toolName string, params map[string]any) (bool, string, error) {
	decision, err := a.service.Check(ctx, userID, connectionID, toolName, params)
	if err != nil {
		return false, "", err
	}
	return decision.Allowed, decision.Reason, nil
}

// AppContainer 应用依赖容器
type AppContainer struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Masker            *masking.Masker
	Recorder          *audit.Recorder
	Archiver          *audit.Archiver
	Exporter          *audit.Exporter
	PermissionService *permission.Service
	ConnectionService *connection.Service
	GatewayManager    *gateway.Manager
	Agent             *agent.Agent
	AuditFeed         *notification.AuditFeedHub
	WorkerClient      *worker.Client

	GatewayHandler    *gatewayHandlers.GatewayHandler
	AuditHandler      *auditHandlers.AuditHandler
	PermissionHandler *permissionHandlers.PermissionHandler
	ConnectionHandler *connectionHandlers.ConnectionHandler
	ChatHandler       *chatHandlers.ChatHandler
}

// BuildContainer 组装全部服务与处理器
func BuildContainer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*AppContainer, error) {
	c := &AppContainer{Config: cfg, DB: db, Redis: rdb}

	// 脱敏引擎，可叠加自定义规则
	c.Masker = masking.New()
	if cfg.Gateway.MaskingRulesPath != "" {
		if err := c.Masker.LoadRuleFile(cfg.Gateway.MaskingRulesPath); err != nil {
			logger.Warn("自定义脱敏规则加载失败，仅使用内置规则", zap.Error(err))
		}
	}

	// 审计
	c.Recorder = audit.NewRecorder(db, c.Masker)
	c.Archiver = audit.NewArchiver(db, cfg.Audit.RetentionDays)
	c.Exporter = audit.NewExporter(c.Recorder)
	c.AuditFeed = notification.NewAuditFeedHub()
	c.Recorder.AddSink(c.AuditFeed)

	// 权限与连接
	c.PermissionService = permission.NewService(db, rdb)
	c.ConnectionService = connection.NewService(db)

	// 网关
	c.GatewayManager = gateway.NewManager(
		c.ConnectionService,
		c.Recorder,
		c.Masker,
		&permissionAdapter{service: c.PermissionService},
		time.Duration(cfg.Gateway.DispatchTimeout)*time.Second,
	)

	// LLM 代理（未配置 API Key 时不启用）
	if cfg.OpenAI.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			clientCfg.BaseURL = cfg.OpenAI.BaseURL
		}
		c.Agent = agent.NewAgent(openai.NewClientWithConfig(clientCfg), cfg.OpenAI.Model)
	}

	// 后台任务投递
	if rdb != nil {
		c.WorkerClient = worker.NewClient(cfg.Redis)
	}

	c.GatewayHandler = gatewayHandlers.NewGatewayHandler(c.GatewayManager)
	c.AuditHandler = auditHandlers.NewAuditHandler(c.Recorder, c.WorkerClient, cfg.Audit.ExportDir)
	c.PermissionHandler = permissionHandlers.NewPermissionHandler(c.PermissionService)
	c.ConnectionHandler = connectionHandlers.NewConnectionHandler(c.ConnectionService, c.GatewayManager, c.WorkerClient)
	c.ChatHandler = chatHandlers.NewChatHandler(c.Agent, c.GatewayManager)
	return c, nil
}

// SetupRouter 注册全部路由
func SetupRouter(c *AppContainer) *gin.Engine {
	gin.SetMode(c.Config.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(metrics.GinMiddleware())

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	secret := c.Config.Auth.JWTSecret
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(secret))
	api.Use(middleware.RateLimit(c.Redis, 120, time.Minute))

	// 网关
	api.POST("/gateway/call", c.GatewayHandler.CallTool)
	api.GET("/gateway/tools", c.GatewayHandler.ListTools)

	// 代理对话
	api.POST("/chat", c.ChatHandler.Chat)

	// 审计
	api.GET("/audit/logs", c.AuditHandler.QueryLogs)
	api.GET("/audit/logs/:id", c.AuditHandler.GetLog)
	api.GET("/audit/stats", c.AuditHandler.GetStats)
	api.POST("/audit/export", c.AuditHandler.Export)
	api.GET("/audit/feed", func(ctx *gin.Context) {
		c.AuditFeed.HandleWS(ctx,
			middleware.CurrentUserID(ctx),
			ctx.GetString(middleware.ContextKeyRole) == "admin")
	})

	// 连接管理
	api.POST("/connections", c.ConnectionHandler.Create)
	api.GET("/connections", c.ConnectionHandler.List)
	api.GET("/connections/:id", c.ConnectionHandler.Get)
	api.PUT("/connections/:id", c.ConnectionHandler.Update)
	api.DELETE("/connections/:id", c.ConnectionHandler.Delete)
	api.POST("/connections/:id/test", c.ConnectionHandler.Test)

	// 权限管理（仅管理员）
	admin := api.Group("/permissions")
	admin.Use(middleware.RequireRole("admin"))
	admin.POST("", c.PermissionHandler.Grant)
	admin.POST("/bulk", c.PermissionHandler.BulkGrant)
	admin.GET("", c.PermissionHandler.List)
	admin.DELETE("/:id", c.PermissionHandler.Revoke)

	return router
}
