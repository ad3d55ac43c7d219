package worker

import (
	"fmt"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/config"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Scheduler 周期任务调度器，目前只挂审计归档
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

func NewScheduler(redisCfg config.RedisConfig, auditCfg config.AuditConfig, logger *zap.Logger) (*Scheduler, error) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		&asynq.SchedulerOpts{},
	)

	cron := auditCfg.ArchiveCron
	if cron == "" {
		cron = "0 3 * * *" // 每天凌晨三点
	}
	entryID, err := scheduler.Register(cron,
		asynq.NewTask(tasks.TypeArchiveAuditLogs, nil),
		asynq.Queue("audit"))
	if err != nil {
		return nil, fmt.Errorf("注册归档定时任务失败: %w", err)
	}
	logger.Info("审计归档定时任务已注册",
		zap.String("cron", cron), zap.String("entry_id", entryID))

	return &Scheduler{scheduler: scheduler, logger: logger}, nil
}

// Start 非阻塞启动
func (s *Scheduler) Start() error {
	s.logger.Info("定时调度器启动中...")
	return s.scheduler.Start()
}

// Shutdown 停止调度器
func (s *Scheduler) Shutdown() {
	s.logger.Info("定时调度器停止中...")
	s.scheduler.Shutdown()
}
