package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 归档单批条数，控制单事务大小
const archiveBatchSize = 500

// Archiver 审计日志归档器
//
// 把超过保留期的记录迁移到归档表后从主表删除，
// 由后台定时任务驱动。
type Archiver struct {
	db            *gorm.DB
	retentionDays int
}

// NewArchiver 创建归档器
func NewArchiver(db *gorm.DB, retentionDays int) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{db: db, retentionDays: retentionDays}
}

// ArchiveExpired 归档保留期外的记录，返回迁移条数
func (a *Archiver) ArchiveExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	var archived int64

	for {
		var batch []*AuditLog
		if err := a.db.WithContext(ctx).
			Where("timestamp < ?", cutoff).
			Order("timestamp ASC").
			Limit(archiveBatchSize).
			Find(&batch).Error; err != nil {
			return archived, fmt.Errorf("查询过期审计日志失败: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		now := time.Now().UTC()
		records := make([]*AuditLogArchive, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, entry := range batch {
			records = append(records, &AuditLogArchive{
				AuditLog:   *entry,
				ArchivedAt: now,
			})
			ids = append(ids, entry.ID)
		}

		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&records).Error; err != nil {
				return fmt.Errorf("写入归档表失败: %w", err)
			}
			if err := tx.Where("id IN ?", ids).Delete(&AuditLog{}).Error; err != nil {
				return fmt.Errorf("删除主表记录失败: %w", err)
			}
			return nil
		})
		if err != nil {
			return archived, err
		}
		archived += int64(len(batch))
	}

	if archived > 0 {
		logger.Info("审计日志归档完成",
			zap.Int64("archived", archived),
			zap.Time("cutoff", cutoff))
	}
	return archived, nil
}
