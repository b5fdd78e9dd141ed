package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rarurei/Raruin/internal/backup"
	"github.com/Rarurei/Raruin/internal/config"
	"github.com/Rarurei/Raruin/internal/infrastructure/mq"
	"github.com/Rarurei/Raruin/internal/service"

	"go.uber.org/zap"
)

// BackupJob 每天 backup.hour 点导出一次账本快照
//
// publisher 不为 nil 时发到 kafka.topic.backup，dir 不为空时写入文件，两者可同时开启
type BackupJob struct {
	ledger    *service.LedgerService
	publisher mq.Publisher
	topic     string
	dir       string
	hour      int
	logger    *zap.Logger
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewBackupJob(ledger *service.LedgerService, publisher mq.Publisher, cfg *config.Config, logger *zap.Logger) *BackupJob {
	return &BackupJob{
		ledger:    ledger,
		publisher: publisher,
		topic:     cfg.Kafka.Topic.Backup,
		dir:       cfg.Backup.Dir,
		hour:      cfg.Backup.Hour,
		logger:    logger.Named("backup"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

func (j *BackupJob) Start(ctx context.Context) {
	j.logger.Info("每日备份任务启动", zap.Int("hour", j.hour))

	for {
		wait := nextRun(j.now(), j.hour).Sub(j.now())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			timer.Stop()
			j.logger.Info("任务停止")
			return
		case <-timer.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("备份失败", zap.Error(err))
			}
		}
	}
}

func (j *BackupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// nextRun 严格晚于 now 的下一个 hour:00
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce 导出并投递一次，返回写入的文件路径（未配置目录时为空）
func (j *BackupJob) RunOnce(ctx context.Context) (string, error) {
	snap, err := j.ledger.Serialize(ctx)
	if err != nil {
		return "", err
	}
	data, err := backup.Encode(snap)
	if err != nil {
		return "", err
	}

	key := snap.Timestamp.Format("20060102-150405")
	if j.publisher != nil {
		if err := j.publisher.Publish(ctx, j.topic, key, data); err != nil {
			return "", err
		}
	}

	var path string
	if j.dir != "" {
		if err := os.MkdirAll(j.dir, 0o755); err != nil {
			return "", fmt.Errorf("创建备份目录失败: %w", err)
		}
		path = filepath.Join(j.dir, "raruin-backup-"+key+".json")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return "", fmt.Errorf("写入备份文件失败: %w", err)
		}
	}

	j.logger.Info("备份完成",
		zap.Int("accounts", len(snap.Accounts)),
		zap.Int("products", len(snap.Products)),
		zap.String("path", path),
	)
	return path, nil
}
