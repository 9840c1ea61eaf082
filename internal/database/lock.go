package database

import (
	"os"
	"time"

	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/logger"
	"go.uber.org/zap"
)

const (
	lockRetryInterval = time.Second
	lockAttempts      = 30
	// lockStaleAfter 超过该时长的锁文件视为崩溃进程遗留
	lockStaleAfter = 5 * time.Minute
)

// migrationLock 基于独占创建文件的跨进程迁移锁，只用于 sqlite 文件库。
// 同一台主机上可能运行多个 hostbridge 实例。
type migrationLock struct {
	path     string
	file     *os.File
	attempts int
	interval time.Duration
}

func newMigrationLock(dbPath string) *migrationLock {
	return &migrationLock{
		path:     dbPath + ".migration.lock",
		attempts: lockAttempts,
		interval: lockRetryInterval,
	}
}

// acquire 获取锁，等待超过重试次数后失败
func (l *migrationLock) acquire() error {
	for i := 0; i < l.attempts; i++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			l.file = f
			logger.Debug("获取迁移锁成功", zap.String("lock", l.path))
			return nil
		}

		if l.removeIfStale() {
			continue
		}

		logger.Debug("等待迁移锁", zap.String("lock", l.path), zap.Int("attempt", i+1))
		time.Sleep(l.interval)
	}
	return errors.Newf(errors.ErrTimeout, "迁移锁 %s 被占用", l.path)
}

func (l *migrationLock) removeIfStale() bool {
	info, err := os.Stat(l.path)
	if err != nil || time.Since(info.ModTime()) <= lockStaleAfter {
		return false
	}
	logger.Warn("删除过期的迁移锁", zap.String("lock", l.path), zap.Time("mod_time", info.ModTime()))
	return os.Remove(l.path) == nil
}

// release 释放锁
func (l *migrationLock) release() {
	if l.file == nil {
		return
	}
	l.file.Close()
	os.Remove(l.path)
	l.file = nil
	logger.Debug("释放迁移锁", zap.String("lock", l.path))
}

// sqliteFilePath 当前 sqlite 数据库的文件路径，内存库和其他驱动返回空
func sqliteFilePath() string {
	if DB == nil || DB.Dialector.Name() != "sqlite" {
		return ""
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return ""
	}

	var (
		seq        int
		name, file string
	)
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}
