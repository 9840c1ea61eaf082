package database

import (
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/models"
	"go.uber.org/zap"
)

// migrationModels 需要迁移的模型
var migrationModels = []interface{}{
	&models.SerialLog{},
	&models.DeviceState{},
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}

	// 多个进程共用一个 sqlite 文件时串行迁移
	if dbPath := sqliteFilePath(); dbPath != "" {
		lock := newMigrationLock(dbPath)
		if err := lock.acquire(); err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return errors.Wrap(err, errors.ErrDatabaseQuery, "获取迁移锁失败")
		}
		defer lock.release()
	}

	if err := DB.AutoMigrate(migrationModels...); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseQuery, "迁移表结构失败")
	}

	logger.Info("数据库迁移完成", zap.Int("tables", len(migrationModels)))
	return nil
}
