package repository

import (
	"fmt"
	"time"

	"github.com/wfunc/homelink/internal/models"
	"gorm.io/gorm"
)

// maxQueryLimit 单次查询返回的最大条数
const maxQueryLimit = 1000

// SerialLogRepository 串口日志仓库
type SerialLogRepository struct {
	db *gorm.DB
}

// NewSerialLogRepository 创建串口日志仓库
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{
		db: db,
	}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(log *models.SerialLog) error {
	return r.db.Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.CreateInBatches(logs, 100).Error
}

// GetByRequestID 根据请求ID获取一次交互的发送和接收记录
func (r *SerialLogRepository) GetByRequestID(requestID string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询日志
func (r *SerialLogRepository) Query(query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	db := r.filter(r.db.Model(&models.SerialLog{}), query)

	// 获取总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := query.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	db = db.Order("id DESC").Limit(limit)
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.SerialLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *SerialLogRepository) filter(db *gorm.DB, query *models.SerialLogQuery) *gorm.DB {
	if query.Direction != "" {
		db = db.Where("direction = ?", query.Direction)
	}
	if query.Command != "" {
		db = db.Where("command LIKE ?", "%"+query.Command+"%")
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil && *query.HasError {
		db = db.Where("error_msg IS NOT NULL AND error_msg != ''")
	}
	return db
}

// GetStats 获取统计信息
func (r *SerialLogRepository) GetStats(startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	stats := &models.SerialLogStats{}
	scoped := func() *gorm.DB {
		db := r.db.Model(&models.SerialLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := scoped().Where("direction = ?", models.DirectionSend).
		Count(&stats.TotalSend).Error; err != nil {
		return nil, err
	}
	stats.TotalReceive = stats.TotalCount - stats.TotalSend

	if err := scoped().Where("error_msg IS NOT NULL AND error_msg != ''").
		Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 性能统计
	var durationStats struct {
		AvgDuration *float64
		MaxDuration *int64
	}
	if err := scoped().
		Select("AVG(duration) as avg_duration, MAX(duration) as max_duration").
		Where("direction = ?", models.DirectionReceive).
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	if durationStats.AvgDuration != nil {
		stats.AvgDuration = *durationStats.AvgDuration
	}
	if durationStats.MaxDuration != nil {
		stats.MaxDuration = *durationStats.MaxDuration
	}

	return stats, nil
}

// GetLatest 获取最新的日志记录
func (r *SerialLogRepository) GetLatest(limit int) ([]*models.SerialLog, error) {
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	var logs []*models.SerialLog
	err := r.db.Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧日志
func (r *SerialLogRepository) DeleteOldLogs(beforeTime time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", beforeTime).Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *SerialLogRepository) CleanupLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	return r.DeleteOldLogs(time.Now().AddDate(0, 0, -retentionDays))
}
