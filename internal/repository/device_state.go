package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/wfunc/homelink/internal/models"
	"gorm.io/gorm"
)

// DeviceStateRepository 设备状态仓库
type DeviceStateRepository struct {
	db *gorm.DB
}

// NewDeviceStateRepository 创建设备状态仓库
func NewDeviceStateRepository(db *gorm.DB) *DeviceStateRepository {
	return &DeviceStateRepository{db: db}
}

// ApplySnapshot 写入一份完整的状态快照，返回状态发生变化的设备数。
// 新设备直接插入；已有设备刷新 last_seen_at，状态不同时累加 change_count。
func (r *DeviceStateRepository) ApplySnapshot(ctx context.Context, states []*models.DeviceState, seenAt time.Time) (int, error) {
	changed := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range states {
			var existing models.DeviceState
			err := tx.Where("device_id = ?", s.DeviceID).First(&existing).Error

			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				row := &models.DeviceState{
					DeviceID:      s.DeviceID,
					Status:        s.Status,
					LastChangedAt: seenAt,
					LastSeenAt:    seenAt,
				}
				if err := tx.Create(row).Error; err != nil {
					return err
				}
				changed++
				continue
			}
			if err != nil {
				return err
			}

			updates := map[string]interface{}{"last_seen_at": seenAt}
			if existing.Status != s.Status {
				updates["status"] = s.Status
				updates["change_count"] = gorm.Expr("change_count + ?", 1)
				updates["last_changed_at"] = seenAt
				changed++
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// FindAll 按设备编号顺序返回全部设备
func (r *DeviceStateRepository) FindAll(ctx context.Context) ([]*models.DeviceState, error) {
	var states []*models.DeviceState
	err := r.db.WithContext(ctx).Order("device_id ASC").Find(&states).Error
	return states, err
}

// FindByDeviceID 根据设备编号查找
func (r *DeviceStateRepository) FindByDeviceID(ctx context.Context, deviceID int) (*models.DeviceState, error) {
	var state models.DeviceState
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// FindStale 返回在 threshold 之前最后一次出现的设备
func (r *DeviceStateRepository) FindStale(ctx context.Context, threshold time.Time) ([]*models.DeviceState, error) {
	var states []*models.DeviceState
	err := r.db.WithContext(ctx).
		Where("last_seen_at < ?", threshold).
		Order("last_seen_at ASC").
		Find(&states).Error
	return states, err
}
