package models

import "time"

// DeviceState 控制器设备的最近已知状态，每个设备一行
type DeviceState struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	DeviceID      int       `gorm:"uniqueIndex;not null" json:"id"`
	Status        string    `gorm:"size:8;not null" json:"status"` // on, off
	ChangeCount   int64     `gorm:"default:0" json:"change_count"`
	LastChangedAt time.Time `json:"last_changed_at"`
	LastSeenAt    time.Time `gorm:"index" json:"last_seen_at"`
	UpdatedAt     time.Time `json:"-"`
}

// TableName 指定表名
func (DeviceState) TableName() string {
	return "device_states"
}
