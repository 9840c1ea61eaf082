package models

import (
	"time"

	"gorm.io/gorm"
)

// Direction 串口数据方向
type Direction string

const (
	DirectionSend    Direction = "SEND"    // 主机发往控制器
	DirectionReceive Direction = "RECEIVE" // 控制器回复
)

// SerialLog 主机与控制器之间的一次收发记录
type SerialLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Direction Direction `gorm:"type:varchar(10);index;not null" json:"direction"`
	Port      string    `gorm:"type:varchar(100)" json:"port,omitempty"`
	Command   string    `gorm:"type:varchar(64);index" json:"command,omitempty"` // get_status 或 toggle_<id>

	RawData    string `gorm:"type:text" json:"raw_data,omitempty"`
	HexData    string `gorm:"type:text" json:"hex_data,omitempty"`
	BytesCount int    `gorm:"default:0" json:"bytes_count"`

	RequestID string `gorm:"type:varchar(64);index" json:"request_id,omitempty"` // 同一次交互的发送和接收共用
	SessionID string `gorm:"type:varchar(64);index" json:"session_id,omitempty"` // 进程启动时生成

	Duration int64  `gorm:"default:0" json:"duration,omitempty"` // 毫秒，只在接收记录上填写
	ErrorMsg string `gorm:"type:text" json:"error_msg,omitempty"`

	Timestamp int64 `gorm:"index" json:"timestamp"` // Unix毫秒
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = s.CreatedAt.UnixMilli()
	}
	return nil
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Direction Direction  `json:"direction,omitempty"`
	Command   string     `json:"command,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	HasError  *bool      `json:"has_error,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// SerialLogStats 统计信息
type SerialLogStats struct {
	TotalCount   int64   `json:"total_count"`
	TotalSend    int64   `json:"total_send"`
	TotalReceive int64   `json:"total_receive"`
	TotalErrors  int64   `json:"total_errors"`
	AvgDuration  float64 `json:"avg_duration"`
	MaxDuration  int64   `json:"max_duration"`
}
