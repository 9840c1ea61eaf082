package service

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/models"
	"github.com/wfunc/homelink/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	flushInterval = 5 * time.Second
	flushSize     = 100
	queueSize     = 1000
)

// SerialLogService 串口日志服务，日志先进入缓冲通道，由后台协程批量写库
type SerialLogService struct {
	repo      *repository.SerialLogRepository
	logger    *zap.Logger
	buffer    []*models.SerialLog
	bufferCh  chan *models.SerialLog
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	sessionID string
	interval  time.Duration
}

// NewSerialLogService 创建串口日志服务
func NewSerialLogService(db *gorm.DB) *SerialLogService {
	return newSerialLogService(repository.NewSerialLogRepository(db), flushInterval)
}

func newSerialLogService(repo *repository.SerialLogRepository, interval time.Duration) *SerialLogService {
	s := &SerialLogService{
		repo:      repo,
		logger:    logger.WithModule("serial_log"),
		buffer:    make([]*models.SerialLog, 0, flushSize),
		bufferCh:  make(chan *models.SerialLog, queueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		sessionID: uuid.New().String(),
		interval:  interval,
	}

	// 启动后台写入协程
	go s.backgroundWriter()

	return s
}

// SessionID 本进程的会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// backgroundWriter 后台写入协程
func (s *SerialLogService) backgroundWriter() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
			// 缓冲区满了立即写入
			if len(s.buffer) >= flushSize {
				s.flushBuffer()
			}

		case <-ticker.C:
			s.flushBuffer()

		case <-s.stopCh:
			// 退出前写入通道和缓冲区中剩余的日志
			for {
				select {
				case log := <-s.bufferCh:
					s.buffer = append(s.buffer, log)
				default:
					s.flushBuffer()
					return
				}
			}
		}
	}
}

// flushBuffer 写入缓冲区的日志到数据库
func (s *SerialLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	if err := s.repo.CreateBatch(s.buffer); err != nil {
		s.logger.Error("批量写入串口日志失败", zap.Error(err))
	} else {
		s.logger.Debug("批量写入串口日志成功", zap.Int("count", len(s.buffer)))
	}

	s.buffer = make([]*models.SerialLog, 0, flushSize)
}

func (s *SerialLogService) enqueue(log *models.SerialLog) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	select {
	case s.bufferCh <- log:
	default:
		s.logger.Warn("串口日志缓冲区满，丢弃日志", zap.String("command", log.Command))
	}
}

// LogSend 记录发往控制器的数据
func (s *SerialLogService) LogSend(port, command string, data []byte, requestID string) {
	now := time.Now()
	s.enqueue(&models.SerialLog{
		CreatedAt:  now,
		Timestamp:  now.UnixMilli(),
		Direction:  models.DirectionSend,
		Port:       port,
		Command:    command,
		RawData:    string(data),
		HexData:    hex.EncodeToString(data),
		BytesCount: len(data),
		RequestID:  requestID,
		SessionID:  s.sessionID,
	})
}

// LogReceive 记录控制器的回复，err 非空时记录错误信息
func (s *SerialLogService) LogReceive(port, command string, data []byte, requestID string, duration time.Duration, err error) {
	now := time.Now()
	log := &models.SerialLog{
		CreatedAt:  now,
		Timestamp:  now.UnixMilli(),
		Direction:  models.DirectionReceive,
		Port:       port,
		Command:    command,
		RawData:    string(data),
		HexData:    hex.EncodeToString(data),
		BytesCount: len(data),
		RequestID:  requestID,
		SessionID:  s.sessionID,
		Duration:   duration.Milliseconds(),
	}
	if err != nil {
		log.ErrorMsg = err.Error()
	}
	s.enqueue(log)
}

// Query 查询日志
func (s *SerialLogService) Query(query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(query)
}

// GetStats 获取统计信息
func (s *SerialLogService) GetStats(startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	return s.repo.GetStats(startTime, endTime)
}

// GetLatestLogs 获取最新日志
func (s *SerialLogService) GetLatestLogs(limit int) ([]*models.SerialLog, error) {
	return s.repo.GetLatest(limit)
}

// GetExchange 获取一次交互的全部记录
func (s *SerialLogService) GetExchange(requestID string) ([]*models.SerialLog, error) {
	return s.repo.GetByRequestID(requestID)
}

// CleanupOldLogs 清理旧日志
func (s *SerialLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(retentionDays)
}

// GenerateRequestID 生成请求ID
func (s *SerialLogService) GenerateRequestID() string {
	return uuid.New().String()
}

// Close 停止后台协程并写入剩余日志
func (s *SerialLogService) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}
