package service

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/models"
	"github.com/wfunc/homelink/internal/protocol"
	"github.com/wfunc/homelink/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	snapshotQueueSize = 16
	snapshotTimeout   = 5 * time.Second
)

type snapshot struct {
	states []*models.DeviceState
	seenAt time.Time
}

// DeviceStateService 持久化控制器上报的设备状态。
// 作为状态订阅者挂在串口链路上，写库在后台协程完成。
type DeviceStateService struct {
	repo     *repository.DeviceStateRepository
	logger   *zap.Logger
	queue    chan snapshot
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDeviceStateService 创建设备状态服务
func NewDeviceStateService(db *gorm.DB) *DeviceStateService {
	return newDeviceStateService(repository.NewDeviceStateRepository(db))
}

func newDeviceStateService(repo *repository.DeviceStateRepository) *DeviceStateService {
	s := &DeviceStateService{
		repo:   repo,
		logger: logger.WithModule("device_state"),
		queue:  make(chan snapshot, snapshotQueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *DeviceStateService) worker() {
	defer close(s.doneCh)

	for {
		select {
		case snap := <-s.queue:
			s.apply(snap)
		case <-s.stopCh:
			for {
				select {
				case snap := <-s.queue:
					s.apply(snap)
				default:
					return
				}
			}
		}
	}
}

func (s *DeviceStateService) apply(snap snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	changed, err := s.repo.ApplySnapshot(ctx, snap.states, snap.seenAt)
	if err != nil {
		s.logger.Error("写入设备状态失败", zap.Error(err))
		return
	}
	if changed > 0 {
		s.logger.Debug("设备状态已更新", zap.Int("changed", changed))
	}
}

// PublishStatus 接收一份状态快照，队列满时丢弃
func (s *DeviceStateService) PublishStatus(entries []protocol.StatusEntry) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	states := make([]*models.DeviceState, len(entries))
	for i, e := range entries {
		states[i] = &models.DeviceState{DeviceID: e.ID, Status: e.Status}
	}

	select {
	case s.queue <- snapshot{states: states, seenAt: time.Now()}:
	default:
		s.logger.Warn("设备状态队列已满，丢弃快照")
	}
}

// List 返回持久化的全部设备状态
func (s *DeviceStateService) List(ctx context.Context) ([]*models.DeviceState, error) {
	return s.repo.FindAll(ctx)
}

// Stale 返回超过 age 未出现在任何报告中的设备
func (s *DeviceStateService) Stale(ctx context.Context, age time.Duration) ([]*models.DeviceState, error) {
	return s.repo.FindStale(ctx, time.Now().Add(-age))
}

// Close 停止后台协程，写完已排队的快照
func (s *DeviceStateService) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}
