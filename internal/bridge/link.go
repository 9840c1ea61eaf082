// Package bridge 实现主机侧的串口桥接：向控制器发送一行命令并等待状态报告。
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/hardware"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/protocol"
	"go.uber.org/zap"
)

// readPollInterval 等待回复时检查接收缓冲的间隔
const readPollInterval = 5 * time.Millisecond

// Port 链路使用的串口能力，由 *hardware.Transport 实现
type Port interface {
	WriteText(text string) error
	ReadAvailable() []byte
	Drain()
}

// ExchangeRecorder 记录每次收发，由 service.SerialLogService 实现
type ExchangeRecorder interface {
	LogSend(port, command string, data []byte, requestID string)
	LogReceive(port, command string, data []byte, requestID string, duration time.Duration, err error)
	GenerateRequestID() string
}

// StatusPublisher 接收每次成功交互得到的状态快照
type StatusPublisher interface {
	PublishStatus(entries []protocol.StatusEntry)
}

// Link 与控制器之间的串口链路，同一时刻只允许一次交互
type Link struct {
	mu       sync.Mutex
	port     Port
	portName string
	timeout  time.Duration
	recorder ExchangeRecorder
	logger   *zap.Logger

	pubMu      sync.RWMutex
	publishers []StatusPublisher

	stateMu    sync.RWMutex
	lastStatus []protocol.StatusEntry
	lastAt     time.Time
	lastErr    error
}

// LinkOption 链路选项
type LinkOption func(*Link)

// WithRecorder 设置收发记录器
func WithRecorder(r ExchangeRecorder) LinkOption {
	return func(l *Link) {
		l.recorder = r
	}
}

// WithPortName 设置日志中使用的端口名
func WithPortName(name string) LinkOption {
	return func(l *Link) {
		l.portName = name
	}
}

// NewLink 创建链路，timeout 为等待回复的最长时间
func NewLink(port Port, timeout time.Duration, opts ...LinkOption) *Link {
	l := &Link{
		port:    port,
		timeout: timeout,
		logger:  logger.WithModule("bridge"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenSerialLink 打开串口链路，断线后自动重连。
// 每次打开串口都会让控制器复位，复位期间的输出丢弃。
func OpenSerialLink(cfg config.BridgeConfig, opts ...LinkOption) (*Link, *hardware.ReconnectingPort, error) {
	if cfg.Serial.Port == "" {
		return nil, nil, errors.New(errors.ErrConfigMissing, "bridge.serial.port")
	}

	open := func(device string) (*hardware.Transport, error) {
		serialCfg := cfg.Serial
		serialCfg.Port = device
		transport, err := hardware.OpenSerialTransport(serialCfg)
		if err != nil {
			return nil, err
		}
		if cfg.SettleDelay > 0 {
			time.Sleep(cfg.SettleDelay)
		}
		transport.Drain()
		return transport, nil
	}

	port := hardware.NewReconnectingPort(cfg.Serial.Port, open,
		hardware.WithDevicePattern(cfg.DevicePattern),
		hardware.WithRetryInterval(cfg.RetryInterval, cfg.MaxRetryInterval))

	opts = append([]LinkOption{WithPortName(cfg.Serial.Port)}, opts...)
	return NewLink(port, cfg.ResponseTimeout, opts...), port, nil
}

// Subscribe 注册状态发布者
func (l *Link) Subscribe(p StatusPublisher) {
	l.pubMu.Lock()
	l.publishers = append(l.publishers, p)
	l.pubMu.Unlock()
}

// GetStatus 查询全部设备状态
func (l *Link) GetStatus(ctx context.Context) ([]protocol.StatusEntry, error) {
	return l.Exchange(ctx, protocol.FormatGetStatus())
}

// Toggle 翻转设备，id 原样发送给控制器
func (l *Link) Toggle(ctx context.Context, id string) ([]protocol.StatusEntry, error) {
	if id == "" || strings.ContainsAny(id, "\r\n") {
		return nil, errors.Newf(errors.ErrInvalidParam, "设备编号 %q", id)
	}
	return l.Exchange(ctx, protocol.FormatToggle(id))
}

// Exchange 发送一行命令并等待一份完整的状态报告
func (l *Link) Exchange(ctx context.Context, line string) ([]protocol.StatusEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	command := strings.TrimSuffix(line, "\n")
	requestID := ""
	if l.recorder != nil {
		requestID = l.recorder.GenerateRequestID()
		l.recorder.LogSend(l.portName, command, []byte(line), requestID)
	}

	start := time.Now()
	data, err := l.roundTrip(ctx, line)
	var entries []protocol.StatusEntry
	if err == nil {
		entries, err = protocol.DecodeReport(data)
	}
	elapsed := time.Since(start)

	if l.recorder != nil {
		l.recorder.LogReceive(l.portName, command, data, requestID, elapsed, err)
	}
	logger.LogSerialCommand(command, string(data), err == nil)

	l.stateMu.Lock()
	l.lastErr = err
	if err == nil {
		l.lastStatus = entries
		l.lastAt = time.Now()
	}
	l.stateMu.Unlock()

	if err != nil {
		l.logger.Warn("控制器交互失败",
			zap.String("command", command),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	l.publish(entries)
	return entries, nil
}

func (l *Link) roundTrip(ctx context.Context, line string) ([]byte, error) {
	// 丢弃上次交互之后到达的残留数据
	l.port.Drain()

	if err := l.port.WriteText(line); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readPollInterval)
	defer ticker.Stop()

	var buf []byte
	for {
		buf = append(buf, l.port.ReadAvailable()...)
		if protocol.CompleteReport(buf) {
			return buf, nil
		}

		select {
		case <-ctx.Done():
			return buf, errors.Wrap(ctx.Err(), errors.ErrCanceled)
		case <-deadline.C:
			buf = append(buf, l.port.ReadAvailable()...)
			if protocol.CompleteReport(buf) {
				return buf, nil
			}
			if len(buf) == 0 {
				return nil, errors.Newf(errors.ErrSerialTimeout, "%s 无回复", l.timeout)
			}
			return buf, errors.Newf(errors.ErrInvalidResponse, "回复不完整: %q", buf)
		case <-ticker.C:
		}
	}
}

func (l *Link) publish(entries []protocol.StatusEntry) {
	l.pubMu.RLock()
	defer l.pubMu.RUnlock()
	for _, p := range l.publishers {
		p.PublishStatus(entries)
	}
}

// LastStatus 最近一次成功获取的状态及时间
func (l *Link) LastStatus() ([]protocol.StatusEntry, time.Time) {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.lastStatus, l.lastAt
}

// Healthy 最近一次交互是否成功，尚未交互时视为健康
func (l *Link) Healthy() bool {
	if p, ok := l.port.(interface{ Err() error }); ok && p.Err() != nil {
		return false
	}
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.lastErr == nil
}
