package hardware

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/logger"
	"go.uber.org/zap"
)

const (
	defaultRetryInterval = time.Second
	defaultMaxRetry      = 30 * time.Second
	// maxScanIndex 按模式扫描设备时尝试的最大序号
	maxScanIndex = 10
)

// Opener 打开指定设备路径上的传输
type Opener func(device string) (*Transport, error)

// ReconnectingPort 断线后自动重连的串口。
// 读取协程退出即视为断线；重连时先尝试上次成功的设备，再按模式扫描 /dev/<pattern>N。
type ReconnectingPort struct {
	preferred string
	pattern   string
	open      Opener
	exists    func(path string) bool
	logger    *zap.Logger

	minInterval time.Duration
	maxInterval time.Duration

	mu        sync.RWMutex
	current   *Transport
	device    string
	lastErr   error
	reconnect int

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// ReconnectOption 重连选项
type ReconnectOption func(*ReconnectingPort)

// WithDevicePattern 设备路径失效时按模式扫描，例如 "ttyACM"
func WithDevicePattern(pattern string) ReconnectOption {
	return func(p *ReconnectingPort) {
		p.pattern = pattern
	}
}

// WithRetryInterval 设置重试间隔，失败后按倍数退避到 max
func WithRetryInterval(min, max time.Duration) ReconnectOption {
	return func(p *ReconnectingPort) {
		if min > 0 {
			p.minInterval = min
		}
		if max >= p.minInterval {
			p.maxInterval = max
		}
	}
}

// NewReconnectingPort 创建并启动重连串口，首次打开失败时在后台继续重试
func NewReconnectingPort(device string, open Opener, opts ...ReconnectOption) *ReconnectingPort {
	p := &ReconnectingPort{
		preferred:   device,
		open:        open,
		exists:      SerialPortExists,
		logger:      logger.WithModule("serial"),
		minInterval: defaultRetryInterval,
		maxInterval: defaultMaxRetry,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.connect(); err != nil {
		p.logger.Warn("首次打开串口失败，将在后台重试", zap.String("device", device), zap.Error(err))
	}
	go p.loop()
	return p
}

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *ReconnectingPort) loop() {
	defer close(p.doneCh)

	interval := p.minInterval
	for {
		p.mu.RLock()
		current := p.current
		p.mu.RUnlock()

		if current != nil {
			select {
			case <-p.stopCh:
				return
			case <-current.Done():
				p.disconnect(current)
				interval = p.minInterval
			}
			continue
		}

		select {
		case <-p.stopCh:
			return
		case <-time.After(interval):
		}

		if err := p.connect(); err != nil {
			p.logger.Warn("重连失败，等待重试", zap.Duration("interval", interval), zap.Error(err))
			interval *= 2
			if interval > p.maxInterval {
				interval = p.maxInterval
			}
			continue
		}

		p.mu.Lock()
		p.reconnect++
		p.mu.Unlock()
	}
}

func (p *ReconnectingPort) connect() error {
	device := p.findDevice()
	if device == "" {
		err := errors.Newf(errors.ErrDeviceOffline, "未找到串口设备 %s", p.preferred)
		p.setErr(err)
		return err
	}

	t, err := p.open(device)
	if err != nil {
		p.setErr(err)
		return err
	}

	p.mu.Lock()
	p.current = t
	p.device = device
	p.lastErr = nil
	p.mu.Unlock()

	p.logger.Info("串口已连接", zap.String("device", device))
	return nil
}

// findDevice 优先上次成功的设备，其次配置的设备，最后按模式扫描
func (p *ReconnectingPort) findDevice() string {
	p.mu.RLock()
	last := p.device
	p.mu.RUnlock()

	if last != "" && p.exists(last) {
		return last
	}
	if p.pattern == "" || p.exists(p.preferred) {
		return p.preferred
	}
	for i := 0; i < maxScanIndex; i++ {
		device := fmt.Sprintf("/dev/%s%d", p.pattern, i)
		if p.exists(device) {
			return device
		}
	}
	return ""
}

func (p *ReconnectingPort) disconnect(t *Transport) {
	cause := t.Err()
	t.Close()

	p.mu.Lock()
	if p.current == t {
		p.current = nil
	}
	if cause != nil {
		p.lastErr = errors.Wrap(cause, errors.ErrDeviceOffline, "串口已断开")
	} else {
		p.lastErr = errors.New(errors.ErrDeviceOffline, "串口已断开")
	}
	device := p.device
	p.mu.Unlock()

	p.logger.Error("检测到串口断线", zap.String("device", device), zap.Error(cause))
}

func (p *ReconnectingPort) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *ReconnectingPort) transport() (*Transport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		if p.lastErr != nil {
			return nil, p.lastErr
		}
		return nil, errors.New(errors.ErrDeviceOffline, "串口未连接")
	}
	return p.current, nil
}

// WriteText 写入当前连接，未连接时返回设备离线错误
func (p *ReconnectingPort) WriteText(text string) error {
	t, err := p.transport()
	if err != nil {
		return err
	}
	return t.WriteText(text)
}

// ReadAvailable 取出当前连接缓冲的全部字节
func (p *ReconnectingPort) ReadAvailable() []byte {
	t, err := p.transport()
	if err != nil {
		return nil
	}
	return t.ReadAvailable()
}

// Drain 丢弃当前连接的残留输入
func (p *ReconnectingPort) Drain() {
	if t, err := p.transport(); err == nil {
		t.Drain()
	}
}

// Err 未连接时返回断线原因
func (p *ReconnectingPort) Err() error {
	t, err := p.transport()
	if err != nil {
		return err
	}
	return t.Err()
}

// Connected 当前是否已连接
func (p *ReconnectingPort) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current != nil
}

// Device 最近一次成功连接的设备路径
func (p *ReconnectingPort) Device() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.device
}

// Reconnects 断线后成功重连的次数
func (p *ReconnectingPort) Reconnects() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reconnect
}

// Close 停止重连并关闭当前连接
func (p *ReconnectingPort) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh

	p.mu.Lock()
	t := p.current
	p.current = nil
	p.mu.Unlock()

	if t != nil {
		return t.Close()
	}
	return nil
}
