package hardware

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/logger"
	"go.uber.org/zap"
)

// DefaultLineTimeout 没有换行符时等待整行的最长时间，与 Arduino Stream 默认超时一致
const DefaultLineTimeout = time.Second

// maxBuffered 接收缓冲上限，超过后按整行丢弃最旧数据
const maxBuffered = 4096

// flusher tarm/serial 的 Port 实现了 Flush，用于清空系统输入缓冲
type flusher interface {
	Flush() error
}

// Transport 非阻塞串口传输。
// 后台协程持续读取字节到缓冲区，读取方法只检查缓冲区，从不阻塞。
type Transport struct {
	r      io.Reader
	w      io.Writer
	closer io.Closer
	logger *zap.Logger
	// eofIsTimeout 串口读超时返回 EOF，此时 EOF 不代表输入结束
	eofIsTimeout bool

	mu          sync.Mutex
	buf         []byte
	skipping    bool
	firstByteAt time.Time
	readErr     error
	lineTimeout time.Duration

	writeMu sync.Mutex

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewTransport 基于任意读写流创建传输，closer 可为 nil。
// 读到 EOF 视为输入结束，读取协程退出且 Err 返回 io.EOF。
func NewTransport(r io.Reader, w io.Writer, closer io.Closer) *Transport {
	return newTransport(r, w, closer, false)
}

// NewPortTransport 基于串口类读写器创建传输，EOF 视为读超时并继续读取
func NewPortTransport(port io.ReadWriteCloser) *Transport {
	return newTransport(port, port, port, true)
}

func newTransport(r io.Reader, w io.Writer, closer io.Closer, eofIsTimeout bool) *Transport {
	t := &Transport{
		r:            r,
		w:            w,
		closer:       closer,
		logger:       logger.WithModule("serial"),
		eofIsTimeout: eofIsTimeout,
		lineTimeout:  DefaultLineTimeout,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// OpenSerialTransport 按配置打开传输，端口为 "stdio" 时使用标准输入输出
func OpenSerialTransport(cfg config.SerialConfig) (*Transport, error) {
	if cfg.Port == "stdio" {
		return NewTransport(os.Stdin, os.Stdout, nil), nil
	}

	port, err := OpenSerialPort(cfg)
	if err != nil {
		return nil, err
	}
	return NewPortTransport(port), nil
}

// OpenSerialPort 打开 tarm/serial 串口
func OpenSerialPort(cfg config.SerialConfig) (*serial.Port, error) {
	parity := serial.ParityNone
	switch cfg.Parity {
	case "O", "odd":
		parity = serial.ParityOdd
	case "E", "even":
		parity = serial.ParityEven
	}

	stopBits := serial.Stop1
	if cfg.StopBits == 2 {
		stopBits = serial.Stop2
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "串口 %s", cfg.Port)
	}

	logger.WithModule("serial").Info("串口已打开",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate))
	return port, nil
}

// SetLineTimeout 设置半行数据的等待时间
func (t *Transport) SetLineTimeout(d time.Duration) {
	t.mu.Lock()
	t.lineTimeout = d
	t.mu.Unlock()
}

// readLoop 后台读取循环
func (t *Transport) readLoop() {
	defer close(t.doneCh)

	chunk := make([]byte, 256)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, err := t.r.Read(chunk)
		if n > 0 {
			t.append(chunk[:n])
		}
		if err == nil {
			continue
		}

		// 串口读超时表现为EOF，继续读取
		if (err == io.EOF && t.eofIsTimeout) || strings.Contains(err.Error(), "timeout") {
			select {
			case <-t.stopCh:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		t.mu.Lock()
		t.readErr = err
		t.mu.Unlock()

		select {
		case <-t.stopCh:
		default:
			if err == io.EOF {
				t.logger.Info("输入已关闭")
			} else {
				t.logger.Error("串口读取失败", zap.Error(err))
			}
		}
		return
	}
}

// append 追加收到的字节。缓冲超限时从超限位置之后的第一个换行处截断，
// 找不到换行则全部丢弃并跳过后续字节直到下一个换行，保证不返回缺头的行。
func (t *Transport) append(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.skipping {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}
		t.skipping = false
		data = data[idx+1:]
		if len(data) == 0 {
			return
		}
	}

	if len(t.buf) == 0 {
		t.firstByteAt = time.Now()
	}
	t.buf = append(t.buf, data...)

	over := len(t.buf) - maxBuffered
	if over <= 0 {
		return
	}

	idx := bytes.IndexByte(t.buf[over:], '\n')
	if idx < 0 {
		t.buf = nil
		t.skipping = true
		t.logger.Warn("接收缓冲溢出，丢弃未结束的行")
		return
	}
	t.consume(over + idx + 1)
	t.logger.Warn("接收缓冲溢出，丢弃最旧的行", zap.Int("bytes", over+idx+1))
}

// Available 当前缓冲的字节数
func (t *Transport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// ReadLineIfAvailable 取出一行（不含换行符）。
// 没有换行符时，缓冲数据超过行超时后作为一行返回；否则返回 false。
func (t *Transport) ReadLineIfAvailable() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buf) == 0 {
		return "", false
	}

	if idx := bytes.IndexByte(t.buf, '\n'); idx >= 0 {
		line := string(t.buf[:idx])
		t.consume(idx + 1)
		return line, true
	}

	if time.Since(t.firstByteAt) >= t.lineTimeout {
		line := string(t.buf)
		t.consume(len(t.buf))
		return line, true
	}

	return "", false
}

// ReadAvailable 取出缓冲区中的全部字节
func (t *Transport) ReadAvailable() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buf) == 0 {
		return nil
	}
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	t.consume(len(t.buf))
	return out
}

func (t *Transport) consume(n int) {
	t.buf = t.buf[n:]
	if len(t.buf) == 0 {
		t.buf = nil
	} else {
		t.firstByteAt = time.Now()
	}
}

// Drain 丢弃当前已到达的全部输入
func (t *Transport) Drain() {
	t.mu.Lock()
	dropped := len(t.buf)
	t.buf = nil
	t.mu.Unlock()

	if f, ok := t.r.(flusher); ok {
		if err := f.Flush(); err != nil {
			t.logger.Debug("清空串口输入缓冲失败", zap.Error(err))
		}
	}

	if dropped > 0 {
		t.logger.Debug("丢弃残留输入", zap.Int("bytes", dropped))
	}
}

// WriteText 写出文本，不追加任何分隔符
func (t *Transport) WriteText(text string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.w, text); err != nil {
		return errors.Wrap(err, errors.ErrSerialPortWrite)
	}
	return nil
}

// Err 后台读取遇到的致命错误，输入正常结束时为 io.EOF
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}

// Close 停止读取并关闭底层端口
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopCh)
		if t.closer != nil {
			if cerr := t.closer.Close(); cerr != nil {
				err = fmt.Errorf("close port: %w", cerr)
			}
		}
	})
	return err
}

// Done 读取协程退出时关闭
func (t *Transport) Done() <-chan struct{} {
	return t.doneCh
}
