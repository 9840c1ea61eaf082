// Package controller 运行控制器的轮询循环：读取一行命令，解析、执行并写回状态报告。
package controller

import (
	"context"
	"strings"
	"time"

	"github.com/wfunc/homelink/internal/device"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/protocol"
	"go.uber.org/zap"
)

// DefaultPollInterval 没有输入时两次轮询之间的间隔
const DefaultPollInterval = 10 * time.Millisecond

// Transport 控制器使用的串口能力
type Transport interface {
	ReadLineIfAvailable() (string, bool)
	Drain()
	WriteText(text string) error
}

// Controller 命令分发器，只能由一个协程驱动
type Controller struct {
	registry  *device.Registry
	transport Transport
	logger    *zap.Logger

	reportOnInvalidToggle bool
	acceptCRLF            bool
	pollInterval          time.Duration
}

// Option 控制器选项
type Option func(*Controller)

// WithReportOnInvalidToggle 无效翻转命令是否仍然回复状态，默认 true
func WithReportOnInvalidToggle(report bool) Option {
	return func(c *Controller) {
		c.reportOnInvalidToggle = report
	}
}

// WithAcceptCRLF 解析前去掉行尾的 \r，默认 false（get_status\r 不回复）
func WithAcceptCRLF(accept bool) Option {
	return func(c *Controller) {
		c.acceptCRLF = accept
	}
}

// WithPollInterval 设置空闲轮询间隔，0 表示不等待
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.pollInterval = d
		}
	}
}

// New 创建控制器
func New(registry *device.Registry, transport Transport, opts ...Option) *Controller {
	c := &Controller{
		registry:              registry,
		transport:             transport,
		logger:                logger.WithModule("controller"),
		reportOnInvalidToggle: true,
		pollInterval:          DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Poll 执行一次轮询。没有可用的行时立即返回 false。
func (c *Controller) Poll() bool {
	line, ok := c.transport.ReadLineIfAvailable()
	if !ok {
		return false
	}
	c.transport.Drain()

	if c.acceptCRLF {
		line = strings.TrimSuffix(line, "\r")
	}
	cmd := protocol.Parse(line)
	c.logger.Debug("收到命令",
		zap.String("line", line),
		zap.Stringer("kind", cmd.Kind),
		zap.Int("id", cmd.ID))

	c.Dispatch(cmd)
	return true
}

// Dispatch 执行命令
func (c *Controller) Dispatch(cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.KindGetStatus:
		c.report()

	case protocol.KindToggle:
		d, err := c.registry.Toggle(cmd.ID)
		switch {
		case err == nil:
			c.logger.Debug("设备已翻转", zap.Int("id", d.ID), zap.String("status", d.Status()))
			c.report()
		case errors.Is(err, errors.ErrDeviceNotFound):
			c.logger.Debug("忽略无效设备编号", zap.Int("id", cmd.ID))
			if c.reportOnInvalidToggle {
				c.report()
			}
		default:
			// 引脚写入失败，状态已翻转，照常回复
			c.logger.Warn("设备引脚写入失败", zap.Int("id", cmd.ID), zap.Error(err))
			c.report()
		}

	default:
		// 未知命令不回复
	}
}

func (c *Controller) report() {
	if err := c.transport.WriteText(string(protocol.Report(c.registry.List()))); err != nil {
		c.logger.Warn("状态报告写入失败", zap.Error(err))
	}
}

// Run 持续轮询直到 ctx 取消
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("控制器开始运行",
		zap.Duration("poll_interval", c.pollInterval),
		zap.Bool("report_on_invalid_toggle", c.reportOnInvalidToggle),
		zap.Bool("accept_crlf", c.acceptCRLF))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("控制器停止")
			return ctx.Err()
		default:
		}

		if c.Poll() || c.pollInterval == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("控制器停止")
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
