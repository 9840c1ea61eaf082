package hardware

import (
	"sync"

	"github.com/wfunc/homelink/internal/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// InitGPIO 加载 periph 主机驱动，多次调用只初始化一次
func InitGPIO() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = errors.Wrap(err, errors.ErrDeviceOffline, "periph host 初始化失败")
		}
	})
	return hostErr
}

// GPIOLine 基于 periph.io 的输出引脚
type GPIOLine struct {
	pin gpio.PinOut
}

// OpenGPIOLine 按名称或编号打开引脚，例如 "GPIO17" 或 "17"
func OpenGPIOLine(name string) (*GPIOLine, error) {
	if err := InitGPIO(); err != nil {
		return nil, err
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Newf(errors.ErrDeviceNotFound, "找不到引脚 %s", name)
	}
	return &GPIOLine{pin: p}, nil
}

// NewGPIOLine 包装已有的 periph 引脚
func NewGPIOLine(pin gpio.PinOut) *GPIOLine {
	return &GPIOLine{pin: pin}
}

// SetOutput 设置输出电平
func (l *GPIOLine) SetOutput(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := l.pin.Out(level); err != nil {
		return errors.Wrapf(err, errors.ErrLineWrite, "引脚 %s", l.pin.Name())
	}
	return nil
}

// String 引脚名
func (l *GPIOLine) String() string {
	return l.pin.Name()
}
