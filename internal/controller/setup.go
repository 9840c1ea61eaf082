package controller

import (
	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/device"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/hardware"
	"github.com/wfunc/homelink/internal/logger"
	"go.uber.org/zap"
)

// BuildRegistry 按配置打开输出引脚，创建设备表并写入初始状态
func BuildRegistry(cfg config.ControllerConfig) (*device.Registry, error) {
	if len(cfg.Devices) != device.Count {
		return nil, errors.Newf(errors.ErrConfigValidate, "需要 %d 个设备，实际 %d 个", device.Count, len(cfg.Devices))
	}

	var (
		lines   [device.Count]device.OutputLine
		initial [device.Count]bool
	)
	for i, d := range cfg.Devices {
		line, err := openLine(cfg.LineDriver, d.Pin)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrDeviceOffline, "设备 %d 引脚 %s", i, d.Pin)
		}
		lines[i] = line
		initial[i] = d.Initial
	}

	reg := device.NewRegistry(lines, initial)
	if err := reg.Init(); err != nil {
		return nil, err
	}

	log := logger.WithModule("controller")
	for i, d := range cfg.Devices {
		log.Info("设备就绪",
			zap.Int("id", i),
			zap.String("driver", cfg.LineDriver),
			zap.String("pin", d.Pin),
			zap.Bool("initial", d.Initial))
	}
	return reg, nil
}

func openLine(driver, pin string) (device.OutputLine, error) {
	switch driver {
	case "gpio":
		return hardware.OpenGPIOLine(pin)
	case "memory", "":
		return hardware.NewMemoryLine(pin), nil
	default:
		return nil, errors.Newf(errors.ErrConfigValidate, "不支持的输出驱动: %s", driver)
	}
}
