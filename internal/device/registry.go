// Package device 维护控制器的固定设备表：设备编号、输出引脚和开关状态。
package device

import (
	"github.com/wfunc/homelink/internal/errors"
)

// Count 设备数量，编号为 0..Count-1
const Count = 3

// OutputLine 物理输出引脚，由运行环境持有
type OutputLine interface {
	SetOutput(on bool) error
}

// Device 单个可控输出设备
type Device struct {
	ID   int
	Line OutputLine
	On   bool
}

// Status 返回协议中的状态文字
func (d Device) Status() string {
	if d.On {
		return "on"
	}
	return "off"
}

// Registry 设备表，编号即数组下标
type Registry struct {
	devices [Count]Device
}

// NewRegistry 创建设备表，lines[i] 与 initial[i] 对应设备 i
func NewRegistry(lines [Count]OutputLine, initial [Count]bool) *Registry {
	r := &Registry{}
	for i := range r.devices {
		r.devices[i] = Device{ID: i, Line: lines[i], On: initial[i]}
	}
	return r
}

// Init 把每个设备的初始状态写入对应引脚，启动时调用一次
func (r *Registry) Init() error {
	for i := range r.devices {
		d := &r.devices[i]
		if err := d.Line.SetOutput(d.On); err != nil {
			return errors.Wrapf(err, errors.ErrLineWrite, "初始化设备 %d", d.ID)
		}
	}
	return nil
}

// Get 按编号获取设备
func (r *Registry) Get(id int) (Device, error) {
	if !valid(id) {
		return Device{}, notFound(id)
	}
	return r.devices[id], nil
}

// Toggle 翻转设备状态并写入引脚。
// 引脚写入失败时状态仍然翻转，错误返回给调用方记录。
func (r *Registry) Toggle(id int) (Device, error) {
	if !valid(id) {
		return Device{}, notFound(id)
	}

	d := &r.devices[id]
	d.On = !d.On
	if err := d.Line.SetOutput(d.On); err != nil {
		return *d, errors.Wrapf(err, errors.ErrLineWrite, "设备 %d", id)
	}
	return *d, nil
}

// List 按编号升序返回全部设备的副本
func (r *Registry) List() []Device {
	out := make([]Device, Count)
	copy(out, r.devices[:])
	return out
}

func valid(id int) bool {
	return id >= 0 && id < Count
}

func notFound(id int) error {
	return errors.Newf(errors.ErrDeviceNotFound, "设备编号 %d 超出范围 [0, %d)", id, Count)
}
