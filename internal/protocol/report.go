package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/wfunc/homelink/internal/device"
	"github.com/wfunc/homelink/internal/errors"
)

// StatusEntry 状态报告中的一项，字段顺序固定为 id、status
type StatusEntry struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

// Report 把设备列表编码为 JSON 数组，不追加换行
func Report(devices []device.Device) []byte {
	entries := make([]StatusEntry, len(devices))
	for i, d := range devices {
		entries[i] = StatusEntry{ID: d.ID, Status: d.Status()}
	}

	// 只含int和固定字符串，编码不会失败
	data, _ := json.Marshal(entries)
	return data
}

// DecodeReport 解析控制器返回的状态报告
func DecodeReport(data []byte) ([]StatusEntry, error) {
	data = bytes.TrimSpace(data)

	var entries []StatusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidResponse, string(data))
	}
	if entries == nil {
		return nil, errors.New(errors.ErrInvalidResponse, "null")
	}

	for _, e := range entries {
		if e.Status != "on" && e.Status != "off" {
			return nil, errors.Newf(errors.ErrInvalidResponse, "设备 %d 状态 %q", e.ID, e.Status)
		}
	}
	return entries, nil
}

// CompleteReport 判断缓冲数据是否已是完整的 JSON 值
func CompleteReport(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && json.Valid(data)
}
