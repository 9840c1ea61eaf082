package hardware

import (
	"sync"
	"time"
)

// MemoryLine 内存模拟输出引脚（调试和测试用）
type MemoryLine struct {
	mu        sync.RWMutex
	name      string
	on        bool
	writes    int
	lastWrite time.Time
}

// NewMemoryLine 创建模拟引脚
func NewMemoryLine(name string) *MemoryLine {
	return &MemoryLine{name: name}
}

// SetOutput 设置输出电平
func (l *MemoryLine) SetOutput(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = on
	l.writes++
	l.lastWrite = time.Now()
	return nil
}

// Level 当前输出电平
func (l *MemoryLine) Level() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.on
}

// Writes 累计写入次数
func (l *MemoryLine) Writes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.writes
}

// String 引脚名
func (l *MemoryLine) String() string {
	return l.name
}
