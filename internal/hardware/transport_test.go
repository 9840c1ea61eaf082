package hardware

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/homelink/internal/errors"
)

// fakePort 模拟串口：无数据时返回EOF，与 tarm/serial 读超时行为一致
type fakePort struct {
	mu       sync.Mutex
	in       bytes.Buffer
	out      bytes.Buffer
	flushes  int
	closed   bool
	readErr  error
	writeErr error
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(s)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.in.Len() == 0 {
		return 0, io.EOF
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

func (p *fakePort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.in.Reset()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func waitBuffered(t *testing.T, tr *Transport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Available() >= n },
		time.Second, 5*time.Millisecond)
}

func TestTransport_NoInput(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	line, ok := tr.ReadLineIfAvailable()
	assert.False(t, ok)
	assert.Empty(t, line)
}

func TestTransport_ReadLineThenDrain(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	input := "get_status\ntoggle_1\n"
	port.feed(input)
	waitBuffered(t, tr, len(input))

	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, "get_status", line)

	tr.Drain()
	assert.Equal(t, 0, tr.Available())
	assert.Equal(t, 1, port.flushes)

	_, ok = tr.ReadLineIfAvailable()
	assert.False(t, ok)
}

func TestTransport_KeepsCarriageReturn(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	port.feed("get_status\r\n")
	waitBuffered(t, tr, 12)

	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, "get_status\r", line)
}

func TestTransport_PartialLineTimeout(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()
	tr.SetLineTimeout(30 * time.Millisecond)

	port.feed("toggle_2")
	waitBuffered(t, tr, 8)

	_, ok := tr.ReadLineIfAvailable()
	assert.False(t, ok, "半行数据在超时前不应返回")

	var line string
	require.Eventually(t, func() bool {
		line, ok = tr.ReadLineIfAvailable()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "toggle_2", line)
}

func TestTransport_ReadAvailable(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	assert.Nil(t, tr.ReadAvailable())

	port.feed(`[{"id":0,"status":"off"}]`)
	waitBuffered(t, tr, 25)
	assert.Equal(t, `[{"id":0,"status":"off"}]`, string(tr.ReadAvailable()))
	assert.Equal(t, 0, tr.Available())
}

func TestTransport_WriteText(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	require.NoError(t, tr.WriteText(`[{"id":0,"status":"on"}]`))
	assert.Equal(t, `[{"id":0,"status":"on"}]`, port.written())

	port.writeErr = errors.New("broken pipe")
	err := tr.WriteText("x")
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialPortWrite))
}

func TestTransport_ReadErrorStopsLoop(t *testing.T) {
	port := &fakePort{readErr: errors.New("input/output error")}
	tr := NewPortTransport(port)
	defer tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("读取协程未退出")
	}
	assert.EqualError(t, tr.Err(), "input/output error")
}

func TestTransport_Close(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("关闭后读取协程未退出")
	}
	assert.True(t, port.closed)
}

func waitDrained(t *testing.T, port *fakePort) {
	t.Helper()
	require.Eventually(t, func() bool {
		port.mu.Lock()
		defer port.mu.Unlock()
		return port.in.Len() == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
}

func TestTransport_BufferLimit(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	// 超限位置之后有换行：从换行处截断，后面的整行完整保留
	junk := string(bytes.Repeat([]byte("a"), maxBuffered+100))
	port.feed(junk + "\ntoggle_1\n")
	waitDrained(t, port)

	assert.LessOrEqual(t, tr.Available(), maxBuffered)
	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, "toggle_1", line)
	assert.Equal(t, 0, tr.Available())
}

func TestTransport_BufferLimitDropsOldestWholeLine(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	long := string(bytes.Repeat([]byte("b"), maxBuffered-3))
	port.feed("first\n" + long + "\n")
	waitDrained(t, port)

	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, long, line)
}

func TestTransport_BufferLimitSkipsHeadlessLine(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	// 超限后没有换行：整段丢弃，直到下一个换行之前的字节都不进入缓冲
	port.feed(string(bytes.Repeat([]byte("a"), maxBuffered+100)))
	waitDrained(t, port)
	assert.Equal(t, 0, tr.Available())

	port.feed("aaaa\nget_status\n")
	waitBuffered(t, tr, len("get_status\n"))

	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, "get_status", line)
}

func TestTransport_EOFEndsStreamInput(t *testing.T) {
	tr := NewTransport(strings.NewReader("get_status\n"), &bytes.Buffer{}, nil)
	defer tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("输入结束后读取协程未退出")
	}
	assert.ErrorIs(t, tr.Err(), io.EOF)

	// 结束前收到的整行仍可读取
	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, "get_status", line)
}

func TestTransport_EOFIsTimeoutOnPort(t *testing.T) {
	port := &fakePort{}
	tr := NewPortTransport(port)
	defer tr.Close()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-tr.Done():
		t.Fatal("串口读超时不应结束读取")
	default:
	}
	assert.NoError(t, tr.Err())

	port.feed("toggle_2\n")
	waitBuffered(t, tr, len("toggle_2\n"))
	line, ok := tr.ReadLineIfAvailable()
	require.True(t, ok)
	assert.Equal(t, "toggle_2", line)
}
