package controller

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/homelink/internal/device"
	"github.com/wfunc/homelink/internal/hardware"
)

const initialReport = `[{"id":0,"status":"off"},{"id":1,"status":"off"},{"id":2,"status":"on"}]`

// fakeTransport 按块提供输入：每块中第一行为命令，其余字节在 Drain 时丢弃
type fakeTransport struct {
	chunks   []string
	pending  string
	out      strings.Builder
	drains   int
	writeErr error
}

func (f *fakeTransport) ReadLineIfAvailable() (string, bool) {
	if f.pending == "" {
		if len(f.chunks) == 0 {
			return "", false
		}
		f.pending, f.chunks = f.chunks[0], f.chunks[1:]
	}
	line, rest, found := strings.Cut(f.pending, "\n")
	if !found {
		rest = ""
	}
	f.pending = rest
	return line, true
}

func (f *fakeTransport) Drain() {
	f.drains++
	f.pending = ""
}

func (f *fakeTransport) WriteText(text string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.out.WriteString(text)
	return nil
}

type failingLine struct{ calls int }

func (l *failingLine) SetOutput(bool) error {
	l.calls++
	return errors.New("gpio busy")
}

func newTestController(t *testing.T, chunks []string, opts ...Option) (*Controller, *fakeTransport, [device.Count]*hardware.MemoryLine) {
	t.Helper()

	var mem [device.Count]*hardware.MemoryLine
	var lines [device.Count]device.OutputLine
	for i, name := range []string{"7", "10", "12"} {
		mem[i] = hardware.NewMemoryLine(name)
		lines[i] = mem[i]
	}
	reg := device.NewRegistry(lines, [device.Count]bool{false, false, true})
	require.NoError(t, reg.Init())

	ft := &fakeTransport{chunks: chunks}
	return New(reg, ft, opts...), ft, mem
}

func pollAll(c *Controller) int {
	n := 0
	for c.Poll() {
		n++
	}
	return n
}

func TestPoll_NoInput(t *testing.T) {
	c, ft, _ := newTestController(t, nil)

	assert.False(t, c.Poll())
	assert.Empty(t, ft.out.String())
	assert.Equal(t, 0, ft.drains)
}

func TestPoll_GetStatus(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"get_status\n"})

	assert.Equal(t, 1, pollAll(c))
	assert.Equal(t, initialReport, ft.out.String())
	for _, l := range mem {
		assert.Equal(t, 1, l.Writes(), "查询不应写引脚")
	}
}

func TestPoll_ToggleReports(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"toggle_0\n"})

	pollAll(c)
	assert.Equal(t,
		`[{"id":0,"status":"on"},{"id":1,"status":"off"},{"id":2,"status":"on"}]`,
		ft.out.String())
	assert.True(t, mem[0].Level())
	assert.Equal(t, 2, mem[0].Writes())
	assert.Equal(t, 1, mem[1].Writes())
	assert.Equal(t, 1, mem[2].Writes())
}

func TestPoll_ToggleTwiceRestores(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"toggle_2\n", "toggle_2\n"})

	pollAll(c)
	assert.Equal(t,
		`[{"id":0,"status":"off"},{"id":1,"status":"off"},{"id":2,"status":"off"}]`+initialReport,
		ft.out.String())
	assert.True(t, mem[2].Level())
}

func TestPoll_InvalidToggleReportsUnchanged(t *testing.T) {
	for _, line := range []string{"toggle_9", "toggle_3", "toggle_x"} {
		t.Run(line, func(t *testing.T) {
			c, ft, mem := newTestController(t, []string{line + "\n"})

			pollAll(c)
			assert.Equal(t, initialReport, ft.out.String())
			for _, l := range mem {
				assert.Equal(t, 1, l.Writes())
			}
		})
	}
}

func TestPoll_InvalidToggleSilent(t *testing.T) {
	c, ft, _ := newTestController(t, []string{"toggle_9\n", "toggle_x\n"}, WithReportOnInvalidToggle(false))

	assert.Equal(t, 2, pollAll(c))
	assert.Empty(t, ft.out.String())
}

func TestPoll_UnknownIgnored(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"hello\n", "\n", "toggle_\n", "GET_STATUS\n"})

	assert.Equal(t, 4, pollAll(c))
	assert.Empty(t, ft.out.String())
	for _, l := range mem {
		assert.Equal(t, 1, l.Writes())
	}
}

func TestPoll_DrainsResidual(t *testing.T) {
	c, ft, _ := newTestController(t, []string{"get_status\ntoggle_0\n"})

	assert.Equal(t, 1, pollAll(c))
	assert.Equal(t, initialReport, ft.out.String())
	assert.Equal(t, 1, ft.drains)
}

func TestPoll_CRLFStrictByDefault(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"get_status\r\n", "toggle_\r\n"})

	assert.Equal(t, 2, pollAll(c))
	// get_status\r 不是合法命令；toggle_\r 是无效编号的翻转，照常回复
	assert.Equal(t, initialReport, ft.out.String())
	assert.False(t, mem[0].Level())
}

func TestPoll_AcceptCRLF(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"get_status\r\n", "toggle_0\r\n", "toggle_\r\n"},
		WithAcceptCRLF(true))

	assert.Equal(t, 3, pollAll(c))
	assert.True(t, mem[0].Level())
	assert.Equal(t, initialReport+
		`[{"id":0,"status":"on"},{"id":1,"status":"off"},{"id":2,"status":"on"}]`, ft.out.String())
}

func TestPoll_WriteErrorAbsorbed(t *testing.T) {
	c, ft, mem := newTestController(t, []string{"toggle_1\n", "get_status\n"})
	ft.writeErr = errors.New("port closed")

	assert.Equal(t, 2, pollAll(c))
	assert.True(t, mem[1].Level())
}

func TestDispatch_LineFailureStillReports(t *testing.T) {
	bad := &failingLine{}
	lines := [device.Count]device.OutputLine{hardware.NewMemoryLine("7"), bad, hardware.NewMemoryLine("12")}
	reg := device.NewRegistry(lines, [device.Count]bool{})
	ft := &fakeTransport{chunks: []string{"toggle_1\n"}}
	c := New(reg, ft)

	pollAll(c)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t,
		`[{"id":0,"status":"off"},{"id":1,"status":"on"},{"id":2,"status":"off"}]`,
		ft.out.String())
}

func TestRun_StopsOnCancel(t *testing.T) {
	c, _, _ := newTestController(t, nil, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run 未在取消后退出")
	}
}

// 通过真实的 Transport 和内存管道完成一次完整的请求应答
func TestRun_OverPipe(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()

	var lines [device.Count]device.OutputLine
	for i := range lines {
		lines[i] = hardware.NewMemoryLine("")
	}
	reg := device.NewRegistry(lines, [device.Count]bool{false, false, true})
	require.NoError(t, reg.Init())

	tr := hardware.NewPortTransport(dev)
	defer tr.Close()
	c := New(reg, tr, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, host.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := host.Write([]byte("toggle_1\n"))
	require.NoError(t, err)

	want := `[{"id":0,"status":"off"},{"id":1,"status":"on"},{"id":2,"status":"on"}]`
	buf := make([]byte, 0, len(want))
	chunk := make([]byte, 128)
	for len(buf) < len(want) {
		n, err := host.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
	assert.Equal(t, want, string(buf))
}
