package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/homelink/internal/device"
	"github.com/wfunc/homelink/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"查询状态", "get_status", Command{Kind: KindGetStatus}},
		{"CRLF结尾不匹配", "get_status\r", Command{Kind: KindUnknown}},
		{"翻转0", "toggle_0", Command{Kind: KindToggle, ID: 0}},
		{"翻转2", "toggle_2", Command{Kind: KindToggle, ID: 2}},
		{"翻转9", "toggle_9", Command{Kind: KindToggle, ID: 9}},
		{"只看第一位", "toggle_12", Command{Kind: KindToggle, ID: 1}},
		{"后缀忽略", "toggle_1abc", Command{Kind: KindToggle, ID: 1}},
		{"非数字", "toggle_x", Command{Kind: KindToggle, ID: InvalidID}},
		{"缺少编号", "toggle_", Command{Kind: KindUnknown}},
		{"编号为回车", "toggle_\r", Command{Kind: KindToggle, ID: InvalidID}},
		{"CRLF翻转", "toggle_1\r", Command{Kind: KindToggle, ID: 1}},
		{"空行", "", Command{Kind: KindUnknown}},
		{"任意文本", "foo", Command{Kind: KindUnknown}},
		{"大小写敏感", "GET_STATUS", Command{Kind: KindUnknown}},
		{"前导空格", " get_status", Command{Kind: KindUnknown}},
		{"多余后缀", "get_status_now", Command{Kind: KindUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.line))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "get_status", KindGetStatus.String())
	assert.Equal(t, "toggle", KindToggle.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "get_status\n", FormatGetStatus())
	assert.Equal(t, "toggle_1\n", FormatToggle("1"))
}

func TestReport(t *testing.T) {
	devices := []device.Device{
		{ID: 0, On: false},
		{ID: 1, On: false},
		{ID: 2, On: true},
	}

	assert.Equal(t,
		`[{"id":0,"status":"off"},{"id":1,"status":"off"},{"id":2,"status":"on"}]`,
		string(Report(devices)))

	assert.Equal(t, "[]", string(Report(nil)))
}

func TestDecodeReport(t *testing.T) {
	entries, err := DecodeReport([]byte(`[{"id":0,"status":"off"},{"id":1,"status":"on"}]` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []StatusEntry{{ID: 0, Status: "off"}, {ID: 1, Status: "on"}}, entries)

	for _, bad := range []string{``, `{"id":0}`, `null`, `[{"id":0,"status":"dim"}]`, `[{"id":0,`} {
		_, err := DecodeReport([]byte(bad))
		assert.True(t, errors.Is(err, errors.ErrInvalidResponse), "input %q", bad)
	}
}

func TestCompleteReport(t *testing.T) {
	assert.False(t, CompleteReport(nil))
	assert.False(t, CompleteReport([]byte(`[{"id":0,"sta`)))
	assert.True(t, CompleteReport([]byte(`[{"id":0,"status":"on"}]`)))
	assert.True(t, CompleteReport([]byte("  []\n")))
}
