// Package protocol 实现控制器的行协议：命令解析与状态报告编码。
//
// 输入为以 \n 结尾的文本行：
//
//	get_status   查询状态
//	toggle_<d>   翻转设备 d 并返回状态
//
// 其他输入一律忽略。
package protocol

import "strings"

const (
	getStatusLiteral = "get_status"
	togglePrefix     = "toggle_"
)

// InvalidID 非数字编号解析后的取值，总是超出设备范围
const InvalidID = -1

// Kind 命令类型
type Kind int

const (
	KindUnknown Kind = iota
	KindGetStatus
	KindToggle
)

func (k Kind) String() string {
	switch k {
	case KindGetStatus:
		return "get_status"
	case KindToggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Command 解析后的命令，ID 只对 KindToggle 有意义
type Command struct {
	Kind Kind
	ID   int
}

// Parse 把一行文本解析为命令，行内容必须完全匹配，\r 不做特殊处理。
// toggle_ 后只看第一个字符；非数字字符得到 InvalidID，缺少字符得到 KindUnknown。
func Parse(line string) Command {
	if line == getStatusLiteral {
		return Command{Kind: KindGetStatus}
	}

	rest, ok := strings.CutPrefix(line, togglePrefix)
	if !ok || rest == "" {
		return Command{Kind: KindUnknown}
	}

	return Command{Kind: KindToggle, ID: digit(rest[0])}
}

func digit(c byte) int {
	if c < '0' || c > '9' {
		return InvalidID
	}
	return int(c - '0')
}

// FormatGetStatus 主机侧使用的查询命令行
func FormatGetStatus() string {
	return getStatusLiteral + "\n"
}

// FormatToggle 主机侧使用的翻转命令行，id 原样透传
func FormatToggle(id string) string {
	return togglePrefix + id + "\n"
}
