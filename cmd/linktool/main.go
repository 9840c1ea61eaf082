package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wfunc/homelink/internal/bridge"
	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/hardware"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/protocol"
)

var (
	device  = flag.String("d", "/dev/ttyACM0", "串口设备")
	baud    = flag.Int("b", 9600, "波特率")
	settle  = flag.Duration("settle", 2*time.Second, "打开串口后等待控制器复位的时间")
	timeout = flag.Duration("timeout", time.Second, "等待回复的最长时间")
)

func main() {
	flag.Parse()

	if err := logger.Init(&config.LogConfig{Level: "warn", Format: "console", Output: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	transport, err := hardware.OpenSerialTransport(config.SerialConfig{
		Port:        *device,
		BaudRate:    *baud,
		DataBits:    8,
		StopBits:    1,
		Parity:      "N",
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开串口: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()

	fmt.Printf("串口已打开: %s @ %d，等待控制器复位...\n", *device, *baud)
	time.Sleep(*settle)
	transport.Drain()

	link := bridge.NewLink(transport, *timeout, bridge.WithPortName(*device))

	fmt.Println("输入 'status' 查询状态，'toggle N' 翻转设备，'raw <文本>' 发送原始行，'quit' 退出")
	fmt.Println("----------------------------------------")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" {
			fmt.Println("退出程序...")
			break
		}

		line, ok := commandLine(input)
		if !ok {
			fmt.Println("未知命令")
			continue
		}

		start := time.Now()
		entries, err := link.Exchange(context.Background(), line)
		if err != nil {
			fmt.Printf("失败: %v\n", err)
			continue
		}
		printStatus(entries, time.Since(start))
	}
}

// commandLine 把控制台输入转换为发送给控制器的一行
func commandLine(input string) (string, bool) {
	fields := strings.SplitN(input, " ", 2)
	switch fields[0] {
	case "status":
		return protocol.FormatGetStatus(), true
	case "toggle":
		if len(fields) != 2 {
			return "", false
		}
		return protocol.FormatToggle(strings.TrimSpace(fields[1])), true
	case "raw":
		if len(fields) != 2 {
			return "", false
		}
		return fields[1] + "\n", true
	}
	return "", false
}

func printStatus(entries []protocol.StatusEntry, elapsed time.Duration) {
	for _, e := range entries {
		fmt.Printf("  设备 %d: %s\n", e.ID, e.Status)
	}
	fmt.Printf("耗时 %s\n", elapsed.Round(time.Millisecond))
}
