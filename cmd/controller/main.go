package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/controller"
	"github.com/wfunc/homelink/internal/hardware"
	"github.com/wfunc/homelink/internal/logger"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		port        = flag.String("port", "", "串口设备，覆盖配置中的 serial.port（stdio 表示标准输入输出）")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()
	if *port != "" {
		cfg.Serial.Port = *port
	}

	// 初始化日志系统，日志只写 stderr 和文件
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("控制器异常退出", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("控制器已安全关闭")
}

func run(cfg *config.Config) error {
	reg, err := controller.BuildRegistry(cfg.Controller)
	if err != nil {
		return err
	}

	transport, err := hardware.OpenSerialTransport(cfg.Serial)
	if err != nil {
		return err
	}
	defer transport.Close()

	ctrl := controller.New(reg, transport,
		controller.WithPollInterval(cfg.Controller.PollInterval),
		controller.WithReportOnInvalidToggle(cfg.Controller.ReportOnInvalidToggle),
		controller.WithAcceptCRLF(cfg.Controller.AcceptCRLF),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("收到退出信号", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	// 串口读取失败或输入结束时退出
	go func() {
		select {
		case <-transport.Done():
			if err := transport.Err(); err != nil && err != io.EOF {
				logger.Error("串口已断开", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("控制器启动",
		zap.String("version", Version),
		zap.String("port", cfg.Serial.Port),
		zap.Int("baud_rate", cfg.Serial.BaudRate))

	if err := ctrl.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	if err := transport.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("homelink 设备控制器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
}
