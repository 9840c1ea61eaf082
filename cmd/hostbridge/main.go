package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/homelink/internal/api"
	"github.com/wfunc/homelink/internal/bridge"
	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/database"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/hardware"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/service"
	ws "github.com/wfunc/homelink/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 主机桥接服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	link       *bridge.Link
	port       *hardware.ReconnectingPort
	serialLogs *service.SerialLogService
	states     *service.DeviceStateService
	hub        *ws.Hub
	gateway    *bridge.MQTTGateway
	httpServer *http.Server

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
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

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		server.closeComponents()
		logger.Fatal("服务启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务关闭失败", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("服务已安全关闭")
	logger.Sync()
}

// NewServer 创建服务实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 初始化组件并启动HTTP服务
func (s *Server) Start() error {
	s.logger.Info("正在启动主机桥接服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode))

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initLink(); err != nil {
		return err
	}
	s.initHub()
	if err := s.initMQTT(); err != nil {
		return err
	}
	s.startHTTPServer()

	// 监听配置变化，只有日志级别支持热更新
	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("日志级别已更新", zap.String("level", newCfg.Log.Level))
	})

	s.logger.Info("服务启动成功",
		zap.String("http", s.httpServer.Addr),
		zap.String("serial", s.cfg.Bridge.Serial.Port))
	return nil
}

// initDatabase 初始化数据库和串口日志服务
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库未启用，跳过串口日志")
		return nil
	}

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库失败")
	}
	s.serialLogs = service.NewSerialLogService(database.GetDB())
	s.states = service.NewDeviceStateService(database.GetDB())
	return nil
}

// initLink 打开串口链路，串口不可用时在后台重连
func (s *Server) initLink() error {
	opts := []bridge.LinkOption{}
	if s.serialLogs != nil && s.cfg.Bridge.LogExchanges {
		opts = append(opts, bridge.WithRecorder(s.serialLogs))
	}

	link, port, err := bridge.OpenSerialLink(s.cfg.Bridge, opts...)
	if err != nil {
		return err
	}
	s.link = link
	s.port = port
	if s.states != nil {
		s.link.Subscribe(s.states)
	}
	return nil
}

// initHub 启动WebSocket中心并订阅状态
func (s *Server) initHub() {
	s.hub = ws.NewHub(logger.WithModule("websocket"))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()
	s.link.Subscribe(s.hub)
}

// initMQTT 连接MQTT代理
func (s *Server) initMQTT() error {
	if !s.cfg.MQTT.Enabled {
		return nil
	}

	gateway := bridge.NewMQTTGateway(s.cfg.MQTT, s.link, s.cfg.Bridge.ResponseTimeout)
	if err := gateway.Connect(); err != nil {
		return err
	}
	s.gateway = gateway
	s.link.Subscribe(gateway)
	return nil
}

// startHTTPServer 启动HTTP服务
func (s *Server) startHTTPServer() {
	gin.SetMode(s.cfg.Server.Mode)

	router := api.NewRouter(api.Options{
		Link:         s.link,
		SerialLogs:   s.serialLogs,
		DeviceStates: s.states,
		Hub:          s.hub,
		Logger:       logger.WithModule("api"),
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.cancel()
		}
	}()
}

// WaitForShutdown 等待关闭信号或HTTP服务故障
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
	}
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		s.closeComponents()
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	s.closeComponents()
	return nil
}

// closeComponents 关闭组件，顺序与启动相反
func (s *Server) closeComponents() {
	if s.gateway != nil {
		s.gateway.Close()
	}
	if s.serialLogs != nil {
		s.serialLogs.Close()
	}
	if s.states != nil {
		s.states.Close()
	}
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			s.logger.Warn("关闭串口失败", zap.Error(err))
		}
	}
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("homelink 主机桥接服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
}
