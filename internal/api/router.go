package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/homelink/internal/middleware"
	"github.com/wfunc/homelink/internal/protocol"
	"github.com/wfunc/homelink/internal/service"
	ws "github.com/wfunc/homelink/internal/websocket"
	"go.uber.org/zap"
)

// DeviceLink 与控制器交互的链路，由 *bridge.Link 实现
type DeviceLink interface {
	GetStatus(ctx context.Context) ([]protocol.StatusEntry, error)
	Toggle(ctx context.Context, id string) ([]protocol.StatusEntry, error)
	LastStatus() ([]protocol.StatusEntry, time.Time)
	Healthy() bool
}

// Options 路由依赖，Link 以外均可为空
type Options struct {
	Link         DeviceLink
	SerialLogs   *service.SerialLogService
	DeviceStates *service.DeviceStateService
	Hub          *ws.Hub
	Logger       *zap.Logger
}

// Router API路由器
type Router struct {
	engine *gin.Engine
	opts   Options
	log    *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS())

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := &Router{
		engine: engine,
		opts:   opts,
		log:    log,
	}
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	devices := NewDeviceHandler(r.opts.Link, r.log)
	r.engine.GET("/devices", devices.GetDevices)
	r.engine.POST("/device/:id", devices.ToggleDevice)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/devices", devices.GetDevices)
		v1.GET("/devices/cached", devices.GetCachedDevices)
		v1.POST("/devices/:id/toggle", devices.ToggleDevice)

		if r.opts.SerialLogs != nil {
			NewSerialLogAPI(r.opts.SerialLogs).RegisterRoutes(v1)
		}
		if r.opts.DeviceStates != nil {
			NewDeviceStateAPI(r.opts.DeviceStates).RegisterRoutes(v1)
		}
	}

	if r.opts.Hub != nil {
		r.engine.GET("/ws", NewWebSocketHandler(r.opts.Hub, r.log).StatusWebSocket)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	healthy := r.opts.Link.Healthy()
	status := http.StatusOK
	text := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		text = "degraded"
	}

	body := gin.H{
		"status": text,
		"link":   healthy,
	}
	if r.opts.Hub != nil {
		body["ws_clients"] = r.opts.Hub.GetOnlineCount()
	}
	c.JSON(status, body)
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
