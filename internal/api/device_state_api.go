package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/middleware"
	"github.com/wfunc/homelink/internal/service"
)

// defaultStaleAge 未指定 age 时判定设备失联的时长
const defaultStaleAge = 5 * time.Minute

// DeviceStateAPI 持久化设备状态API
type DeviceStateAPI struct {
	service *service.DeviceStateService
}

// NewDeviceStateAPI 创建设备状态API
func NewDeviceStateAPI(service *service.DeviceStateService) *DeviceStateAPI {
	return &DeviceStateAPI{service: service}
}

// RegisterRoutes 注册路由
func (api *DeviceStateAPI) RegisterRoutes(router *gin.RouterGroup) {
	states := router.Group("/device-states")
	{
		states.GET("", api.ListStates)
		states.GET("/stale", api.ListStale)
	}
}

// ListStates 返回每个设备的最近状态和翻转次数
func (api *DeviceStateAPI) ListStates(c *gin.Context) {
	states, err := api.service.List(c.Request.Context())
	if err != nil {
		api.fail(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  states,
		"count": len(states),
	})
}

// ListStale 返回超过 age 未出现在状态报告中的设备，age 为 Go duration 格式
func (api *DeviceStateAPI) ListStale(c *gin.Context) {
	age := defaultStaleAge
	if raw := c.Query("age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			api.fail(c, errors.Newf(errors.ErrInvalidParam, "age=%q", raw))
			return
		}
		age = d
	}

	states, err := api.service.Stale(c.Request.Context(), age)
	if err != nil {
		api.fail(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  states,
		"count": len(states),
		"age":   age.String(),
	})
}

func (api *DeviceStateAPI) fail(c *gin.Context, err error) {
	appErr := errors.From(err)
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}
