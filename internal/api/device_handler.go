package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/middleware"
	"go.uber.org/zap"
)

// DeviceHandler 设备查询与翻转接口
type DeviceHandler struct {
	link   DeviceLink
	logger *zap.Logger
}

// NewDeviceHandler 创建设备处理器
func NewDeviceHandler(link DeviceLink, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{link: link, logger: logger}
}

// GetDevices 向控制器发送 get_status，返回状态数组
func (h *DeviceHandler) GetDevices(c *gin.Context) {
	entries, err := h.link.GetStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ToggleDevice 向控制器发送 toggle_<id>，id 原样透传
func (h *DeviceHandler) ToggleDevice(c *gin.Context) {
	entries, err := h.link.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetCachedDevices 返回最近一次获取的状态，不访问串口
func (h *DeviceHandler) GetCachedDevices(c *gin.Context) {
	entries, at := h.link.LastStatus()
	if entries == nil {
		h.respondError(c, errors.New(errors.ErrNotFound, "尚未获取过设备状态"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"devices":    entries,
		"updated_at": at,
	})
}

func (h *DeviceHandler) respondError(c *gin.Context, err error) {
	appErr := errors.From(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Warn("设备请求失败",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, errors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}
