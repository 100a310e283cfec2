package handlers

import (
	"net/http"

	"github.com/code-100-precent/LingLamp/pkg/hardware"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var deviceUpgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 设备不携带 Origin
	},
}

// HandleDevice 设备 WebSocket 接入
// GET /esp32
func (h *Handlers) HandleDevice(c *gin.Context) {
	deviceKey := hardware.DeviceKey(c.Request, c.ClientIP())

	conn, err := deviceUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("设备连接升级失败", zap.String("deviceKey", deviceKey), zap.Error(err))
		return
	}
	h.device.HandleWebSocket(conn, deviceKey)
}

// DeviceStatus 在线设备与最近上报状态
// GET /api/devices/status
func (h *Handlers) DeviceStatus(c *gin.Context) {
	response.Success(c, "查询成功", gin.H{
		"sessions": h.gateway.SessionCount(),
		"light":    h.gateway.LatestLight(),
		"volume":   h.gateway.LatestVolume(),
		"voice":    h.gateway.DefaultVoice(),
	})
}

// broadcast 下发指令并返回统一结果
func (h *Handlers) broadcast(c *gin.Context, directive, msg string) {
	sent := h.gateway.Broadcast(directive)
	response.Success(c, msg, gin.H{
		"command": directive,
		"sent":    sent,
	})
}
