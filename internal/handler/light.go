package handlers

import (
	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

const lightStep = 10

// ControlBrightness 调节亮度，command=1 调高，command=2 调低
// POST /light/brightness?command=1
func (h *Handlers) ControlBrightness(c *gin.Context) {
	var directive string
	switch cast.ToInt(c.Query("command")) {
	case 1:
		directive = devices.Directive(devices.ActionBrightnessUp, lightStep)
	case 2:
		directive = devices.Directive(devices.ActionBrightnessDown, lightStep)
	default:
		response.Fail(c, "Unknown brightness command", nil)
		return
	}
	h.broadcast(c, directive, "Sent: "+directive)
}

// ControlTemperature 调节色温，command=3 调高，command=4 调低
// POST /light/temperature?command=3
func (h *Handlers) ControlTemperature(c *gin.Context) {
	var directive string
	switch cast.ToInt(c.Query("command")) {
	case 3:
		directive = devices.Directive(devices.ActionTemperatureUp, lightStep)
	case 4:
		directive = devices.Directive(devices.ActionTemperatureDown, lightStep)
	default:
		response.Fail(c, "Unknown temperature command", nil)
		return
	}
	h.broadcast(c, directive, "Sent: "+directive)
}

// LightStatus 最近一次上报的灯光状态
// GET /light/status
func (h *Handlers) LightStatus(c *gin.Context) {
	light := h.gateway.LatestLight()
	response.Success(c, light.String(), light)
}
