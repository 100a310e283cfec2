package handlers

import (
	"strings"

	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
)

// StartSleepMusic 播放助眠音乐
// GET|POST /sleep-music/start
func (h *Handlers) StartSleepMusic(c *gin.Context) {
	h.broadcast(c, devices.Directive(devices.ActionSleepMusicStart, 0), "助眠音乐播放命令已发送")
}

// StopSleepMusic 停止助眠音乐
// GET|POST /sleep-music/stop
func (h *Handlers) StopSleepMusic(c *gin.Context) {
	h.broadcast(c, devices.Directive(devices.ActionSleepMusicStop, 0), "停止助眠音乐命令已发送")
}

// ControlSleepMusic action=start|play|on 播放，stop|pause|off 停止
// POST /sleep-music/control?action=play
func (h *Handlers) ControlSleepMusic(c *gin.Context) {
	action := strings.ToLower(strings.TrimSpace(c.Query("action")))
	switch action {
	case "":
		response.Fail(c, "缺少action参数", nil)
	case "start", "play", "on":
		h.StartSleepMusic(c)
	case "stop", "pause", "off":
		h.StopSleepMusic(c)
	default:
		response.Fail(c, "未知的action参数: "+action+"。支持的值: start, stop, play, pause, on, off", nil)
	}
}

// SwitchTrack direction=next|prev 切换曲目
// GET|POST /sleep-music/switch?direction=next
func (h *Handlers) SwitchTrack(c *gin.Context) {
	direction := strings.ToLower(strings.TrimSpace(c.Query("direction")))
	switch direction {
	case "":
		response.Fail(c, "缺少direction参数", nil)
	case "next", "下一首":
		h.broadcast(c, devices.Directive(devices.ActionSleepMusicNext, 0), "下一首命令已发送")
	case "prev", "previous", "上一首":
		h.broadcast(c, devices.Directive(devices.ActionSleepMusicPrev, 0), "上一首命令已发送")
	default:
		response.Fail(c, "未知的direction参数: "+direction+"。支持的值: next, prev, previous, 下一首, 上一首", nil)
	}
}
