package handlers

import (
	"strings"

	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

const defaultVolumeStep = 10

// ControlVolume 音量控制：1 调高 value（默认 10），2 调低，3 设置为 value
// POST /voice/volume?command=1&value=15
func (h *Handlers) ControlVolume(c *gin.Context) {
	command := c.Query("command")
	if command == "" {
		response.Fail(c, "Missing command", nil)
		return
	}
	raw, hasValue := c.GetQuery("value")
	value, err := cast.ToIntE(raw)
	if hasValue && err != nil {
		response.Fail(c, "Invalid volume value", nil)
		return
	}

	var directive string
	switch n := cast.ToInt(command); n {
	case 1, 2:
		step := defaultVolumeStep
		if hasValue {
			step = max(value, 0)
		}
		action := devices.ActionVolumeUp
		if n == 2 {
			action = devices.ActionVolumeDown
		}
		directive = devices.Directive(action, step)
	case 3:
		if !hasValue {
			response.Fail(c, "Missing volume value", nil)
			return
		}
		directive = devices.VolumeSet(value)
	default:
		response.Fail(c, "Unknown volume command", nil)
		return
	}
	h.broadcast(c, directive, "Sent: "+directive)
}

// GetVolume 最近一次上报的音量
// POST|GET /voice/getvolume
func (h *Handlers) GetVolume(c *gin.Context) {
	response.Success(c, "查询成功", h.gateway.LatestVolume())
}

type voiceParamsRequest struct {
	VoiceID    *string  `json:"voiceId" form:"voiceId"`
	SpeedRatio *float64 `json:"speedRatio" form:"speedRatio"`
	Volume     *int     `json:"volume" form:"volume"`
}

// SetVoiceParams 更新默认语音参数并应用到所有在线会话，未提供的字段保持不变
// POST /voice/params
func (h *Handlers) SetVoiceParams(c *gin.Context) {
	var req voiceParamsRequest
	var err error
	if strings.HasPrefix(c.ContentType(), "application/json") {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		response.Fail(c, "Invalid request", err)
		return
	}

	voice := tts.VoiceConfig{Volume: -1}
	if req.VoiceID != nil {
		voice.VoiceID = strings.TrimSpace(*req.VoiceID)
	}
	if req.SpeedRatio != nil {
		if *req.SpeedRatio <= 0 {
			response.Fail(c, "speedRatio 必须大于 0", nil)
			return
		}
		voice.SpeedRatio = *req.SpeedRatio
	}
	if req.Volume != nil {
		if *req.Volume < 0 || *req.Volume > 100 {
			response.Fail(c, "volume 范围为 0-100", nil)
			return
		}
		voice.Volume = *req.Volume
	}

	applied := h.gateway.SetVoiceParams(voice)
	response.Success(c, "语音参数已更新", applied)
}

// GetVoiceParams 当前默认语音参数
// GET /voice/params
func (h *Handlers) GetVoiceParams(c *gin.Context) {
	response.Success(c, "查询成功", h.gateway.DefaultVoice())
}
