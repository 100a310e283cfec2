package handlers

import (
	"errors"

	"github.com/code-100-precent/LingLamp/internal/models"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type healthUploadRequest struct {
	UserID        string   `json:"userId"`
	HeartRate     *int     `json:"heartRate"`
	BreathingRate *int     `json:"breathingRate"`
	SleepStatus   string   `json:"sleepStatus"`
	MotionIndex   *float64 `json:"motionIndex"`
}

// UploadHealthData 设备上报心率、呼吸、体动与睡眠状态
// POST /api/health/upload
func (h *Handlers) UploadHealthData(c *gin.Context) {
	var req healthUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "请求参数错误", err)
		return
	}
	if req.HeartRate == nil || req.BreathingRate == nil || req.SleepStatus == "" {
		response.Fail(c, "心率、呼吸频率或睡眠状态不能为空", nil)
		return
	}

	data := &models.HealthData{
		UserID:        req.UserID,
		HeartRate:     *req.HeartRate,
		BreathingRate: *req.BreathingRate,
		SleepStatus:   req.SleepStatus,
		MotionIndex:   req.MotionIndex,
	}
	if err := models.SaveHealthData(h.db, data, h.now()); err != nil {
		if errors.Is(err, models.ErrInvalidHealthData) {
			response.Fail(c, "数据数值异常（心率 0-300，呼吸 0-100，体动 0-100）", nil)
			return
		}
		h.logger.Error("健康数据上传失败", zap.Error(err))
		response.Fail(c, "数据上传失败", err)
		return
	}
	response.Success(c, "数据上传成功", data)
}
