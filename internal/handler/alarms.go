package handlers

import (
	"errors"

	"github.com/code-100-precent/LingLamp/internal/models"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

type createAlarmRequest struct {
	UserID     string `json:"userId"`
	AlarmTime  string `json:"alarmTime"`
	Type       int    `json:"type"`
	TargetDate string `json:"targetDate"`
	RepeatDays string `json:"repeatDays"`
	Tag        string `json:"tag"`
}

type alarmView struct {
	models.UserAlarm
	TypeDesc       string `json:"typeDesc"`
	RepeatDaysDesc string `json:"repeatDaysDesc,omitempty"`
}

func toAlarmViews(alarms []models.UserAlarm) []alarmView {
	views := make([]alarmView, 0, len(alarms))
	for i := range alarms {
		a := &alarms[i]
		views = append(views, alarmView{UserAlarm: *a, TypeDesc: a.TypeDesc(), RepeatDaysDesc: a.RepeatDaysDesc()})
	}
	return views
}

// CreateAlarm 创建闹钟
// POST /api/alarms/create
func (h *Handlers) CreateAlarm(c *gin.Context) {
	var req createAlarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "请求参数错误", err)
		return
	}
	if req.UserID == "" {
		response.Fail(c, "用户ID不能为空", nil)
		return
	}

	alarm := &models.UserAlarm{
		UserID:     req.UserID,
		AlarmTime:  req.AlarmTime,
		Type:       req.Type,
		TargetDate: req.TargetDate,
		RepeatDays: req.RepeatDays,
		Tag:        req.Tag,
	}
	existed, err := models.CreateAlarm(h.db, alarm)
	if errors.Is(err, models.ErrInvalidAlarm) {
		response.Fail(c, "闹钟参数不完整或格式不正确", nil)
		return
	}
	if err != nil {
		h.logger.Error("创建闹钟失败", zap.String("userId", req.UserID), zap.Error(err))
		response.Fail(c, "创建闹钟失败", err)
		return
	}

	msg := "闹钟创建成功"
	if existed {
		msg = "闹钟已存在，已重新启用"
	}
	response.Success(c, msg, gin.H{"id": alarm.ID, "existed": existed})
}

func alarmErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrAlarmNotFound):
		return "闹钟不存在"
	case errors.Is(err, models.ErrAlarmForbidden):
		return "无权操作该闹钟"
	case errors.Is(err, models.ErrInvalidAlarm):
		return "状态值只能为 0 或 1"
	}
	return "服务器异常"
}

// DeleteAlarm 删除闹钟
// DELETE /api/alarms/:id?userId=
func (h *Handlers) DeleteAlarm(c *gin.Context) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil || id == 0 {
		response.Fail(c, "无效的闹钟ID", nil)
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		response.Fail(c, "用户ID不能为空", nil)
		return
	}
	if err := models.DeleteAlarm(h.db, id, userID); err != nil {
		response.Fail(c, alarmErrorMessage(err), nil)
		return
	}
	response.Success(c, "闹钟删除成功", nil)
}

// ListAlarms 用户全部闹钟
// GET /api/alarms/list/:userId
func (h *Handlers) ListAlarms(c *gin.Context) {
	alarms, err := models.ListUserAlarms(h.db, c.Param("userId"))
	if err != nil {
		response.Fail(c, "查询失败", err)
		return
	}
	views := toAlarmViews(alarms)
	response.Success(c, "查询成功", gin.H{"total": len(views), "alarms": views})
}

// AlarmsInRange 时间窗口内启用的闹钟
// GET /api/alarms/range/:userId?startTime=07:00&endTime=08:00
func (h *Handlers) AlarmsInRange(c *gin.Context) {
	start, end := c.Query("startTime"), c.Query("endTime")
	alarms, err := models.ListAlarmsInRange(h.db, c.Param("userId"), start, end)
	if errors.Is(err, models.ErrInvalidAlarm) {
		response.Fail(c, "时间格式错误，请使用 HH:MM 或 HH:MM:SS", nil)
		return
	}
	if err != nil {
		response.Fail(c, "查询失败", err)
		return
	}
	views := toAlarmViews(alarms)
	response.Success(c, "查询成功", gin.H{
		"startTime": start,
		"endTime":   end,
		"total":     len(views),
		"alarms":    views,
	})
}

// UpdateAlarmStatus 启用或禁用闹钟
// PUT /api/alarms/:id/status?userId=&status=1
func (h *Handlers) UpdateAlarmStatus(c *gin.Context) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil || id == 0 {
		response.Fail(c, "无效的闹钟ID", nil)
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		response.Fail(c, "用户ID不能为空", nil)
		return
	}
	status, err := cast.ToIntE(c.Query("status"))
	if err != nil {
		response.Fail(c, "状态值只能为 0 或 1", nil)
		return
	}
	if err := models.UpdateAlarmStatus(h.db, id, userID, status); err != nil {
		response.Fail(c, alarmErrorMessage(err), nil)
		return
	}
	response.Success(c, "闹钟状态更新成功", nil)
}
