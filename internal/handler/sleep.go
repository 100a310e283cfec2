package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/code-100-precent/LingLamp/internal/models"
	"github.com/code-100-precent/LingLamp/internal/task"
	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxSummaryRangeDays 范围查询最多覆盖的天数
const maxSummaryRangeDays = 366

type sleepSummaryView struct {
	*models.SleepSummary
	WakeStartTimes []time.Time `json:"wake_start_times"`
}

func toSummaryView(s *models.SleepSummary) sleepSummaryView {
	return sleepSummaryView{SleepSummary: s, WakeStartTimes: s.WakeStartList()}
}

func (h *Handlers) parseDate(value string) (time.Time, error) {
	return time.ParseInLocation(models.DateLayout, strings.TrimSpace(value), h.now().Location())
}

func userOrDefault(c *gin.Context) string {
	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		return userID
	}
	return models.DefaultUserID
}

// GetSleepSummary 查询某日睡眠汇总，不存在时尝试生成
// GET /api/sleep/summary?date=2026-01-15&userId=
func (h *Handlers) GetSleepSummary(c *gin.Context) {
	date, err := h.parseDate(c.Query("date"))
	if err != nil {
		response.Fail(c, "日期格式错误，请使用 YYYY-MM-DD 格式，例如：2026-01-15", nil)
		return
	}
	userID := userOrDefault(c)

	summary, err := h.reporter.Summary(userID, date)
	if errors.Is(err, task.ErrNoHealthData) || errors.Is(err, task.ErrIncompleteSleep) || errors.Is(err, task.ErrSleepTooShort) {
		response.Fail(c, err.Error(), gin.H{"query_date": date.Format(models.DateLayout), "sample_count": 0})
		return
	}
	if err != nil {
		h.logger.Error("睡眠汇总查询失败", zap.String("userId", userID), zap.Error(err))
		response.Fail(c, "查询失败", err)
		return
	}
	response.Success(c, "查询成功", toSummaryView(summary))
}

// ListSleepSummaries 查询日期范围内已有的睡眠报告
// GET /api/sleep/summaries?userId=&startDate=&endDate=
func (h *Handlers) ListSleepSummaries(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		response.Fail(c, "用户ID不能为空", nil)
		return
	}
	start, err1 := h.parseDate(c.Query("startDate"))
	end, err2 := h.parseDate(c.Query("endDate"))
	if err1 != nil || err2 != nil {
		response.Fail(c, "日期格式错误，请使用 YYYY-MM-DD 格式，例如：2026-01-15", nil)
		return
	}
	if start.After(end) {
		response.Fail(c, "开始日期不能晚于结束日期", nil)
		return
	}
	if end.Sub(start) > maxSummaryRangeDays*24*time.Hour {
		response.Fail(c, "查询范围不能超过一年", nil)
		return
	}

	// 逐日补生成缺失的报告
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if _, err := h.reporter.Summary(userID, d); err != nil &&
			!errors.Is(err, task.ErrNoHealthData) && !errors.Is(err, task.ErrIncompleteSleep) && !errors.Is(err, task.ErrSleepTooShort) {
			h.logger.Warn("生成睡眠报告失败", zap.String("userId", userID), zap.Time("date", d), zap.Error(err))
		}
	}

	list, err := models.ListSleepSummaries(h.db, userID, start.Format(models.DateLayout), end.Format(models.DateLayout))
	if err != nil {
		response.Fail(c, "查询失败", err)
		return
	}
	views := make([]sleepSummaryView, 0, len(list))
	for i := range list {
		views = append(views, toSummaryView(&list[i]))
	}
	msg := "查询成功"
	if len(views) == 0 {
		msg = "所选日期段内无睡眠报告数据"
	}
	response.Success(c, msg, gin.H{
		"userId":    userID,
		"startDate": start.Format(models.DateLayout),
		"endDate":   end.Format(models.DateLayout),
		"count":     len(views),
		"summaries": views,
	})
}

// GenerateSleepReport 手动生成报告，忽略起床检测，date 默认昨天
// POST /api/sleep/generate?userId=&date=
func (h *Handlers) GenerateSleepReport(c *gin.Context) {
	userID := userOrDefault(c)
	date := h.now().AddDate(0, 0, -1)
	if raw := c.Query("date"); raw != "" {
		parsed, err := h.parseDate(raw)
		if err != nil {
			response.Fail(c, "日期格式错误，请使用 YYYY-MM-DD 格式", nil)
			return
		}
		date = parsed
	}

	summary, err := h.reporter.GenerateManually(userID, date)
	if err != nil {
		h.logger.Error("生成睡眠报告失败", zap.String("userId", userID), zap.Error(err))
		response.Fail(c, "生成失败", err)
		return
	}
	if summary == nil {
		response.Fail(c, "该时间窗口内无睡眠数据", gin.H{"userId": userID, "queryDate": date.Format(models.DateLayout)})
		return
	}
	response.Success(c, "睡眠报告生成成功", toSummaryView(summary))
}

// CheckAndGenerate 立即检查所有用户起床状态并生成报告
// POST /api/sleep/check-and-generate
func (h *Handlers) CheckAndGenerate(c *gin.Context) {
	generated := h.reporter.CheckAll()
	response.Success(c, "已检查所有用户起床状态", gin.H{"generated": generated})
}
