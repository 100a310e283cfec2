package task

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/code-100-precent/LingLamp/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 每条采样代表 30 秒
const sampleIntervalMin = 0.5

var (
	ErrNoHealthData    = errors.New("该日期睡眠窗口内无健康数据记录")
	ErrSleepTooShort   = errors.New("睡眠时间过短，无法生成有效报告，已清理数据")
	ErrIncompleteSleep = errors.New("睡眠数据不完整，缺少完整的睡眠周期")
)

// SleepReportConfig 睡眠报告参数
type SleepReportConfig struct {
	MotionThreshold float64
	StillSamples    int
	MinTotalMinutes float64
	WindowStartHour int
	WindowEndHour   int
}

// DefaultSleepReportConfig 默认参数：体动阈值 30，连续 5 条零体动确认起床，至少 30 分钟
func DefaultSleepReportConfig() SleepReportConfig {
	return SleepReportConfig{
		MotionThreshold: 30,
		StillSamples:    5,
		MinTotalMinutes: 30,
		WindowStartHour: 18,
		WindowEndHour:   12,
	}
}

// SleepReporter 根据健康采样生成睡眠汇总
type SleepReporter struct {
	db     *gorm.DB
	cfg    SleepReportConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewSleepReporter(db *gorm.DB, cfg SleepReportConfig, logger *zap.Logger) *SleepReporter {
	def := DefaultSleepReportConfig()
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	if cfg.StillSamples <= 0 {
		cfg.StillSamples = def.StillSamples
	}
	if cfg.MinTotalMinutes <= 0 {
		cfg.MinTotalMinutes = def.MinTotalMinutes
	}
	if cfg.WindowStartHour <= 0 {
		cfg.WindowStartHour = def.WindowStartHour
	}
	if cfg.WindowEndHour <= 0 {
		cfg.WindowEndHour = def.WindowEndHour
	}
	if logger == nil {
		logger = zap.L()
	}
	return &SleepReporter{db: db, cfg: cfg, logger: logger, now: time.Now}
}

// window 返回 date 当天 18:00 到次日 12:00
func (r *SleepReporter) window(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, r.cfg.WindowStartHour, 0, 0, 0, date.Location())
	end := time.Date(y, m, d+1, r.cfg.WindowEndHour, 0, 0, 0, date.Location())
	return start, end
}

// CheckAll 检查所有有采样的用户，返回生成的报告数
func (r *SleepReporter) CheckAll() int {
	users, err := models.HealthDataUsers(r.db)
	if err != nil {
		r.logger.Error("查询健康数据用户失败", zap.Error(err))
		return 0
	}
	generated := 0
	for _, userID := range users {
		ok, err := r.CheckUser(userID)
		if err != nil {
			r.logger.Error("生成睡眠报告失败", zap.String("userId", userID), zap.Error(err))
			continue
		}
		if ok {
			generated++
		}
	}
	return generated
}

// CheckUser 确认用户已起床后生成昨晚的报告，已存在则跳过
func (r *SleepReporter) CheckUser(userID string) (bool, error) {
	queryDate := r.now().AddDate(0, 0, -1)
	start, end := r.window(queryDate)
	date := queryDate.Format(models.DateLayout)

	samples, err := models.ListHealthData(r.db, userID, start, end)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		r.logger.Debug("睡眠窗口内无数据", zap.String("userId", userID))
		return false, nil
	}
	if !GotUp(samples, r.cfg.MotionThreshold, r.cfg.StillSamples) {
		r.logger.Debug("用户尚未起床", zap.String("userId", userID))
		return false, nil
	}

	existing, err := models.GetSleepSummary(r.db, userID, date)
	if err != nil {
		return false, err
	}
	if existing != nil {
		r.logger.Debug("睡眠报告已存在，跳过生成", zap.String("userId", userID), zap.String("date", date))
		return false, nil
	}

	if _, err := r.generate(userID, queryDate, samples, true); err != nil {
		if errors.Is(err, ErrIncompleteSleep) || errors.Is(err, ErrSleepTooShort) {
			r.logger.Info("睡眠数据无效", zap.String("userId", userID), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TryGenerate 不检查起床状态直接尝试生成指定日期的报告
func (r *SleepReporter) TryGenerate(userID string, date time.Time) (*models.SleepSummary, error) {
	start, end := r.window(date)
	samples, err := models.ListHealthData(r.db, userID, start, end)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoHealthData
	}
	return r.generate(userID, date, samples, true)
}

// GenerateManually 手动生成，忽略周期和时长校验，无数据返回 nil
func (r *SleepReporter) GenerateManually(userID string, date time.Time) (*models.SleepSummary, error) {
	start, end := r.window(date)
	samples, err := models.ListHealthData(r.db, userID, start, end)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		r.logger.Info("睡眠窗口内无数据", zap.String("userId", userID), zap.String("date", date.Format(models.DateLayout)))
		return nil, nil
	}
	return r.generate(userID, date, samples, false)
}

// Summary 查询汇总，不存在时尝试生成
func (r *SleepReporter) Summary(userID string, date time.Time) (*models.SleepSummary, error) {
	summary, err := models.GetSleepSummary(r.db, userID, date.Format(models.DateLayout))
	if err != nil || summary != nil {
		return summary, err
	}
	return r.TryGenerate(userID, date)
}

// generate 生成并保存汇总，随后删除已使用的采样；校验失败同样清理采样
func (r *SleepReporter) generate(userID string, date time.Time, samples []models.HealthData, validate bool) (*models.SleepSummary, error) {
	start, end := r.window(date)

	summary := BuildSleepSummary(userID, date, samples, r.cfg.MotionThreshold)
	if validate {
		err := ValidateSleepCycle(samples)
		if err == nil && summary.TotalSleepMin < r.cfg.MinTotalMinutes {
			err = ErrSleepTooShort
		}
		if err != nil {
			deleted, derr := models.DeleteHealthData(r.db, userID, start, end)
			if derr != nil {
				r.logger.Warn("清理无效健康数据失败", zap.String("userId", userID), zap.Error(derr))
			}
			r.logger.Info("睡眠数据无效，已清理", zap.String("userId", userID), zap.Int64("deleted", deleted), zap.Error(err))
			return nil, err
		}
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := models.SaveSleepSummary(tx, summary); err != nil {
			return err
		}
		deleted, err := models.DeleteHealthData(tx, userID, start, end)
		if err != nil {
			return err
		}
		r.logger.Info("睡眠报告已生成",
			zap.String("userId", userID),
			zap.String("date", summary.QueryDate),
			zap.Float64("totalSleepMin", summary.TotalSleepMin),
			zap.Int64("deleted", deleted))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// GotUp 起床判定：REM 转 WAKE 后出现高体动，随后连续 stillSamples 条零体动
func GotUp(samples []models.HealthData, threshold float64, stillSamples int) bool {
	if len(samples) < stillSamples {
		return false
	}
	remToWake, highMotion := false, false
	still := 0
	prev := ""
	for _, s := range samples {
		if prev != "" && models.IsREM(prev) && models.IsWake(s.SleepStatus) {
			remToWake, highMotion, still = true, false, 0
		}
		if remToWake && models.IsWake(s.SleepStatus) && s.MotionIndex != nil {
			m := *s.MotionIndex
			switch {
			case !highMotion && m >= threshold:
				highMotion = true
			case highMotion && m == 0:
				still++
				if still >= stillSamples {
					return true
				}
			case highMotion && m > 0:
				still = 0
			}
		}
		if models.IsSleeping(s.SleepStatus) {
			remToWake, highMotion, still = false, false, 0
		}
		prev = s.SleepStatus
	}
	return false
}

// ValidateSleepCycle 要求至少一个完整的 WAKE → LIGHT/DEEP → REM → WAKE 周期
func ValidateSleepCycle(samples []models.HealthData) error {
	state := 0
	hasWake, hasNonREM, hasREM := false, false, false
	for _, s := range samples {
		status := s.SleepStatus
		switch state {
		case 0:
			if models.IsWake(status) {
				state, hasWake = 1, true
			}
		case 1:
			if models.IsNonREM(status) {
				state, hasNonREM = 2, true
			}
		case 2:
			if models.IsREM(status) {
				state, hasREM = 3, true
			} else if models.IsWake(status) {
				state = 1
			}
		case 3:
			if models.IsWake(status) {
				return nil
			} else if models.IsNonREM(status) {
				state = 2
			}
		}
	}

	var missing []string
	if !hasWake {
		missing = append(missing, "缺少清醒(WAKE)状态")
	}
	if !hasNonREM {
		missing = append(missing, "缺少非REM睡眠(LIGHT/DEEP)状态")
	}
	if !hasREM {
		missing = append(missing, "缺少REM睡眠状态")
	}
	if state == 3 {
		missing = append(missing, "睡眠周期未完成（最终未检测到清醒）")
	}
	return fmt.Errorf("%w：%s", ErrIncompleteSleep, strings.Join(missing, "；"))
}

// 起夜检测状态
const (
	wakeIdle = iota
	wakeWokeUp
	wakeGettingOff
	wakeLeftBed
	wakeGettingOn
)

// BuildSleepSummary 统计各阶段时长、平均体征和起夜次数
func BuildSleepSummary(userID string, date time.Time, samples []models.HealthData, threshold float64) *models.SleepSummary {
	var remCount, deepCount, lightCount int
	var heartSum, breathSum, heartN, breathN int
	var sleepTime, wakeTime *time.Time
	var wakeStarts []time.Time
	wakeCount, state := 0, wakeIdle
	prev := ""

	for i := range samples {
		s := samples[i]
		status := s.SleepStatus
		switch {
		case models.IsREM(status):
			remCount++
		case strings.EqualFold(status, models.SleepStatusDeep):
			deepCount++
		case strings.EqualFold(status, models.SleepStatusLight):
			lightCount++
		}
		if s.HeartRate > 0 {
			heartSum += s.HeartRate
			heartN++
		}
		if s.BreathingRate > 0 {
			breathSum += s.BreathingRate
			breathN++
		}
		if sleepTime == nil && models.IsSleeping(status) {
			t := s.UploadTime
			sleepTime = &t
		}
		sleepToWake := prev != "" && models.IsSleeping(prev) && models.IsWake(status)
		if sleepToWake {
			t := s.UploadTime
			wakeStarts = append(wakeStarts, t)
			wakeTime = &t
		}

		high := s.MotionIndex != nil && *s.MotionIndex >= threshold
		zero := s.MotionIndex != nil && *s.MotionIndex == 0
		if state == wakeIdle && sleepToWake {
			state = wakeWokeUp
		}
		if state == wakeWokeUp && high {
			state = wakeGettingOff
		}
		if state == wakeGettingOff && zero {
			state = wakeLeftBed
		}
		if state == wakeLeftBed && high {
			state = wakeGettingOn
		}
		if state == wakeGettingOn && models.IsSleeping(status) {
			wakeCount++
			state = wakeIdle
		}
		if state > wakeIdle && state < wakeGettingOn && models.IsSleeping(status) {
			state = wakeIdle
		}
		prev = status
	}

	rem := float64(remCount) * sampleIntervalMin
	deep := float64(deepCount) * sampleIntervalMin
	light := float64(lightCount) * sampleIntervalMin
	summary := &models.SleepSummary{
		UserID:                userID,
		QueryDate:             date.Format(models.DateLayout),
		SleepTime:             sleepTime,
		WakeTime:              wakeTime,
		SampleCount:           len(samples),
		LightSleepDurationMin: round2(light),
		DeepSleepDurationMin:  round2(deep),
		RemDurationMin:        round2(rem),
		TotalSleepMin:         round2(rem + deep + light),
		WakeCount:             wakeCount,
		WakeStartTimes:        models.EncodeWakeStartTimes(wakeStarts),
	}
	if heartN > 0 {
		summary.AvgHeartRate = round2(float64(heartSum) / float64(heartN))
	}
	if breathN > 0 {
		summary.AvgBreathingRate = round2(float64(breathSum) / float64(breathN))
	}
	return summary
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// StartSleepReporter 按 schedule 定时检查起床并生成报告
func StartSleepReporter(r *SleepReporter, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		r.logger.Info("开始检查用户起床状态")
		n := r.CheckAll()
		r.logger.Info("睡眠报告检查完成", zap.Int("generated", n))
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	r.logger.Info("Sleep reporter started", zap.String("schedule", schedule))
	return c, nil
}
