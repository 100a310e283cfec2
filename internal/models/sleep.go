package models

import (
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

// DateLayout 报告日期格式
const DateLayout = "2006-01-02"

// SleepSummary 用户某晚的睡眠汇总，QueryDate 为入睡所在日期
type SleepSummary struct {
	ID                    uint       `json:"-" gorm:"primaryKey"`
	UserID                string     `json:"-" gorm:"size:64;uniqueIndex:idx_sleep_user_date"`
	QueryDate             string     `json:"query_date" gorm:"size:10;uniqueIndex:idx_sleep_user_date"`
	SleepTime             *time.Time `json:"sleep_time"`
	WakeTime              *time.Time `json:"wake_time"`
	SampleCount           int        `json:"sample_count"`
	LightSleepDurationMin float64    `json:"light_sleep_duration_min"`
	DeepSleepDurationMin  float64    `json:"deep_sleep_duration_min"`
	RemDurationMin        float64    `json:"rem_duration_min"`
	TotalSleepMin         float64    `json:"total_sleep_min"`
	AvgHeartRate          float64    `json:"avg_heart_rate"`
	AvgBreathingRate      float64    `json:"avg_breathing_rate"`
	WakeCount             int        `json:"wake_count"`
	WakeStartTimes        string     `json:"-" gorm:"type:text"`
	Message               string     `json:"message,omitempty" gorm:"size:512"`
	CreatedAt             time.Time  `json:"-" gorm:"autoCreateTime"`
	UpdatedAt             time.Time  `json:"-" gorm:"autoUpdateTime"`
}

func (SleepSummary) TableName() string {
	return "sleep_summary"
}

// EncodeWakeStartTimes 序列化清醒段起始时间
func EncodeWakeStartTimes(times []time.Time) string {
	if len(times) == 0 {
		return "[]"
	}
	data, err := sonic.Marshal(times)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// WakeStartList 解析清醒段起始时间，格式错误时返回空
func (s *SleepSummary) WakeStartList() []time.Time {
	times := []time.Time{}
	if s.WakeStartTimes == "" {
		return times
	}
	if err := sonic.UnmarshalString(s.WakeStartTimes, &times); err != nil {
		return []time.Time{}
	}
	return times
}

// GetSleepSummary 查询某日汇总，不存在返回 nil
func GetSleepSummary(db *gorm.DB, userID, date string) (*SleepSummary, error) {
	var summary SleepSummary
	err := db.Where("user_id = ? AND query_date = ?", userID, date).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// SaveSleepSummary 按 (user, date) 插入或覆盖
func SaveSleepSummary(db *gorm.DB, summary *SleepSummary) error {
	existing, err := GetSleepSummary(db, summary.UserID, summary.QueryDate)
	if err != nil {
		return err
	}
	if existing != nil {
		summary.ID = existing.ID
		summary.CreatedAt = existing.CreatedAt
		return db.Save(summary).Error
	}
	return db.Create(summary).Error
}

// ListSleepSummaries 按日期升序返回 [startDate, endDate] 内的汇总
func ListSleepSummaries(db *gorm.DB, userID, startDate, endDate string) ([]SleepSummary, error) {
	var list []SleepSummary
	err := db.Where("user_id = ? AND query_date >= ? AND query_date <= ?", userID, startDate, endDate).
		Order("query_date ASC").
		Find(&list).Error
	return list, err
}
