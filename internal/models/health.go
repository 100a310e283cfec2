package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultUserID 设备未携带用户时使用的默认用户
const DefaultUserID = "user123"

// 设备上报的睡眠状态
const (
	SleepStatusWake  = "WAKE"
	SleepStatusREM   = "REM"
	SleepStatusDeep  = "DEEP"
	SleepStatusLight = "LIGHT"
)

var ErrInvalidHealthData = errors.New("健康数据不合法")

// HealthData 设备每 30 秒上报一次的体征采样
type HealthData struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        string    `json:"userId" gorm:"size:64;index:idx_health_user_time"`
	HeartRate     int       `json:"heartRate"`
	BreathingRate int       `json:"breathingRate"`
	SleepStatus   string    `json:"sleepStatus" gorm:"size:16"`
	MotionIndex   *float64  `json:"motionIndex,omitempty"`
	UploadTime    time.Time `json:"uploadTime" gorm:"index:idx_health_user_time"`
}

func (HealthData) TableName() string {
	return "health_data"
}

// IsWake 是否清醒
func IsWake(status string) bool {
	return strings.EqualFold(status, SleepStatusWake)
}

// IsREM 是否快速眼动睡眠
func IsREM(status string) bool {
	return strings.EqualFold(status, SleepStatusREM)
}

// IsNonREM 是否浅睡或深睡
func IsNonREM(status string) bool {
	return strings.EqualFold(status, SleepStatusLight) || strings.EqualFold(status, SleepStatusDeep)
}

// IsSleeping 是否处于任一睡眠阶段
func IsSleeping(status string) bool {
	return IsREM(status) || IsNonREM(status)
}

// Validate 校验取值范围并补全默认值
func (h *HealthData) Validate() error {
	if h.SleepStatus == "" || !(IsWake(h.SleepStatus) || IsSleeping(h.SleepStatus)) {
		return ErrInvalidHealthData
	}
	if h.HeartRate < 0 || h.HeartRate > 300 {
		return ErrInvalidHealthData
	}
	if h.BreathingRate < 0 || h.BreathingRate > 100 {
		return ErrInvalidHealthData
	}
	if h.MotionIndex != nil && (*h.MotionIndex < 0 || *h.MotionIndex > 100) {
		return ErrInvalidHealthData
	}
	h.SleepStatus = strings.ToUpper(h.SleepStatus)
	if strings.TrimSpace(h.UserID) == "" {
		h.UserID = DefaultUserID
	}
	return nil
}

// SaveHealthData 保存一条采样，UploadTime 为空时取 now
func SaveHealthData(db *gorm.DB, data *HealthData, now time.Time) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if data.UploadTime.IsZero() {
		data.UploadTime = now
	}
	return db.Create(data).Error
}

// ListHealthData 按时间升序返回 [from, to) 内的采样
func ListHealthData(db *gorm.DB, userID string, from, to time.Time) ([]HealthData, error) {
	var list []HealthData
	err := db.Where("user_id = ? AND upload_time >= ? AND upload_time < ?", userID, from, to).
		Order("upload_time ASC").
		Find(&list).Error
	return list, err
}

// DeleteHealthData 删除 [from, to) 内的采样
func DeleteHealthData(db *gorm.DB, userID string, from, to time.Time) (int64, error) {
	result := db.Where("user_id = ? AND upload_time >= ? AND upload_time < ?", userID, from, to).
		Delete(&HealthData{})
	return result.RowsAffected, result.Error
}

// HealthDataUsers 返回有采样数据的用户
func HealthDataUsers(db *gorm.DB) ([]string, error) {
	var users []string
	err := db.Model(&HealthData{}).Distinct("user_id").Pluck("user_id", &users).Error
	return users, err
}
