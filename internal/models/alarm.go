package models

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	AlarmTypeOneTime   = 1
	AlarmTypeRecurring = 2

	AlarmStatusDisabled = 0
	AlarmStatusEnabled  = 1
)

var (
	ErrAlarmNotFound  = errors.New("闹钟不存在")
	ErrAlarmForbidden = errors.New("无权操作其他用户的闹钟")
	ErrInvalidAlarm   = errors.New("闹钟参数不正确")
)

var dayNames = []string{"", "周一", "周二", "周三", "周四", "周五", "周六", "周日"}

// UserAlarm 用户闹钟，单次闹钟使用 TargetDate，循环闹钟使用 RepeatDays
type UserAlarm struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"userId" gorm:"size:64;index"`
	AlarmTime  string    `json:"alarmTime" gorm:"size:8;index"` // HH:MM:SS
	Type       int       `json:"type"`
	TargetDate string    `json:"targetDate,omitempty" gorm:"size:10"` // YYYY-MM-DD
	RepeatDays string    `json:"repeatDays,omitempty" gorm:"size:32"` // 1=周一 ... 7=周日
	Tag        string    `json:"tag" gorm:"size:64"`
	Status     int       `json:"status" gorm:"default:1"`
	CreatedAt  time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (UserAlarm) TableName() string {
	return "user_alarms"
}

// TypeDesc 类型描述
func (a *UserAlarm) TypeDesc() string {
	if a.Type == AlarmTypeOneTime {
		return "单次"
	}
	return "循环"
}

// RepeatDaysDesc 循环闹钟的中文描述，如 "周一、周二（工作日）"
func (a *UserAlarm) RepeatDaysDesc() string {
	if a.Type != AlarmTypeRecurring || a.RepeatDays == "" {
		return ""
	}
	return RepeatDaysDesc(a.RepeatDays)
}

// RepeatDaysDesc 将 "1,2,3" 转换为中文描述
func RepeatDaysDesc(repeatDays string) string {
	var names []string
	for _, part := range strings.Split(repeatDays, ",") {
		day, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return repeatDays
		}
		if day >= 1 && day <= 7 {
			names = append(names, dayNames[day])
		}
	}
	desc := strings.Join(names, "、")
	switch repeatDays {
	case "1,2,3,4,5":
		desc += "（工作日）"
	case "6,7":
		desc += "（周末）"
	case "1,2,3,4,5,6,7":
		desc += "（每天）"
	}
	return desc
}

// NormalizeAlarmTime 接受 HH:MM 或 HH:MM:SS，统一为 HH:MM:SS
func NormalizeAlarmTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04:05"), nil
		}
	}
	return "", ErrInvalidAlarm
}

// Validate 校验并规范化闹钟字段
func (a *UserAlarm) Validate() error {
	if a.UserID == "" {
		return ErrInvalidAlarm
	}
	normalized, err := NormalizeAlarmTime(a.AlarmTime)
	if err != nil {
		return err
	}
	a.AlarmTime = normalized

	switch a.Type {
	case AlarmTypeOneTime:
		if _, err := time.Parse("2006-01-02", a.TargetDate); err != nil {
			return ErrInvalidAlarm
		}
		a.RepeatDays = ""
	case AlarmTypeRecurring:
		if strings.TrimSpace(a.RepeatDays) == "" {
			return ErrInvalidAlarm
		}
		for _, part := range strings.Split(a.RepeatDays, ",") {
			day, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || day < 1 || day > 7 {
				return ErrInvalidAlarm
			}
		}
		a.TargetDate = ""
	default:
		return ErrInvalidAlarm
	}
	return nil
}

// CreateAlarm 创建闹钟，已存在相同闹钟时重新启用并返回 existed=true
func CreateAlarm(db *gorm.DB, alarm *UserAlarm) (existed bool, err error) {
	if err := alarm.Validate(); err != nil {
		return false, err
	}

	var dup UserAlarm
	query := db.Where("user_id = ? AND alarm_time = ? AND type = ?", alarm.UserID, alarm.AlarmTime, alarm.Type)
	if alarm.Type == AlarmTypeOneTime {
		query = query.Where("target_date = ?", alarm.TargetDate)
	} else {
		query = query.Where("repeat_days = ?", alarm.RepeatDays)
	}
	err = query.First(&dup).Error
	if err == nil {
		dup.Status = AlarmStatusEnabled
		dup.Tag = alarm.Tag
		if err := db.Save(&dup).Error; err != nil {
			return true, err
		}
		*alarm = dup
		return true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	alarm.Status = AlarmStatusEnabled
	return false, db.Create(alarm).Error
}

// GetUserAlarm 查询闹钟并校验归属
func GetUserAlarm(db *gorm.DB, id uint, userID string) (*UserAlarm, error) {
	var alarm UserAlarm
	if err := db.First(&alarm, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlarmNotFound
		}
		return nil, err
	}
	if alarm.UserID != userID {
		return nil, ErrAlarmForbidden
	}
	return &alarm, nil
}

// DeleteAlarm 删除自己的闹钟
func DeleteAlarm(db *gorm.DB, id uint, userID string) error {
	alarm, err := GetUserAlarm(db, id, userID)
	if err != nil {
		return err
	}
	return db.Delete(alarm).Error
}

// UpdateAlarmStatus 启用或禁用闹钟
func UpdateAlarmStatus(db *gorm.DB, id uint, userID string, status int) error {
	if status != AlarmStatusEnabled && status != AlarmStatusDisabled {
		return ErrInvalidAlarm
	}
	alarm, err := GetUserAlarm(db, id, userID)
	if err != nil {
		return err
	}
	return db.Model(alarm).Update("status", status).Error
}

// ListUserAlarms 按响铃时间排序返回用户全部闹钟
func ListUserAlarms(db *gorm.DB, userID string) ([]UserAlarm, error) {
	var alarms []UserAlarm
	err := db.Where("user_id = ?", userID).Order("alarm_time ASC").Find(&alarms).Error
	return alarms, err
}

// ListAlarmsInRange 返回时间窗口 [start, end] 内启用的闹钟，起止颠倒时自动交换
func ListAlarmsInRange(db *gorm.DB, userID, start, end string) ([]UserAlarm, error) {
	from, err := NormalizeAlarmTime(start)
	if err != nil {
		return nil, err
	}
	to, err := NormalizeAlarmTime(end)
	if err != nil {
		return nil, err
	}
	if from > to {
		from, to = to, from
	}

	var alarms []UserAlarm
	err = db.Where("user_id = ? AND status = ? AND alarm_time BETWEEN ? AND ?", userID, AlarmStatusEnabled, from, to).
		Order("alarm_time ASC").
		Find(&alarms).Error
	return alarms, err
}
