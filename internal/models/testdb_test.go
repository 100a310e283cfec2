package models

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// newTestDB 内存库，迁移闹钟、健康采样与睡眠汇总表
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	silent := glog.New(log.New(io.Discard, "", log.LstdFlags), glog.Config{
		LogLevel:                  glog.Silent,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&UserAlarm{}, &HealthData{}, &SleepSummary{}))
	return db
}
