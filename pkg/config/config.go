package config

import (
	"log"
	"os"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/logger"
	"github.com/code-100-precent/LingLamp/pkg/utils"
	"github.com/spf13/cast"
)

// AliyunConfig 阿里云智能语音交互配置
type AliyunConfig struct {
	AppKey          string `env:"ALIYUN_APP_KEY"`
	AccessKeyID     string `env:"ALIYUN_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"ALIYUN_ACCESS_KEY_SECRET"`
	Token           string `env:"ALIYUN_NLS_TOKEN"`
	URL             string `env:"ALIYUN_NLS_URL"`
	Region          string `env:"ALIYUN_NLS_REGION"`
}

// CozeConfig Coze 智能体配置
type CozeConfig struct {
	APIToken string `env:"COZE_API_TOKEN"`
	BotID    string `env:"COZE_BOT_ID"`
	UserID   string `env:"COZE_USER_ID"`
	BaseURL  string `env:"COZE_BASE_URL"`
}

// GatewayConfig 设备网关配置
type GatewayConfig struct {
	WakePhrase          string        `env:"WAKE_PHRASE"`
	WakeResponse        string        `env:"WAKE_RESPONSE"`
	WakeThreshold       float64       `env:"WAKE_THRESHOLD"`
	AwakeTimeout        time.Duration `env:"AWAKE_TIMEOUT"`
	TTSSilencePeriod    time.Duration `env:"TTS_SILENCE_PERIOD"`
	CommandGrace        time.Duration `env:"COMMAND_GRACE"`
	ReplyGrace          time.Duration `env:"REPLY_GRACE"`
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL"`
	StuckFrameThreshold int           `env:"STUCK_FRAME_THRESHOLD"`
	StuckResultWindow   time.Duration `env:"STUCK_RESULT_WINDOW"`
	WorkerPoolSize      int           `env:"WORKER_POOL_SIZE"`
	WorkerQueueSize     int           `env:"WORKER_QUEUE_SIZE"`
	DefaultVoiceID      string        `env:"DEFAULT_VOICE_ID"`
	DefaultSpeedRatio   float64       `env:"DEFAULT_SPEED_RATIO"`
	DefaultVolume       int           `env:"DEFAULT_VOLUME"`
}

// SleepConfig 睡眠报告任务配置
type SleepConfig struct {
	ReportEnabled   bool   `env:"SLEEP_REPORT_ENABLED"`
	ReportSchedule  string `env:"SLEEP_REPORT_SCHEDULE"`
	MotionThreshold int    `env:"SLEEP_MOTION_THRESHOLD"`
	StillSamples    int    `env:"SLEEP_STILL_SAMPLES"`
	MinTotalMinutes int    `env:"SLEEP_MIN_TOTAL_MINUTES"`
}

// Config 系统配置
type Config struct {
	ServerName    string `env:"SERVER_NAME"`
	DBDriver      string `env:"DB_DRIVER"`
	DSN           string `env:"DSN"`
	Log           logger.LogConfig
	Addr          string `env:"ADDR"`
	Mode          string `env:"MODE"`
	APIPrefix     string `env:"API_PREFIX"`
	MonitorPrefix string `env:"MONITOR_PREFIX"`
	RateLimit     string `env:"RATE_LIMIT"`

	Aliyun  AliyunConfig
	Coze    CozeConfig
	Gateway GatewayConfig
	Sleep   SleepConfig
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	env := os.Getenv("APP_ENV")
	err := utils.LoadEnv(env)
	if err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. 加载全局配置（所有配置都有默认值，确保无.env文件也能启动）
	defaults := hardware.DefaultOptions()
	GlobalConfig = &Config{
		ServerName:    getStringOrDefault("SERVER_NAME", "LingLamp"),
		DBDriver:      getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:           getStringOrDefault("DSN", "./linglamp.db"),
		Addr:          getStringOrDefault("ADDR", ":8080"),
		Mode:          getStringOrDefault("MODE", "development"),
		APIPrefix:     getStringOrDefault("API_PREFIX", "/api"),
		MonitorPrefix: getStringOrDefault("MONITOR_PREFIX", "/metrics"),
		RateLimit:     getStringOrDefault("RATE_LIMIT", "100-M"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		Aliyun: AliyunConfig{
			AppKey:          getStringOrDefault("ALIYUN_APP_KEY", ""),
			AccessKeyID:     getStringOrDefault("ALIYUN_ACCESS_KEY_ID", ""),
			AccessKeySecret: getStringOrDefault("ALIYUN_ACCESS_KEY_SECRET", ""),
			Token:           getStringOrDefault("ALIYUN_NLS_TOKEN", ""),
			URL:             getStringOrDefault("ALIYUN_NLS_URL", "wss://nls-gateway-cn-shanghai.aliyuncs.com/ws/v1"),
			Region:          getStringOrDefault("ALIYUN_NLS_REGION", "cn-shanghai"),
		},
		Coze: CozeConfig{
			APIToken: getStringOrDefault("COZE_API_TOKEN", ""),
			BotID:    getStringOrDefault("COZE_BOT_ID", ""),
			UserID:   getStringOrDefault("COZE_USER_ID", "linglamp"),
			BaseURL:  getStringOrDefault("COZE_BASE_URL", "https://api.coze.cn"),
		},
		Gateway: GatewayConfig{
			WakePhrase:          getStringOrDefault("WAKE_PHRASE", defaults.WakePhrase),
			WakeResponse:        getStringOrDefault("WAKE_RESPONSE", defaults.WakeResponse),
			WakeThreshold:       getFloatOrDefault("WAKE_THRESHOLD", defaults.WakeThreshold),
			AwakeTimeout:        getDurationOrDefault("AWAKE_TIMEOUT", defaults.AwakeTimeout),
			TTSSilencePeriod:    getDurationOrDefault("TTS_SILENCE_PERIOD", defaults.TTSSilencePeriod),
			CommandGrace:        getDurationOrDefault("COMMAND_GRACE", defaults.CommandGrace),
			ReplyGrace:          getDurationOrDefault("REPLY_GRACE", defaults.ReplyGrace),
			HealthCheckInterval: getDurationOrDefault("HEALTH_CHECK_INTERVAL", defaults.HealthCheckInterval),
			StuckFrameThreshold: getIntOrDefault("STUCK_FRAME_THRESHOLD", int(defaults.StuckFrameThreshold)),
			StuckResultWindow:   getDurationOrDefault("STUCK_RESULT_WINDOW", defaults.StuckResultWindow),
			WorkerPoolSize:      getIntOrDefault("WORKER_POOL_SIZE", defaults.WorkerPoolSize),
			WorkerQueueSize:     getIntOrDefault("WORKER_QUEUE_SIZE", defaults.WorkerQueueSize),
			DefaultVoiceID:      getStringOrDefault("DEFAULT_VOICE_ID", tts.DefaultVoiceID),
			DefaultSpeedRatio:   getFloatOrDefault("DEFAULT_SPEED_RATIO", tts.DefaultSpeedRatio),
			DefaultVolume:       getIntOrDefault("DEFAULT_VOLUME", tts.DefaultVolume),
		},
		Sleep: SleepConfig{
			ReportEnabled:   getBoolOrDefault("SLEEP_REPORT_ENABLED", true),
			ReportSchedule:  getStringOrDefault("SLEEP_REPORT_SCHEDULE", "*/5 6-12 * * *"),
			MotionThreshold: getIntOrDefault("SLEEP_MOTION_THRESHOLD", 30),
			StillSamples:    getIntOrDefault("SLEEP_STILL_SAMPLES", 5),
			MinTotalMinutes: getIntOrDefault("SLEEP_MIN_TOTAL_MINUTES", 30),
		},
	}
	return nil
}

// GatewayOptions 转换为网关运行参数
func (c *Config) GatewayOptions() hardware.Options {
	opts := hardware.DefaultOptions()
	g := c.Gateway
	opts.WakePhrase = g.WakePhrase
	opts.WakeResponse = g.WakeResponse
	opts.WakeThreshold = g.WakeThreshold
	opts.AwakeTimeout = g.AwakeTimeout
	opts.TTSSilencePeriod = g.TTSSilencePeriod
	opts.CommandGrace = g.CommandGrace
	opts.ReplyGrace = g.ReplyGrace
	opts.HealthCheckInterval = g.HealthCheckInterval
	opts.StuckFrameThreshold = int64(g.StuckFrameThreshold)
	opts.StuckResultWindow = g.StuckResultWindow
	opts.WorkerPoolSize = g.WorkerPoolSize
	opts.WorkerQueueSize = g.WorkerQueueSize
	opts.DefaultVoice = tts.VoiceConfig{
		VoiceID:    g.DefaultVoiceID,
		SpeedRatio: g.DefaultSpeedRatio,
		Volume:     g.DefaultVolume,
	}
	return opts
}

// getStringOrDefault 获取环境变量值，如果为空则返回默认值
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault 获取布尔环境变量值，如果为空则返回默认值
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault 获取整数环境变量值，如果为空则返回默认值
func getIntOrDefault(key string, defaultValue int) int {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return int(value)
}

// getFloatOrDefault 获取浮点环境变量值，如果为空则返回默认值
func getFloatOrDefault(key string, defaultValue float64) float64 {
	value := utils.GetFloatEnv(key)
	if value == 0 {
		return defaultValue
	}
	return value
}

// getDurationOrDefault 获取时长环境变量值（如 1500ms、30s），解析失败返回默认值
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	d, err := cast.ToDurationE(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
