package handlers

import (
	"time"

	"github.com/code-100-precent/LingLamp/internal/task"
	"github.com/code-100-precent/LingLamp/pkg/config"
	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/hardware"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeviceGateway 控制器依赖的网关能力
type DeviceGateway interface {
	Broadcast(directive string) int
	SetVoiceParams(voice tts.VoiceConfig) tts.VoiceConfig
	DefaultVoice() tts.VoiceConfig
	LatestLight() devices.LightStatus
	LatestVolume() int
	SessionCount() int
}

type Handlers struct {
	db       *gorm.DB
	gateway  DeviceGateway
	device   *hardware.Handler
	reporter *task.SleepReporter
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandlers(db *gorm.DB, gateway DeviceGateway, device *hardware.Handler, reporter *task.SleepReporter, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.L()
	}
	return &Handlers{
		db:       db,
		gateway:  gateway,
		device:   device,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
}

func apiPrefix() string {
	if config.GlobalConfig != nil && config.GlobalConfig.APIPrefix != "" {
		return config.GlobalConfig.APIPrefix
	}
	return "/api"
}

func (h *Handlers) Register(engine *gin.Engine) {
	// 设备长连接
	if h.device != nil {
		engine.GET("/esp32", h.HandleDevice)
	}

	h.registerLightRoutes(engine)
	h.registerVoiceRoutes(engine)
	h.registerSleepMusicRoutes(engine)

	r := engine.Group(apiPrefix())
	r.GET("/devices/status", h.DeviceStatus)
	h.registerAlarmRoutes(r)
	h.registerHealthRoutes(r)
	h.registerSleepRoutes(r)
}

func (h *Handlers) registerLightRoutes(engine *gin.Engine) {
	light := engine.Group("/light")
	{
		light.POST("/brightness", h.ControlBrightness)
		light.POST("/temperature", h.ControlTemperature)
		light.GET("/status", h.LightStatus)
	}
}

func (h *Handlers) registerVoiceRoutes(engine *gin.Engine) {
	voice := engine.Group("/voice")
	{
		voice.POST("/volume", h.ControlVolume)
		voice.POST("/getvolume", h.GetVolume)
		voice.GET("/getvolume", h.GetVolume)
		voice.POST("/params", h.SetVoiceParams)
		voice.GET("/params", h.GetVoiceParams)
	}
}

func (h *Handlers) registerSleepMusicRoutes(engine *gin.Engine) {
	music := engine.Group("/sleep-music")
	{
		music.GET("/start", h.StartSleepMusic)
		music.POST("/start", h.StartSleepMusic)
		music.GET("/stop", h.StopSleepMusic)
		music.POST("/stop", h.StopSleepMusic)
		music.POST("/control", h.ControlSleepMusic)
		music.GET("/switch", h.SwitchTrack)
		music.POST("/switch", h.SwitchTrack)
	}
}

func (h *Handlers) registerAlarmRoutes(r *gin.RouterGroup) {
	alarms := r.Group("/alarms")
	{
		alarms.POST("/create", h.CreateAlarm)
		alarms.DELETE("/:id", h.DeleteAlarm)
		alarms.GET("/list/:userId", h.ListAlarms)
		alarms.GET("/range/:userId", h.AlarmsInRange)
		alarms.PUT("/:id/status", h.UpdateAlarmStatus)
	}
}

func (h *Handlers) registerHealthRoutes(r *gin.RouterGroup) {
	r.POST("/health/upload", h.UploadHealthData)
}

func (h *Handlers) registerSleepRoutes(r *gin.RouterGroup) {
	sleep := r.Group("/sleep")
	{
		sleep.GET("/summary", h.GetSleepSummary)
		sleep.GET("/summaries", h.ListSleepSummaries)
		sleep.POST("/generate", h.GenerateSleepReport)
		sleep.POST("/check-and-generate", h.CheckAndGenerate)
	}
}
