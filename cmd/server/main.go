package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "github.com/code-100-precent/LingLamp/internal/handler"
	"github.com/code-100-precent/LingLamp/internal/models"
	"github.com/code-100-precent/LingLamp/internal/task"
	"github.com/code-100-precent/LingLamp/pkg/config"
	"github.com/code-100-precent/LingLamp/pkg/hardware"
	"github.com/code-100-precent/LingLamp/pkg/hardware/asr"
	"github.com/code-100-precent/LingLamp/pkg/hardware/errhandler"
	"github.com/code-100-precent/LingLamp/pkg/hardware/llm"
	"github.com/code-100-precent/LingLamp/pkg/hardware/nls"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/logger"
	"github.com/code-100-precent/LingLamp/pkg/metrics"
	"github.com/code-100-precent/LingLamp/pkg/middleware"
	"github.com/code-100-precent/LingLamp/pkg/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LingLampApp struct {
	db       *gorm.DB
	gateway  *hardware.Gateway
	handlers *handlers.Handlers
}

func NewLingLampApp(db *gorm.DB, gateway *hardware.Gateway, reporter *task.SleepReporter) *LingLampApp {
	return &LingLampApp{
		db:       db,
		gateway:  gateway,
		handlers: handlers.NewHandlers(db, gateway, hardware.NewHandler(gateway, zap.L()), reporter, zap.L()),
	}
}

func (app *LingLampApp) RegisterRoutes(r *gin.Engine) {
	app.handlers.Register(r)
}

// newGateway 组装识别、合成与智能体客户端
func newGateway(cfg *config.Config, m *metrics.Metrics) (*hardware.Gateway, func()) {
	var fetcher nls.TokenFetcher
	if cfg.Aliyun.Token == "" {
		f, err := nls.NewOpenAPIFetcher(cfg.Aliyun.AccessKeyID, cfg.Aliyun.AccessKeySecret, cfg.Aliyun.Region)
		if err != nil {
			logger.Warn("阿里云 Token 申请器初始化失败，语音识别不可用", zap.Error(err))
		} else {
			fetcher = f
		}
	}
	tokens := nls.NewTokenService(fetcher, cfg.Aliyun.Token, zap.L())
	pool := nls.NewPool(cfg.Aliyun.URL, 0, zap.L())

	recognizers := asr.NewAliyunFactory(asr.Config{AppKey: cfg.Aliyun.AppKey}, asr.PoolConnector(pool), zap.L())
	synthesizer := tts.NewFlowingSynthesizer(tts.FlowingConfig{AppKey: cfg.Aliyun.AppKey}, &nls.TokenDialer{Tokens: tokens, Pool: pool}, zap.L())
	speaker := tts.NewService(synthesizer, errhandler.NewHandler(zap.L()), zap.L())

	deps := hardware.Deps{
		Recognizers: recognizers,
		Tokens:      tokens,
		Speaker:     speaker,
		Metrics:     m,
		Logger:      zap.L(),
	}
	var agent *llm.CozeAgent
	if a, err := llm.NewCozeAgent(llm.CozeConfig{
		Token:   cfg.Coze.APIToken,
		BotID:   cfg.Coze.BotID,
		UserID:  cfg.Coze.UserID,
		BaseURL: cfg.Coze.BaseURL,
	}, zap.L()); err != nil {
		logger.Warn("Coze 智能体未配置，仅支持本地指令", zap.Error(err))
	} else {
		agent = a
		deps.Agent = a
	}

	gateway := hardware.NewGateway(cfg.GatewayOptions(), deps)
	return gateway, func() {
		_ = speaker.Close()
		if agent != nil {
			_ = agent.Close()
		}
		pool.Shutdown()
	}
}

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()

	// 2. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 3. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig

	// 4. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("checked config -- addr: ", zap.String("addr", cfg.Addr))
	logger.Info("checked config -- db-driver: ", zap.String("db-driver", cfg.DBDriver), zap.String("dsn", cfg.DSN))
	logger.Info("checked config -- mode: ", zap.String("mode", cfg.Mode))

	// 5. Load Data Source
	db, err := utils.InitDatabase(os.Stdout, cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}
	if err := db.AutoMigrate(&models.UserAlarm{}, &models.HealthData{}, &models.SleepSummary{}); err != nil {
		logger.Error("database migrate failed", zap.Error(err))
		return
	}

	// 6. Device Gateway
	m := metrics.NewMetrics("linglamp")
	gateway, closeClients := newGateway(cfg, m)
	defer closeClients()

	// 7. Start Timed task
	reporter := task.NewSleepReporter(db, task.SleepReportConfig{
		MotionThreshold: float64(cfg.Sleep.MotionThreshold),
		StillSamples:    cfg.Sleep.StillSamples,
		MinTotalMinutes: float64(cfg.Sleep.MinTotalMinutes),
	}, zap.L())
	if cfg.Sleep.ReportEnabled {
		c, err := task.StartSleepReporter(reporter, cfg.Sleep.ReportSchedule)
		if err != nil {
			logger.Error("sleep reporter start failed", zap.Error(err))
		} else {
			defer c.Stop()
		}
	}

	app := NewLingLampApp(db, gateway, reporter)

	// 8. Initialize Gin Routing
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	// 9. use middleware
	r.Use(middleware.LoggerMiddleware(zap.L()))

	fullMonitorPrefix := cfg.APIPrefix + cfg.MonitorPrefix
	if err := middleware.SetRateLimiterConfig(middleware.RateLimiterConfig{
		Rate:        cfg.RateLimit,
		Identifier:  "device",
		AddHeaders:  true,
		DenyStatus:  http.StatusTooManyRequests,
		DenyMessage: "Requests too frequent, please try again later",
		PerRouteRates: map[string]string{
			cfg.APIPrefix + "/health/upload": "600-M", // 设备每 30 秒上报，留足余量
		},
		SkipPaths: []string{
			"/esp32",
			fullMonitorPrefix,
		},
	}); err != nil {
		logger.Error("rate limiter config invalid", zap.Error(err))
		return
	}
	r.Use(middleware.RateLimiterMiddleware())

	// 10. Register Routes
	app.RegisterRoutes(r)
	r.GET(fullMonitorPrefix, gin.WrapH(m.Handler()))
	logger.Info("Metrics routes registered", zap.String("prefix", fullMonitorPrefix))

	// 11. Start HTTP Server
	httpServer := &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server run failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := gateway.Shutdown(ctx); err != nil {
		logger.Warn("gateway shutdown failed", zap.Error(err))
	}
}
