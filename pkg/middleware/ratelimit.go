package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/code-100-precent/LingLamp/pkg/response"
	"github.com/gin-gonic/gin"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// RateLimiterConfig 限流配置，Rate 形如 "100-M"
type RateLimiterConfig struct {
	Rate          string
	Identifier    string // ip 或 device
	AddHeaders    bool
	DenyStatus    int
	DenyMessage   string
	PerRouteRates map[string]string
	SkipPaths     []string
}

type routeLimiter struct {
	prefix  string
	limiter *limiter.Limiter
}

type rateLimiterState struct {
	cfg     RateLimiterConfig
	global  *limiter.Limiter
	byRoute []routeLimiter
}

var (
	rlMu    sync.RWMutex
	rlState *rateLimiterState
)

// DefaultRateLimiterConfig 默认每个 IP 每分钟 100 次
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:        "100-M",
		Identifier:  "ip",
		AddHeaders:  true,
		DenyStatus:  http.StatusTooManyRequests,
		DenyMessage: "请求过于频繁，请稍后再试",
		SkipPaths:   []string{"/health", "/metrics"},
	}
}

// SetRateLimiterConfig 替换全局限流配置，格式错误的速率被忽略
func SetRateLimiterConfig(cfg RateLimiterConfig) error {
	def := DefaultRateLimiterConfig()
	if cfg.Rate == "" {
		cfg.Rate = def.Rate
	}
	if cfg.DenyStatus == 0 {
		cfg.DenyStatus = def.DenyStatus
	}
	if cfg.DenyMessage == "" {
		cfg.DenyMessage = def.DenyMessage
	}
	if cfg.Identifier == "" {
		cfg.Identifier = def.Identifier
	}

	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return err
	}
	state := &rateLimiterState{
		cfg:    cfg,
		global: limiter.New(memory.NewStore(), rate),
	}
	for prefix, formatted := range cfg.PerRouteRates {
		r, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			zap.L().Warn("忽略无效的路由限流配置", zap.String("prefix", prefix), zap.String("rate", formatted), zap.Error(err))
			continue
		}
		state.byRoute = append(state.byRoute, routeLimiter{prefix: prefix, limiter: limiter.New(memory.NewStore(), r)})
	}

	rlMu.Lock()
	rlState = state
	rlMu.Unlock()
	return nil
}

func currentRateLimiter() *rateLimiterState {
	rlMu.RLock()
	state := rlState
	rlMu.RUnlock()
	if state != nil {
		return state
	}
	_ = SetRateLimiterConfig(DefaultRateLimiterConfig())
	rlMu.RLock()
	defer rlMu.RUnlock()
	return rlState
}

func (s *rateLimiterState) pick(path string) (*limiter.Limiter, string) {
	best, bestLen := s.global, -1
	scope := "global"
	for _, r := range s.byRoute {
		if strings.HasPrefix(path, r.prefix) && len(r.prefix) > bestLen {
			best, bestLen, scope = r.limiter, len(r.prefix), r.prefix
		}
	}
	return best, scope
}

func (s *rateLimiterState) key(c *gin.Context) string {
	if s.cfg.Identifier == "device" {
		if device := c.GetHeader(deviceHeader); device != "" {
			return device
		}
	}
	return c.ClientIP()
}

// RateLimiterMiddleware 按 IP 或设备限流
func RateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := currentRateLimiter()
		path := c.Request.URL.Path
		for _, skip := range state.cfg.SkipPaths {
			if strings.HasPrefix(path, skip) {
				c.Next()
				return
			}
		}

		l, scope := state.pick(path)
		ctx, err := l.Get(c.Request.Context(), scope+":"+state.key(c))
		if err != nil {
			zap.L().Warn("限流检查失败", zap.Error(err))
			c.Next()
			return
		}

		if state.cfg.AddHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))
		}
		if ctx.Reached {
			response.AbortWithStatusJSON(c, state.cfg.DenyStatus, errors.New(state.cfg.DenyMessage))
			return
		}
		c.Next()
	}
}
