package hardware

import (
	"errors"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/wakeword"
)

// ErrSessionClosed 会话已清理
var ErrSessionClosed = errors.New("hardware: session closed")

// 清理原因
const (
	ReasonReconnect       = "device reconnect"
	ReasonTransportClosed = "transport closed"
	ReasonHeartbeatFailed = "heartbeat failed"
	ReasonPongTimeout     = "pong timeout"
	ReasonShutdown        = "shutdown"
)

// 识别器重置触发来源
const (
	TriggerStart  = "start"
	TriggerIngest = "ingest"
	TriggerHealth = "health"
)

// 默认配置值
const (
	DefaultWakeResponse        = "我在呢"
	DefaultAwakeTimeout        = 30 * time.Second
	DefaultTTSSilencePeriod    = 1500 * time.Millisecond
	DefaultCommandGrace        = 800 * time.Millisecond
	DefaultReplyGrace          = 1200 * time.Millisecond
	DefaultWakeSettle          = 300 * time.Millisecond
	DefaultHeartbeatDelay      = 5 * time.Second
	DefaultHeartbeatInterval   = 10 * time.Second
	DefaultPongTimeout         = 3 * DefaultHeartbeatInterval
	DefaultWriteTimeout        = 10 * time.Second
	DefaultKeepAliveInterval   = time.Second
	DefaultKeepAliveIdle       = 800 * time.Millisecond
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultStuckFrameThreshold = 500
	DefaultStuckResultWindow   = 60 * time.Second
	DefaultResetGrace          = 500 * time.Millisecond
	DefaultStartTimeout        = 5 * time.Second
	DefaultRateLimitBackoff    = 2 * time.Second
	DefaultFrameDelay          = 45 * time.Millisecond
	DefaultFirstFrameWait      = 3 * time.Second
	DefaultShortTextPreBuffer  = 50 * time.Millisecond
	DefaultPreBuffer           = 100 * time.Millisecond
	DefaultShortTextLen        = 5
	DefaultSynthesisTimeout    = 60 * time.Second
	DefaultAgentTimeout        = 60 * time.Second
	DefaultWorkerPoolSize      = 32
	DefaultWorkerQueueSize     = 256
	MaxMessageSize             = 128 * 1024
)

// Options 网关运行参数
type Options struct {
	WakePhrase    string
	WakeResponse  string
	WakeThreshold float64

	AwakeTimeout     time.Duration
	TTSSilencePeriod time.Duration
	CommandGrace     time.Duration
	ReplyGrace       time.Duration
	WakeSettle       time.Duration

	HeartbeatDelay      time.Duration
	HeartbeatInterval   time.Duration
	// PongTimeout 超过该时长未收到 pong 视为链路失效
	PongTimeout         time.Duration
	WriteTimeout        time.Duration
	KeepAliveInterval   time.Duration
	KeepAliveIdle       time.Duration
	HealthCheckInterval time.Duration
	StuckFrameThreshold int64
	StuckResultWindow   time.Duration

	ResetGrace       time.Duration
	StartTimeout     time.Duration
	RateLimitBackoff time.Duration

	FrameDelay         time.Duration
	FirstFrameWait     time.Duration
	ShortTextPreBuffer time.Duration
	PreBuffer          time.Duration
	ShortTextLen       int
	SynthesisTimeout   time.Duration
	AgentTimeout       time.Duration

	WorkerPoolSize  int
	WorkerQueueSize int

	DefaultVoice tts.VoiceConfig

	// Clock 时钟，测试注入
	Clock func() time.Time
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		WakePhrase:          wakeword.DefaultPhrase,
		WakeResponse:        DefaultWakeResponse,
		WakeThreshold:       wakeword.DefaultThreshold,
		AwakeTimeout:        DefaultAwakeTimeout,
		TTSSilencePeriod:    DefaultTTSSilencePeriod,
		CommandGrace:        DefaultCommandGrace,
		ReplyGrace:          DefaultReplyGrace,
		WakeSettle:          DefaultWakeSettle,
		HeartbeatDelay:      DefaultHeartbeatDelay,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		PongTimeout:         DefaultPongTimeout,
		WriteTimeout:        DefaultWriteTimeout,
		KeepAliveInterval:   DefaultKeepAliveInterval,
		KeepAliveIdle:       DefaultKeepAliveIdle,
		HealthCheckInterval: DefaultHealthCheckInterval,
		StuckFrameThreshold: DefaultStuckFrameThreshold,
		StuckResultWindow:   DefaultStuckResultWindow,
		ResetGrace:          DefaultResetGrace,
		StartTimeout:        DefaultStartTimeout,
		RateLimitBackoff:    DefaultRateLimitBackoff,
		FrameDelay:          DefaultFrameDelay,
		FirstFrameWait:      DefaultFirstFrameWait,
		ShortTextPreBuffer:  DefaultShortTextPreBuffer,
		PreBuffer:           DefaultPreBuffer,
		ShortTextLen:        DefaultShortTextLen,
		SynthesisTimeout:    DefaultSynthesisTimeout,
		AgentTimeout:        DefaultAgentTimeout,
		WorkerPoolSize:      DefaultWorkerPoolSize,
		WorkerQueueSize:     DefaultWorkerQueueSize,
		DefaultVoice:        tts.DefaultVoice(),
		Clock:               time.Now,
	}
}

// withDefaults 零值字段使用默认值
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WakePhrase == "" {
		o.WakePhrase = d.WakePhrase
	}
	if o.WakeResponse == "" {
		o.WakeResponse = d.WakeResponse
	}
	if o.WakeThreshold <= 0 {
		o.WakeThreshold = d.WakeThreshold
	}
	setDuration(&o.AwakeTimeout, d.AwakeTimeout)
	setDuration(&o.TTSSilencePeriod, d.TTSSilencePeriod)
	setDuration(&o.CommandGrace, d.CommandGrace)
	setDuration(&o.ReplyGrace, d.ReplyGrace)
	setDuration(&o.WakeSettle, d.WakeSettle)
	setDuration(&o.HeartbeatDelay, d.HeartbeatDelay)
	setDuration(&o.HeartbeatInterval, d.HeartbeatInterval)
	if o.PongTimeout <= 0 {
		o.PongTimeout = 3 * o.HeartbeatInterval
	}
	setDuration(&o.WriteTimeout, d.WriteTimeout)
	setDuration(&o.KeepAliveInterval, d.KeepAliveInterval)
	setDuration(&o.KeepAliveIdle, d.KeepAliveIdle)
	setDuration(&o.HealthCheckInterval, d.HealthCheckInterval)
	if o.StuckFrameThreshold <= 0 {
		o.StuckFrameThreshold = d.StuckFrameThreshold
	}
	setDuration(&o.StuckResultWindow, d.StuckResultWindow)
	setDuration(&o.ResetGrace, d.ResetGrace)
	setDuration(&o.StartTimeout, d.StartTimeout)
	setDuration(&o.RateLimitBackoff, d.RateLimitBackoff)
	setDuration(&o.FrameDelay, d.FrameDelay)
	setDuration(&o.FirstFrameWait, d.FirstFrameWait)
	setDuration(&o.ShortTextPreBuffer, d.ShortTextPreBuffer)
	setDuration(&o.PreBuffer, d.PreBuffer)
	if o.ShortTextLen <= 0 {
		o.ShortTextLen = d.ShortTextLen
	}
	setDuration(&o.SynthesisTimeout, d.SynthesisTimeout)
	setDuration(&o.AgentTimeout, d.AgentTimeout)
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = d.WorkerPoolSize
	}
	if o.WorkerQueueSize <= 0 {
		o.WorkerQueueSize = d.WorkerQueueSize
	}
	if o.DefaultVoice.VoiceID == "" {
		o.DefaultVoice.VoiceID = d.DefaultVoice.VoiceID
	}
	if o.DefaultVoice.SpeedRatio <= 0 {
		o.DefaultVoice.SpeedRatio = d.DefaultVoice.SpeedRatio
	}
	if o.DefaultVoice.Volume < 0 {
		o.DefaultVoice.Volume = d.DefaultVoice.Volume
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}
