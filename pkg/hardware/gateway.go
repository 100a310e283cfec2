package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/hardware/asr"
	"github.com/code-100-precent/LingLamp/pkg/hardware/llm"
	"github.com/code-100-precent/LingLamp/pkg/hardware/message"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps 网关外部依赖
type Deps struct {
	Recognizers asr.Factory
	Tokens      TokenSource
	Speaker     Speaker
	Agent       llm.Agent
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Gateway 设备语音网关：会话登记、音频接入、对话编排、维护任务与广播
type Gateway struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	registry     *Registry
	scheduler    *Scheduler
	workers      *WorkerPool
	recognizers  *RecognizerManager
	orchestrator *Orchestrator
	agent        llm.Agent
	metrics      *metrics.Metrics

	voiceMu      sync.RWMutex
	defaultVoice tts.VoiceConfig

	telemetryMu  sync.RWMutex
	latestLight  devices.LightStatus
	latestVolume atomic.Int64

	closed atomic.Bool
}

// NewGateway 创建并启动网关
func NewGateway(opts Options, deps Deps) *Gateway {
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.L()
	}

	workers := NewWorkerPool(opts.WorkerPoolSize, opts.WorkerQueueSize, logger)
	g := &Gateway{
		opts:         opts,
		logger:       logger,
		now:          opts.Clock,
		registry:     NewRegistry(),
		scheduler:    NewScheduler(logger),
		workers:      workers,
		agent:        deps.Agent,
		metrics:      deps.Metrics,
		defaultVoice: opts.DefaultVoice,
		latestLight:  devices.LightStatus{},
	}
	g.latestVolume.Store(int64(opts.DefaultVoice.Volume))
	g.recognizers = NewRecognizerManager(deps.Recognizers, deps.Tokens, workers, opts, deps.Metrics, logger)
	g.orchestrator = NewOrchestrator(opts, deps.Speaker, deps.Agent, workers, deps.Metrics, logger)
	g.recognizers.onResult = g.orchestrator.OnRecognized
	g.scheduler.Start()
	return g
}

// Options 当前运行参数
func (g *Gateway) Options() Options {
	return g.opts
}

// Connect 登记新连接：驱逐同设备旧会话，创建智能体会话，启动识别器并登记维护任务
func (g *Gateway) Connect(conn message.Conn, deviceKey, remoteAddr string) (*Session, error) {
	if g.closed.Load() {
		return nil, ErrSessionClosed
	}
	if deviceKey == "" {
		deviceKey = remoteAddr
	}

	if old, ok := g.registry.LookupDevice(deviceKey); ok {
		g.logger.Info("设备重连，清理旧会话", zap.String("deviceKey", deviceKey), zap.String("oldSessionId", old.ID))
		g.Cleanup(old.ID, ReasonReconnect)
	}

	s := newSession(uuid.NewString(), deviceKey, remoteAddr, message.NewWriter(conn, g.opts.WriteTimeout, g.logger), g.DefaultVoice(), g.now(), g.logger)
	if previous := g.registry.Register(s); previous != nil {
		g.Cleanup(previous.ID, ReasonReconnect)
	}
	g.metrics.RecordSessionOpened()
	s.logger.Info("设备已连接", zap.String("remoteAddr", remoteAddr), zap.Int("sessions", g.registry.Len()))

	if g.agent != nil {
		g.workers.Submit(func() {
			if s.Closed() {
				return
			}
			ctx, cancel := context.WithTimeout(s.ctx, g.opts.AgentTimeout)
			defer cancel()
			id, err := g.agent.CreateConversation(ctx)
			if err != nil {
				s.logger.Warn("创建智能体会话失败", zap.Error(err))
				return
			}
			s.SetConversationID(id)
		})
	}

	g.recognizers.Ensure(s, TriggerStart)
	g.scheduleSession(s)
	return s, nil
}

// Lookup 按会话ID查找
func (g *Gateway) Lookup(id string) (*Session, bool) {
	return g.registry.Lookup(id)
}

// Sessions 在线会话
func (g *Gateway) Sessions() []*Session {
	return g.registry.Snapshot()
}

// SessionCount 在线会话数
func (g *Gateway) SessionCount() int {
	return g.registry.Len()
}

// Cleanup 清理会话，重复调用只生效一次
func (g *Gateway) Cleanup(id, reason string) bool {
	s, ok := g.registry.Remove(id)
	if !ok {
		return false
	}
	if !s.markClosed() {
		return false
	}

	g.scheduler.Cancel(s.takeTasks())
	g.recognizers.Release(s)
	s.clearFragment()
	if err := s.writer.Close(); err != nil {
		s.logger.Debug("关闭连接失败", zap.Error(err))
	}

	g.metrics.RecordSessionClosed(reason)
	s.logger.Info("会话已清理", zap.String("reason", reason), zap.Int("sessions", g.registry.Len()))
	return true
}

// Broadcast 向所有在线设备下发指令，单个会话失败不影响其它会话，返回成功数
func (g *Gateway) Broadcast(directive string) int {
	g.metrics.RecordBroadcast()
	sent := 0
	for _, s := range g.registry.Snapshot() {
		if s.Closed() {
			continue
		}
		if err := s.writer.SendDirective(directive); err != nil {
			continue
		}
		sent++
	}
	g.logger.Info("广播指令", zap.String("directive", directive), zap.Int("sent", sent))
	return sent
}

// DefaultVoice 新会话使用的默认语音配置
func (g *Gateway) DefaultVoice() tts.VoiceConfig {
	g.voiceMu.RLock()
	defer g.voiceMu.RUnlock()
	return g.defaultVoice
}

// SetVoiceParams 更新默认语音配置并应用到所有在线会话
func (g *Gateway) SetVoiceParams(voice tts.VoiceConfig) tts.VoiceConfig {
	g.voiceMu.Lock()
	if voice.VoiceID != "" {
		g.defaultVoice.VoiceID = voice.VoiceID
	}
	if voice.SpeedRatio > 0 {
		g.defaultVoice.SpeedRatio = voice.SpeedRatio
	}
	if voice.Volume >= 0 && voice.Volume <= 100 {
		g.defaultVoice.Volume = voice.Volume
	}
	applied := g.defaultVoice
	g.voiceMu.Unlock()

	for _, s := range g.registry.Snapshot() {
		s.SetVoice(applied)
	}
	g.logger.Info("更新语音参数",
		zap.String("voiceId", applied.VoiceID),
		zap.Float64("speedRatio", applied.SpeedRatio),
		zap.Int("volume", applied.Volume))
	return applied
}

// LatestLight 最近一次设备上报的灯光状态
func (g *Gateway) LatestLight() devices.LightStatus {
	g.telemetryMu.RLock()
	defer g.telemetryMu.RUnlock()
	return g.latestLight
}

// LatestVolume 最近一次设备上报的音量
func (g *Gateway) LatestVolume() int {
	return int(g.latestVolume.Load())
}

// Shutdown 清理所有会话并停止调度与任务池
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, s := range g.registry.Snapshot() {
		g.Cleanup(s.ID, ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		g.scheduler.Stop()
		g.workers.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
