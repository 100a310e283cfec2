package hardware

import (
	"context"
	"errors"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware/asr"
	"github.com/code-100-precent/LingLamp/pkg/hardware/errhandler"
	"github.com/code-100-precent/LingLamp/pkg/hardware/reconnect"
	"github.com/code-100-precent/LingLamp/pkg/metrics"
	"go.uber.org/zap"
)

// TokenSource 识别服务鉴权令牌
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken 固定令牌
type StaticToken string

// Token 实现 TokenSource
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// RecognizerManager 识别器生命周期：启动、重置与代次校验
// 每个会话同一时间最多一个启动或重置任务（resettingASR 单飞）
type RecognizerManager struct {
	factory  asr.Factory
	tokens   TokenSource
	workers  *WorkerPool
	backoff  reconnect.Strategy
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
	onResult func(s *Session, generation uint64, text string)
	now      func() time.Time
}

// NewRecognizerManager 创建识别器管理器
func NewRecognizerManager(factory asr.Factory, tokens TokenSource, workers *WorkerPool, opts Options, m *metrics.Metrics, logger *zap.Logger) *RecognizerManager {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.L()
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &RecognizerManager{
		factory: factory,
		tokens:  tokens,
		workers: workers,
		backoff: reconnect.NewBackoffStrategy(opts.RateLimitBackoff, errhandler.IsRateLimit),
		opts:    opts,
		metrics: m,
		logger:  logger,
		now:     opts.Clock,
	}
}

// Start 为会话启动新识别器实例，阻塞至握手完成或超时
// 回调绑定本次代次，实例被替换后其回调不再生效
func (m *RecognizerManager) Start(ctx context.Context, s *Session) (asr.Recognizer, error) {
	if s.Closed() {
		return nil, ErrSessionClosed
	}
	if m.factory == nil {
		return nil, errhandler.NewFatalError(errhandler.ServiceASR, "未配置识别服务", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.StartTimeout)
	defer cancel()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	gen := s.generation.Add(1)
	rec := m.factory.New(asr.Callbacks{
		OnResult: func(text string) {
			if m.onResult != nil {
				m.onResult(s, gen, text)
			}
		},
		OnActivity: func() {
			if s.generation.Load() == gen && !s.Closed() {
				stamp(&s.lastRecognizerResultAt, m.now())
			}
		},
	})

	if err := rec.Start(ctx, token); err != nil {
		rec.ForceStop()
		return nil, err
	}

	// 启动期间会话被清理或实例已被取代
	if s.Closed() || s.generation.Load() != gen {
		go rec.Stop()
		return nil, ErrSessionClosed
	}

	s.recognizer.Store(&recognizerSlot{generation: gen, rec: rec})
	if s.Closed() {
		m.Release(s)
		return nil, ErrSessionClosed
	}
	stamp(&s.lastRecognizerResultAt, m.now())
	s.audioFrameCount.Store(0)
	s.logger.Info("识别器已启动", zap.Uint64("generation", gen))
	return rec, nil
}

// Ensure 会话没有健康识别器时异步启动或重置
func (m *RecognizerManager) Ensure(s *Session, trigger string) {
	rec, _ := s.Recognizer()
	if rec != nil && rec.IsHealthy() {
		return
	}
	m.Reset(s, rec, trigger)
}

// Reset 异步替换识别器：移除旧实例，限时停止，等待后启动新实例
// stale 为发起方看到的实例，已被他人替换时放弃
func (m *RecognizerManager) Reset(s *Session, stale asr.Recognizer, trigger string) bool {
	if s.Closed() {
		return false
	}
	if !s.resettingASR.CompareAndSwap(false, true) {
		return false
	}
	ok := m.workers.Submit(func() {
		defer s.resettingASR.Store(false)
		m.reset(s, stale, trigger)
	})
	if !ok {
		s.resettingASR.Store(false)
	}
	return ok
}

// IsResetting 是否有启动或重置任务在执行
func (m *RecognizerManager) IsResetting(s *Session) bool {
	return s.resettingASR.Load()
}

// IsHealthy 识别器实例是否可用
func (m *RecognizerManager) IsHealthy(rec asr.Recognizer) bool {
	return rec != nil && rec.IsHealthy()
}

func (m *RecognizerManager) reset(s *Session, stale asr.Recognizer, trigger string) {
	current := s.recognizer.Load()
	if current != nil {
		if stale != nil && current.rec != stale {
			return
		}
		if current.rec.IsHealthy() && stale == nil {
			return
		}
		m.detach(s, current)
		m.metrics.RecordRecognizerReset(trigger)
		s.logger.Info("重置识别器", zap.String("trigger", trigger), zap.Uint64("generation", current.generation))
		if !s.wait(m.opts.ResetGrace) {
			return
		}
	}

	if s.Closed() {
		return
	}

	if _, err := m.Start(s.ctx, s); err != nil {
		if s.Closed() || errors.Is(err, ErrSessionClosed) {
			return
		}
		failures := int(s.startFailures.Add(1))
		m.metrics.RecordRecognizerStartFailure()
		delay := m.backoff.NextDelay(failures, err)
		s.logger.Warn("识别器启动失败",
			zap.Error(err),
			zap.Int("failures", failures),
			zap.Bool("rateLimited", errhandler.IsRateLimit(err)),
			zap.Duration("retryAfter", delay))
		s.wait(delay)
		return
	}
	s.startFailures.Store(0)
}

// detach 移除实例并使其回调失效，异步停止
func (m *RecognizerManager) detach(s *Session, slot *recognizerSlot) {
	if !s.recognizer.CompareAndSwap(slot, nil) {
		return
	}
	s.generation.Add(1)
	go slot.rec.Stop()
}

// Release 清理会话时停止识别器
func (m *RecognizerManager) Release(s *Session) {
	if slot := s.recognizer.Load(); slot != nil {
		m.detach(s, slot)
	}
}
