package hardware

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/hardware/llm"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/metrics"
	"github.com/code-100-precent/LingLamp/pkg/wakeword"
	"go.uber.org/zap"
)

// Speaker 文本转 Opus 帧流，*tts.Service 满足该接口
type Speaker interface {
	Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (<-chan []byte, error)
}

// 轮次类型
const (
	TurnWake    = "wake"
	TurnCommand = "command"
	TurnAgent   = "agent"
)

// Orchestrator 对话轮次状态机
// DORMANT -> WAKING -> AWAKE -> EXECUTING -> DORMANT，进入 WAKING/EXECUTING 由 busy 的 CAS 决定
type Orchestrator struct {
	opts    Options
	matcher *wakeword.Matcher
	speaker Speaker
	agent   llm.Agent
	workers *WorkerPool
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrchestrator 创建状态机
func NewOrchestrator(opts Options, speaker Speaker, agent llm.Agent, workers *WorkerPool, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.L()
	}
	return &Orchestrator{
		opts:    opts,
		matcher: wakeword.NewMatcher(opts.WakePhrase, opts.WakeThreshold),
		speaker: speaker,
		agent:   agent,
		workers: workers,
		metrics: m,
		logger:  logger,
		now:     opts.Clock,
	}
}

// OnRecognized 识别结果回调，generation 为产生结果的识别器代次
func (o *Orchestrator) OnRecognized(s *Session, generation uint64, text string) {
	if s.Closed() {
		return
	}
	if s.Generation() != generation {
		s.logger.Debug("丢弃过期识别器的结果", zap.Uint64("generation", generation), zap.String("text", text))
		return
	}
	if s.IsBusy() {
		return
	}

	text = strings.TrimSpace(text)
	now := o.now()
	stamp(&s.lastRecognizerResultAt, now)
	s.audioFrameCount.Store(0)
	if text == "" {
		return
	}

	// 播放结束后的静默期内丢弃，避免把自身回声当作用户语音
	if ttsEnd := s.TTSEndAt(); !ttsEnd.IsZero() && now.Sub(ttsEnd) < o.opts.TTSSilencePeriod {
		s.logger.Debug("静默期内忽略识别结果", zap.String("text", text))
		return
	}

	s.logger.Info("识别结果", zap.String("text", text), zap.String("state", s.State().String()))

	if o.matcher.IsWakeWord(text) {
		o.wake(s)
		return
	}

	if !s.IsAwake() {
		return
	}

	if now.Sub(s.AwakeAt()) > o.opts.AwakeTimeout {
		s.awake.Store(false)
		s.logger.Info("唤醒超时，回到待机")
		return
	}

	o.execute(s, text)
}

// wake 唤醒：播放应答语后进入 AWAKE
func (o *Orchestrator) wake(s *Session) bool {
	if !s.tryAcquire(StateWaking) {
		return false
	}
	o.metrics.RecordTurn(TurnWake)
	return o.submit(s, func() {
		defer s.releaseTurn()
		if s.Closed() {
			return
		}
		s.logger.Info("检测到唤醒词")
		o.play(s, o.opts.WakeResponse)
		if s.Closed() {
			return
		}
		s.awake.Store(true)
		stamp(&s.awakeAt, o.now())
		s.wait(o.opts.WakeSettle)
	})
}

// execute 执行控制指令或询问智能体，结束后回到 DORMANT
func (o *Orchestrator) execute(s *Session, text string) bool {
	if !s.tryAcquire(StateExecuting) {
		return false
	}
	return o.submit(s, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("执行对话轮次异常", zap.Any("panic", r))
				s.resetTurn()
			}
		}()
		if s.Closed() {
			s.resetTurn()
			return
		}

		if cmd, ok := devices.MatchCommand(text); ok {
			o.metrics.RecordTurn(TurnCommand)
			s.logger.Info("匹配控制指令", zap.String("command", cmd.Name), zap.String("directive", cmd.Directive))
			if err := s.writer.SendDirective(cmd.Directive); err != nil {
				s.resetTurn()
				return
			}
			o.play(s, cmd.Confirm)
			s.wait(o.opts.CommandGrace)
			s.resetTurn()
			return
		}

		o.metrics.RecordTurn(TurnAgent)
		reply := o.ask(s, text)
		if reply == "" || s.Closed() {
			s.resetTurn()
			return
		}
		o.play(s, reply)
		s.wait(o.opts.ReplyGrace)
		s.resetTurn()
	})
}

// submit 提交到任务池，提交失败释放 busy
func (o *Orchestrator) submit(s *Session, task func()) bool {
	if o.workers.Submit(task) {
		return true
	}
	s.logger.Warn("任务池繁忙，放弃本轮对话")
	s.resetTurn()
	return false
}

func (o *Orchestrator) ask(s *Session, text string) string {
	if o.agent == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(s.ctx, o.opts.AgentTimeout)
	defer cancel()

	reply, err := o.agent.Ask(ctx, text, s.Voice(), s.ConversationID())
	if err != nil {
		s.logger.Error("询问智能体失败", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(reply)
}

// play 合成并按节奏下发音频，以 tts start/end 消息包围
func (o *Orchestrator) play(s *Session, text string) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if o.speaker == nil || text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, o.opts.SynthesisTimeout)
	defer cancel()

	frames, err := o.speaker.Synthesize(ctx, text, s.Voice())
	if err != nil {
		s.logger.Error("语音合成失败", zap.Error(err))
		return err
	}

	w := s.writer
	if err := w.SendTTSStart(); err != nil {
		return err
	}
	defer func() {
		_ = w.SendTTSEnd()
		stamp(&s.ttsEndAt, o.now())
	}()

	timer := time.NewTimer(o.opts.FirstFrameWait)
	defer timer.Stop()

	var first []byte
	select {
	case f, ok := <-frames:
		if !ok {
			return nil
		}
		first = f
	case <-timer.C:
		s.logger.Warn("等待首帧超时", zap.String("text", text))
		return nil
	case <-s.Done():
		return ErrSessionClosed
	}

	preBuffer := o.opts.PreBuffer
	if utf8.RuneCountInString(text) <= o.opts.ShortTextLen {
		preBuffer = o.opts.ShortTextPreBuffer
	}
	if !s.wait(preBuffer) {
		return ErrSessionClosed
	}

	send := func(frame []byte) error {
		if s.Closed() {
			return ErrSessionClosed
		}
		if err := w.SendAudio(frame); err != nil {
			return err
		}
		stamp(&s.lastRecognizerSendAt, o.now())
		if !s.wait(o.opts.FrameDelay) {
			return ErrSessionClosed
		}
		return nil
	}

	if err := send(first); err != nil {
		return err
	}
	for frame := range frames {
		if err := send(frame); err != nil {
			return err
		}
	}
	return nil
}
