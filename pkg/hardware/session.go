package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware/asr"
	"github.com/code-100-precent/LingLamp/pkg/hardware/message"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// State 会话对话状态
type State int32

const (
	StateDormant State = iota
	StateWaking
	StateAwake
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateDormant:
		return "DORMANT"
	case StateWaking:
		return "WAKING"
	case StateAwake:
		return "AWAKE"
	case StateExecuting:
		return "EXECUTING"
	default:
		return "UNKNOWN"
	}
}

// recognizerSlot 当前识别器实例及其代次
type recognizerSlot struct {
	generation uint64
	rec        asr.Recognizer
}

// Session 一个设备连接的服务端状态
type Session struct {
	ID         string
	DeviceKey  string
	RemoteAddr string
	CreatedAt  time.Time

	writer *message.Writer
	logger *zap.Logger

	busy         atomic.Bool
	awake        atomic.Bool
	turn         atomic.Int32
	resettingASR atomic.Bool
	closed       atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc

	awakeAt                atomic.Int64
	lastRecognizerSendAt   atomic.Int64
	lastTransportPongAt    atomic.Int64
	lastRecognizerResultAt atomic.Int64
	ttsEndAt               atomic.Int64
	audioFrameCount        atomic.Int64
	startFailures          atomic.Int32

	fragMu   sync.Mutex
	fragment []byte

	voiceMu        sync.RWMutex
	voice          tts.VoiceConfig
	conversationID string

	generation atomic.Uint64
	recognizer atomic.Pointer[recognizerSlot]

	tasksMu sync.Mutex
	tasks   []cron.EntryID
}

func newSession(id, deviceKey, remoteAddr string, writer *message.Writer, voice tts.VoiceConfig, now time.Time, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         id,
		DeviceKey:  deviceKey,
		RemoteAddr: remoteAddr,
		CreatedAt:  now,
		writer:     writer,
		logger:     logger.With(zap.String("sessionId", id), zap.String("deviceKey", deviceKey)),
		ctx:        ctx,
		cancel:     cancel,
		voice:      voice,
	}
	stamp(&s.lastRecognizerSendAt, now)
	stamp(&s.lastTransportPongAt, now)
	stamp(&s.lastRecognizerResultAt, now)
	return s
}

// Writer 设备消息写入器
func (s *Session) Writer() *message.Writer {
	return s.writer
}

// Closed 会话是否已清理
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Done 会话清理时关闭
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context 会话清理时取消
func (s *Session) Context() context.Context {
	return s.ctx
}

// markClosed 只有第一次调用返回 true
func (s *Session) markClosed() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

// wait 等待 d，会话清理时提前返回 false
func (s *Session) wait(d time.Duration) bool {
	if d <= 0 {
		return !s.Closed()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !s.Closed()
	case <-s.ctx.Done():
		return false
	}
}

// IsBusy 是否有对话任务占用
func (s *Session) IsBusy() bool {
	return s.busy.Load()
}

// IsAwake 是否处于唤醒状态
func (s *Session) IsAwake() bool {
	return s.awake.Load()
}

// State 当前对话状态
func (s *Session) State() State {
	if s.busy.Load() {
		return State(s.turn.Load())
	}
	if s.awake.Load() {
		return StateAwake
	}
	return StateDormant
}

// tryAcquire CAS 占用会话，失败方直接返回
func (s *Session) tryAcquire(state State) bool {
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	s.turn.Store(int32(state))
	return true
}

// releaseTurn 结束唤醒任务，保持唤醒状态
func (s *Session) releaseTurn() {
	s.turn.Store(int32(StateDormant))
	s.busy.Store(false)
}

// resetTurn 回到 DORMANT
func (s *Session) resetTurn() {
	s.awake.Store(false)
	s.turn.Store(int32(StateDormant))
	s.busy.Store(false)
}

// AwakeAt 最近一次唤醒时间
func (s *Session) AwakeAt() time.Time {
	return load(&s.awakeAt)
}

// TTSEndAt 最近一次播放结束时间
func (s *Session) TTSEndAt() time.Time {
	return load(&s.ttsEndAt)
}

// AudioFrameCount 上次识别结果以来转发的帧数
func (s *Session) AudioFrameCount() int64 {
	return s.audioFrameCount.Load()
}

// Voice 会话语音配置
func (s *Session) Voice() tts.VoiceConfig {
	s.voiceMu.RLock()
	defer s.voiceMu.RUnlock()
	return s.voice
}

// SetVoice 更新会话语音配置
func (s *Session) SetVoice(v tts.VoiceConfig) {
	s.voiceMu.Lock()
	s.voice = v
	s.voiceMu.Unlock()
}

// ConversationID 对话智能体会话句柄
func (s *Session) ConversationID() string {
	s.voiceMu.RLock()
	defer s.voiceMu.RUnlock()
	return s.conversationID
}

// SetConversationID 设置会话句柄
func (s *Session) SetConversationID(id string) {
	s.voiceMu.Lock()
	s.conversationID = id
	s.voiceMu.Unlock()
}

// Recognizer 当前识别器实例及代次
func (s *Session) Recognizer() (asr.Recognizer, uint64) {
	slot := s.recognizer.Load()
	if slot == nil {
		return nil, s.generation.Load()
	}
	return slot.rec, slot.generation
}

// Generation 当前识别器代次
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// appendFragment 追加分片，isFinal 时返回完整帧并清空缓冲
func (s *Session) appendFragment(data []byte, isFinal bool) ([]byte, bool) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	s.fragment = append(s.fragment, data...)
	if !isFinal {
		return nil, false
	}
	frame := s.fragment
	s.fragment = nil
	return frame, len(frame) > 0
}

func (s *Session) clearFragment() {
	s.fragMu.Lock()
	s.fragment = nil
	s.fragMu.Unlock()
}

func (s *Session) setTasks(ids []cron.EntryID) {
	s.tasksMu.Lock()
	s.tasks = append(s.tasks, ids...)
	s.tasksMu.Unlock()
}

func (s *Session) takeTasks() []cron.EntryID {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	ids := s.tasks
	s.tasks = nil
	return ids
}

func stamp(v *atomic.Int64, t time.Time) {
	v.Store(t.UnixNano())
}

func load(v *atomic.Int64) time.Time {
	n := v.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
