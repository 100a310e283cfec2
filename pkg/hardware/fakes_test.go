package hardware

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware/asr"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/code-100-precent/LingLamp/pkg/logger"
	"github.com/code-100-precent/LingLamp/pkg/metrics"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init(&logger.LogConfig{Level: "info"}, "test")
}

var errBrokenPipe = errors.New("broken pipe")

// fakeConn 记录下发的消息
type fakeConn struct {
	mu          sync.Mutex
	events      []string
	texts       []string
	binary      [][]byte
	pings       int
	closes      int
	deadlines   int
	failWrite   bool
	failControl bool

	// blockAudio 为真时音频帧写入阻塞到连接关闭，模拟链路中断
	blockAudio bool
	blocked    int
	done       chan struct{}
}

func (c *fakeConn) doneLocked() chan struct{} {
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	if c.blockAudio && messageType == websocket.BinaryMessage {
		done := c.doneLocked()
		c.blocked++
		c.mu.Unlock()
		<-done
		return net.ErrClosed
	}
	defer c.mu.Unlock()
	if c.failWrite {
		return errBrokenPipe
	}
	if messageType == websocket.BinaryMessage {
		c.binary = append(c.binary, append([]byte(nil), data...))
		c.events = append(c.events, "audio")
		return nil
	}
	c.texts = append(c.texts, string(data))
	c.events = append(c.events, string(data))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failControl {
		return errBrokenPipe
	}
	c.pings++
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes == 1 {
		close(c.doneLocked())
	}
	return nil
}

// Blocked 阻塞中的音频写入次数
func (c *fakeConn) Blocked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

func (c *fakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *fakeConn) Binary() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.binary...)
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// fakeRecognizer 可控的识别器
type fakeRecognizer struct {
	cb       asr.Callbacks
	startErr error
	block    chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	running    atomic.Bool
	unhealthy  atomic.Bool
	stops      atomic.Int32
	forceStops atomic.Int32
}

func (r *fakeRecognizer) Start(ctx context.Context, token string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.startErr != nil {
		return r.startErr
	}
	r.running.Store(true)
	return nil
}

func (r *fakeRecognizer) SendOpus(frame []byte) error {
	if !r.running.Load() {
		return asr.ErrNotRunning
	}
	r.mu.Lock()
	r.sent = append(r.sent, append([]byte(nil), frame...))
	r.mu.Unlock()
	return nil
}

func (r *fakeRecognizer) Stop() {
	r.stops.Add(1)
	r.running.Store(false)
}

func (r *fakeRecognizer) ForceStop() {
	r.forceStops.Add(1)
	r.running.Store(false)
}

func (r *fakeRecognizer) IsRunning() bool { return r.running.Load() }

func (r *fakeRecognizer) IsHealthy() bool { return r.running.Load() && !r.unhealthy.Load() }

func (r *fakeRecognizer) SendFailCount() int { return 0 }

func (r *fakeRecognizer) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.sent...)
}

// emit 模拟识别结果回调
func (r *fakeRecognizer) emit(text string) {
	r.cb.OnResult(text)
}

// fakeFactory 按创建顺序配置启动错误与阻塞
type fakeFactory struct {
	mu        sync.Mutex
	recs      []*fakeRecognizer
	startErrs map[int]error
	blocks    map[int]chan struct{}
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{startErrs: map[int]error{}, blocks: map[int]chan struct{}{}}
}

func (f *fakeFactory) New(cb asr.Callbacks) asr.Recognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.recs)
	r := &fakeRecognizer{cb: cb, startErr: f.startErrs[idx], block: f.blocks[idx]}
	f.recs = append(f.recs, r)
	return r
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func (f *fakeFactory) At(i int) *fakeRecognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[i]
}

// fakeSpeaker 每次合成输出 frames 帧
type fakeSpeaker struct {
	frames int

	mu     sync.Mutex
	texts  []string
	panics bool
}

func (s *fakeSpeaker) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (<-chan []byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	panics := s.panics
	s.mu.Unlock()
	if panics {
		panic("synthesizer crashed")
	}

	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for i := 0; i < s.frames; i++ {
			select {
			case ch <- []byte{byte(i)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *fakeSpeaker) setPanics(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics = v
}

func (s *fakeSpeaker) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type askCall struct {
	text           string
	voice          tts.VoiceConfig
	conversationID string
}

// fakeAgent 固定回复
type fakeAgent struct {
	convID string
	reply  string
	err    error

	mu   sync.Mutex
	asks []askCall
}

func (a *fakeAgent) CreateConversation(ctx context.Context) (string, error) {
	return a.convID, nil
}

func (a *fakeAgent) Ask(ctx context.Context, text string, voice tts.VoiceConfig, conversationID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asks = append(a.asks, askCall{text: text, voice: voice, conversationID: conversationID})
	return a.reply, a.err
}

func (a *fakeAgent) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeAgent) Asks() []askCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]askCall(nil), a.asks...)
}

func testOptions() Options {
	o := DefaultOptions()
	o.TTSSilencePeriod = time.Millisecond
	o.CommandGrace = 10 * time.Millisecond
	o.ReplyGrace = 10 * time.Millisecond
	o.WakeSettle = time.Millisecond
	o.HeartbeatDelay = time.Hour
	o.HeartbeatInterval = time.Hour
	o.KeepAliveInterval = time.Hour
	o.HealthCheckInterval = time.Hour
	o.ResetGrace = 5 * time.Millisecond
	o.StartTimeout = 500 * time.Millisecond
	o.RateLimitBackoff = 200 * time.Millisecond
	o.FrameDelay = time.Millisecond
	o.FirstFrameWait = 500 * time.Millisecond
	o.ShortTextPreBuffer = time.Millisecond
	o.PreBuffer = time.Millisecond
	o.WorkerPoolSize = 8
	o.WorkerQueueSize = 32
	return o
}

type testEnv struct {
	gateway *Gateway
	factory *fakeFactory
	speaker *fakeSpeaker
	agent   *fakeAgent
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		factory: newFakeFactory(),
		speaker: &fakeSpeaker{frames: 3},
		agent:   &fakeAgent{convID: "conv-1", reply: "今天是晴天"},
		metrics: metrics.NewMetrics("test"),
	}
	env.gateway = NewGateway(opts, Deps{
		Recognizers: env.factory,
		Tokens:      StaticToken("token"),
		Speaker:     env.speaker,
		Agent:       env.agent,
		Metrics:     env.metrics,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.gateway.Shutdown(ctx)
	})
	return env
}

// connect 建立会话并等待识别器就绪
func (env *testEnv) connect(t *testing.T, deviceKey string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := env.gateway.Connect(conn, deviceKey, deviceKey+":5000")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, _ := s.Recognizer()
		return rec != nil && rec.IsRunning() && !s.resettingASR.Load()
	}, 2*time.Second, 5*time.Millisecond)
	return s, conn
}

func currentFake(s *Session) *fakeRecognizer {
	rec, _ := s.Recognizer()
	if rec == nil {
		return nil
	}
	return rec.(*fakeRecognizer)
}
