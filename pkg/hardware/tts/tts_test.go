package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/code-100-precent/LingLamp/pkg/hardware/audio"
	"github.com/code-100-precent/LingLamp/pkg/hardware/nls"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type message struct {
	typ  int
	data []byte
}

type scriptedConn struct {
	mode      string
	incoming  chan message
	closed    chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	names []string
	start map[string]interface{}
	text  string
}

func newScriptedConn(mode string) *scriptedConn {
	return &scriptedConn{mode: mode, incoming: make(chan message, 8), closed: make(chan struct{})}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.incoming:
		return m.typ, m.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *scriptedConn) WriteMessage(messageType int, data []byte) error {
	var req struct {
		Header  nls.Header             `json:"header"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := sonic.Unmarshal(data, &req); err != nil {
		return err
	}

	c.mu.Lock()
	c.names = append(c.names, req.Header.Name)
	switch req.Header.Name {
	case nls.NameStartSynthesis:
		c.start = req.Payload
	case nls.NameRunSynthesis:
		c.text, _ = req.Payload["text"].(string)
	}
	c.mu.Unlock()

	switch {
	case c.mode == "fail" && req.Header.Name == nls.NameStartSynthesis:
		c.incoming <- message{websocket.TextMessage, []byte(`{"header":{"name":"TaskFailed","status":40000005,"status_text":"TOO_MANY_REQUESTS"}}`)}
	case c.mode == "ok" && req.Header.Name == nls.NameStartSynthesis:
		c.incoming <- message{websocket.TextMessage, []byte(`{"header":{"name":"SynthesisStarted","status":20000000}}`)}
	case c.mode == "ok" && req.Header.Name == nls.NameStopSynthesis:
		c.incoming <- message{websocket.BinaryMessage, make([]byte, 100)}
		c.incoming <- message{websocket.TextMessage, []byte(`{"header":{"name":"SynthesisCompleted","status":20000000}}`)}
	}
	return nil
}

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type connDialer struct {
	conn nls.Conn
	err  error
}

func (d *connDialer) Dial(ctx context.Context) (nls.Conn, error) {
	return d.conn, d.err
}

type countingEncoder struct{ calls int }

func (e *countingEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.calls++
	data[0] = byte(e.calls)
	return 1, nil
}

func newTestSynthesizer(dialer nls.Dialer) *FlowingSynthesizer {
	return NewFlowingSynthesizer(FlowingConfig{
		AppKey: "appkey",
		NewEncoder: func() (*audio.Encoder, error) {
			return audio.NewEncoder(&countingEncoder{}, 40), nil
		},
	}, dialer, zap.NewNop())
}

func TestFlowingSynthesizer_Success(t *testing.T) {
	conn := newScriptedConn("ok")
	s := newTestSynthesizer(&connDialer{conn: conn})

	var frames [][]byte
	completed := 0
	err := s.Synthesize(context.Background(), "你好", VoiceConfig{VoiceID: "zhiqi", SpeedRatio: 2, Volume: 80},
		func(f []byte) { frames = append(frames, f) },
		func() { completed++ })
	require.NoError(t, err)

	// 50 个样本：一帧完整帧 + 一帧补零
	require.Len(t, frames, 2)
	assert.Equal(t, byte(1), frames[0][0])
	assert.Equal(t, byte(2), frames[1][0])
	assert.Equal(t, 1, completed)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []string{nls.NameStartSynthesis, nls.NameRunSynthesis, nls.NameStopSynthesis}, conn.names)
	assert.Equal(t, "你好", conn.text)
	assert.Equal(t, "zhiqi", conn.start["voice"])
	assert.EqualValues(t, 80, conn.start["volume"])
	assert.EqualValues(t, 500, conn.start["speech_rate"])
	assert.EqualValues(t, audio.OutputSampleRate, conn.start["sample_rate"])
}

func TestFlowingSynthesizer_TaskFailed(t *testing.T) {
	conn := newScriptedConn("fail")
	s := newTestSynthesizer(&connDialer{conn: conn})

	completed := 0
	err := s.Synthesize(context.Background(), "你好", DefaultVoice(), nil, func() { completed++ })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOO_MANY_REQUESTS")
	assert.Equal(t, 1, completed)
}

func TestFlowingSynthesizer_ContextCancel(t *testing.T) {
	conn := newScriptedConn("silent")
	s := newTestSynthesizer(&connDialer{conn: conn})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Synthesize(ctx, "你好", DefaultVoice(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFlowingSynthesizer_DialError(t *testing.T) {
	s := newTestSynthesizer(&connDialer{err: errors.New("connection refused")})
	completed := 0
	err := s.Synthesize(context.Background(), "你好", DefaultVoice(), nil, func() { completed++ })
	require.Error(t, err)
	assert.Equal(t, 1, completed)
}

func TestFlowingSynthesizer_EmptyText(t *testing.T) {
	s := newTestSynthesizer(&connDialer{conn: newScriptedConn("ok")})
	assert.Error(t, s.Synthesize(context.Background(), "", DefaultVoice(), nil, nil))
}

func TestVoiceConfig_SpeechRate(t *testing.T) {
	tests := []struct {
		ratio float64
		want  int
	}{
		{1.0, 0},
		{0, 0},
		{2.0, 500},
		{0.5, -250},
		{1.2, 100},
		{5.0, 500},
		{0.1, -450},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VoiceConfig{SpeedRatio: tt.ratio}.SpeechRate(), "ratio=%v", tt.ratio)
	}
}

func TestVoiceConfig_ClampedVolume(t *testing.T) {
	assert.Equal(t, 0, VoiceConfig{Volume: -3}.ClampedVolume())
	assert.Equal(t, 100, VoiceConfig{Volume: 130}.ClampedVolume())
	assert.Equal(t, 70, DefaultVoice().ClampedVolume())
}

type stubSynthesizer struct {
	frames [][]byte
	err    error
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string, voice VoiceConfig, onFrame func([]byte), onComplete func()) error {
	for _, f := range s.frames {
		onFrame(f)
	}
	if onComplete != nil {
		onComplete()
	}
	return s.err
}

func TestService_SynthesizeDeliversAllFrames(t *testing.T) {
	frames := make([][]byte, 120)
	for i := range frames {
		frames[i] = []byte{byte(i)}
	}
	svc := NewService(&stubSynthesizer{frames: frames}, nil, zap.NewNop())

	ch, err := svc.Synthesize(context.Background(), "你好", DefaultVoice())
	require.NoError(t, err)

	var got [][]byte
	for f := range ch {
		got = append(got, f)
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, frames, got)
}

func TestService_SynthesizeClosesOnError(t *testing.T) {
	svc := NewService(&stubSynthesizer{err: errors.New("boom")}, nil, zap.NewNop())
	ch, err := svc.Synthesize(context.Background(), "你好", DefaultVoice())
	require.NoError(t, err)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestService_Closed(t *testing.T) {
	svc := NewService(&stubSynthesizer{}, nil, zap.NewNop())
	require.NoError(t, svc.Close())
	_, err := svc.Synthesize(context.Background(), "你好", DefaultVoice())
	assert.Error(t, err)

	svc = NewService(&stubSynthesizer{}, nil, zap.NewNop())
	_, err = svc.Synthesize(context.Background(), "", DefaultVoice())
	assert.Error(t, err)
}
