package asr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware/audio"
	"github.com/code-100-precent/LingLamp/pkg/hardware/nls"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config 阿里云实时识别配置
type Config struct {
	AppKey          string
	SampleRate      int
	MaxSendFailures int
	StopGrace       time.Duration
	CloseGrace      time.Duration
	Decoder         audio.DecoderFactory
}

func (c *Config) withDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.InputSampleRate
	}
	if c.MaxSendFailures <= 0 {
		c.MaxSendFailures = 3
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 100 * time.Millisecond
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 200 * time.Millisecond
	}
	if c.Decoder == nil {
		c.Decoder = audio.OpusDecoderFactory(c.SampleRate, audio.Channels)
	}
}

// Connector 使用 token 建立网关连接
type Connector func(ctx context.Context, token string) (nls.Conn, error)

// PoolConnector 通过共享连接池拨号
func PoolConnector(pool *nls.Pool) Connector {
	return func(ctx context.Context, token string) (nls.Conn, error) {
		return pool.GetOrRefresh(token).Dial(ctx)
	}
}

// AliyunFactory 创建阿里云实时识别会话
type AliyunFactory struct {
	cfg     Config
	connect Connector
	logger  *zap.Logger
}

// NewAliyunFactory 创建工厂
func NewAliyunFactory(cfg Config, connect Connector, logger *zap.Logger) *AliyunFactory {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.L()
	}
	return &AliyunFactory{cfg: cfg, connect: connect, logger: logger}
}

// New 实现 Factory
func (f *AliyunFactory) New(cb Callbacks) Recognizer {
	return NewTranscriber(f.cfg, f.connect, cb, f.logger)
}

// Transcriber 阿里云 SpeechTranscriber 会话
// Opus 帧解码为 16kHz PCM 后发送
type Transcriber struct {
	cfg     Config
	connect Connector
	cb      Callbacks
	logger  *zap.Logger

	decoder    *audio.Decoder
	decoderErr error

	mu      sync.Mutex
	conn    nls.Conn
	taskID  string
	started atomic.Bool

	running   atomic.Bool
	sendFails atomic.Int32
}

// NewTranscriber 创建识别会话
func NewTranscriber(cfg Config, connect Connector, cb Callbacks, logger *zap.Logger) *Transcriber {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.L()
	}
	t := &Transcriber{
		cfg:     cfg,
		connect: connect,
		cb:      cb,
		logger:  logger,
	}
	t.decoder, t.decoderErr = audio.NewDecoder(cfg.Decoder, logger)
	return t
}

// Start 发送 StartTranscription 并阻塞等待 TranscriptionStarted，超时或 TaskFailed 返回错误
func (t *Transcriber) Start(ctx context.Context, token string) error {
	if t.cfg.AppKey == "" {
		return errors.New("asr: appkey is empty")
	}
	if token == "" {
		return errors.New("asr: token is empty")
	}
	if t.decoderErr != nil {
		return t.decoderErr
	}
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("asr: transcriber already started")
	}
	if t.connect == nil {
		return errors.New("asr: connector not configured")
	}

	conn, err := t.connect(ctx, token)
	if err != nil {
		return fmt.Errorf("asr: dial gateway: %w", err)
	}

	taskID := nls.NewID()
	t.mu.Lock()
	t.conn = conn
	t.taskID = taskID
	t.mu.Unlock()

	ready := make(chan error, 1)
	go t.readLoop(conn, ready)

	req := nls.NewRequest(t.cfg.AppKey, taskID, nls.NamespaceTranscriber, nls.NameStartTranscription, map[string]interface{}{
		"format":                            "pcm",
		"sample_rate":                       t.cfg.SampleRate,
		"enable_intermediate_result":        false,
		"enable_punctuation_prediction":     true,
		"enable_inverse_text_normalization": true,
	})
	if err := t.writeRequest(req); err != nil {
		t.ForceStop()
		return fmt.Errorf("asr: send start: %w", err)
	}

	select {
	case err := <-ready:
		if err != nil {
			t.ForceStop()
			return fmt.Errorf("ASR 启动回调报错: %w", err)
		}
	case <-ctx.Done():
		t.ForceStop()
		return fmt.Errorf("ASR 启动超时: %w", ctx.Err())
	}

	t.sendFails.Store(0)
	t.running.Store(true)
	t.logger.Info("ASR 会话启动成功", zap.String("taskId", taskID))
	return nil
}

func (t *Transcriber) readLoop(conn nls.Conn, ready chan<- error) {
	signalled := false
	signal := func(err error) {
		if !signalled {
			signalled = true
			ready <- err
		}
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.running.Store(false)
			signal(fmt.Errorf("connection closed before ready: %w", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		resp, err := nls.DecodeResponse(data)
		if err != nil {
			t.logger.Debug("解析识别事件失败", zap.Error(err))
			continue
		}

		switch resp.Header.Name {
		case nls.NameTranscriptionStarted:
			t.logger.Info("识别任务开始", zap.String("taskId", resp.Header.TaskID))
			signal(nil)
		case nls.NameSentenceEnd:
			text := resp.Payload.Result
			t.logger.Info("识别结果", zap.String("text", text))
			if text != "" && t.cb.OnResult != nil {
				t.cb.OnResult(text)
			}
		case nls.NameSentenceBegin, nls.NameTranscriptionResultChanged:
			if t.cb.OnActivity != nil {
				t.cb.OnActivity()
			}
		case nls.NameTranscriptionCompleted:
			t.logger.Info("识别任务结束", zap.Int("status", resp.Header.Status))
		case nls.NameTaskFailed:
			t.logger.Error("ASR Error", zap.String("status", resp.Header.StatusText))
			t.running.Store(false)
			signal(resp.Err())
		}
	}
}

// SendOpus 解码并发送一帧音频；解码失败只记录，不影响会话
func (t *Transcriber) SendOpus(frame []byte) error {
	if !t.IsRunning() {
		return ErrNotRunning
	}
	if len(frame) == 0 {
		return nil
	}

	pcm, err := t.decoder.Decode(frame)
	if err != nil || len(pcm) == 0 {
		return nil
	}

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return ErrNotRunning
	}
	err = conn.WriteMessage(websocket.BinaryMessage, pcm)
	t.mu.Unlock()

	if err != nil {
		fails := t.sendFails.Add(1)
		t.logger.Debug("发送识别音频失败", zap.Int32("sendFailCount", fails), zap.Error(err))
		return err
	}
	t.sendFails.Store(0)
	return nil
}

// Stop 发送 StopTranscription，等待服务端确认后关闭连接
func (t *Transcriber) Stop() {
	t.stop(true)
	t.logger.Info("ASR 会话已停止并释放资源")
}

// ForceStop 发送 StopTranscription 后立即关闭
func (t *Transcriber) ForceStop() {
	t.stop(false)
	t.logger.Debug("ASR 会话已强制停止")
}

func (t *Transcriber) stop(graceful bool) {
	t.running.Store(false)

	t.mu.Lock()
	conn := t.conn
	taskID := t.taskID
	t.conn = nil
	if conn != nil {
		req := nls.NewRequest(t.cfg.AppKey, taskID, nls.NamespaceTranscriber, nls.NameStopTranscription, nil)
		if data, err := req.Encode(); err == nil {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Debug("发送 StopTranscription 失败", zap.Error(err))
			}
		}
	}
	t.mu.Unlock()

	if conn == nil {
		return
	}
	if graceful {
		time.Sleep(t.cfg.StopGrace)
	}
	if err := conn.Close(); err != nil {
		t.logger.Debug("关闭识别连接失败", zap.Error(err))
	}
	if graceful {
		time.Sleep(t.cfg.CloseGrace)
	}
}

// IsRunning 握手完成且未停止
func (t *Transcriber) IsRunning() bool {
	if !t.running.Load() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// IsHealthy 运行中且连续发送失败次数未超限
func (t *Transcriber) IsHealthy() bool {
	return t.IsRunning() && int(t.sendFails.Load()) < t.cfg.MaxSendFailures
}

// SendFailCount 连续发送失败次数
func (t *Transcriber) SendFailCount() int {
	return int(t.sendFails.Load())
}

func (t *Transcriber) writeRequest(req *nls.Request) error {
	data, err := req.Encode()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotRunning
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
