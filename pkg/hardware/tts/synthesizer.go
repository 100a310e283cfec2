package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/code-100-precent/LingLamp/pkg/hardware/audio"
	"github.com/code-100-precent/LingLamp/pkg/hardware/nls"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Synthesizer 流式语音合成
// Synthesize 阻塞直到合成结束，onFrame 按顺序收到 Opus 帧，onComplete 在返回前恰好调用一次
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceConfig, onFrame func([]byte), onComplete func()) error
}

// FlowingConfig 阿里云流式合成配置
type FlowingConfig struct {
	AppKey     string
	SampleRate int
	FrameMs    int
	NewEncoder func() (*audio.Encoder, error)
}

// FlowingSynthesizer 阿里云 FlowingSpeechSynthesizer，每次合成独立建连
// 返回的 24kHz PCM 编码为 60ms Opus 帧
type FlowingSynthesizer struct {
	cfg    FlowingConfig
	dialer nls.Dialer
	logger *zap.Logger
}

// NewFlowingSynthesizer 创建流式合成器
func NewFlowingSynthesizer(cfg FlowingConfig, dialer nls.Dialer, logger *zap.Logger) *FlowingSynthesizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.OutputSampleRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = audio.FrameDurationMs
	}
	if cfg.NewEncoder == nil {
		sampleRate, frameMs := cfg.SampleRate, cfg.FrameMs
		cfg.NewEncoder = func() (*audio.Encoder, error) {
			return audio.NewOpusEncoder(sampleRate, audio.Channels, frameMs)
		}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &FlowingSynthesizer{cfg: cfg, dialer: dialer, logger: logger}
}

// Synthesize 实现 Synthesizer
func (s *FlowingSynthesizer) Synthesize(ctx context.Context, text string, voice VoiceConfig, onFrame func([]byte), onComplete func()) error {
	defer func() {
		if onComplete != nil {
			onComplete()
		}
	}()

	if text == "" {
		return errors.New("tts: text is empty")
	}
	if s.cfg.AppKey == "" {
		return errors.New("tts: appkey is empty")
	}

	encoder, err := s.cfg.NewEncoder()
	if err != nil {
		return err
	}

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("tts: dial gateway: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if voice.VoiceID == "" {
		voice.VoiceID = DefaultVoiceID
	}

	taskID := nls.NewID()
	send := func(name string, payload interface{}) error {
		data, err := nls.NewRequest(s.cfg.AppKey, taskID, nls.NamespaceSynthesizer, name, payload).Encode()
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(nls.NameStartSynthesis, map[string]interface{}{
		"voice":       voice.VoiceID,
		"format":      "pcm",
		"sample_rate": s.cfg.SampleRate,
		"volume":      voice.ClampedVolume(),
		"speech_rate": voice.SpeechRate(),
		"pitch_rate":  0,
	}); err != nil {
		return fmt.Errorf("tts: send start: %w", err)
	}

	emit := func(frames [][]byte) {
		for _, f := range frames {
			if onFrame != nil {
				onFrame(f)
			}
		}
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("tts: %w", ctx.Err())
			}
			return fmt.Errorf("tts: read: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			frames, err := encoder.Write(data)
			emit(frames)
			if err != nil {
				s.logger.Error("Opus 编码失败", zap.Error(err))
			}
			continue
		}

		resp, err := nls.DecodeResponse(data)
		if err != nil {
			s.logger.Debug("解析合成事件失败", zap.Error(err))
			continue
		}

		switch resp.Header.Name {
		case nls.NameSynthesisStarted:
			s.logger.Info("TTS Start", zap.String("taskId", resp.Header.TaskID))
			if err := send(nls.NameRunSynthesis, map[string]interface{}{"text": text}); err != nil {
				return fmt.Errorf("tts: send text: %w", err)
			}
			if err := send(nls.NameStopSynthesis, nil); err != nil {
				return fmt.Errorf("tts: send stop: %w", err)
			}
		case nls.NameSynthesisCompleted:
			last, err := encoder.Flush()
			if err == nil && len(last) > 0 {
				emit([][]byte{last})
			}
			s.logger.Info("TTS Complete", zap.String("taskId", resp.Header.TaskID))
			return nil
		case nls.NameTaskFailed:
			s.logger.Error("TTS Failed", zap.Int("status", resp.Header.Status), zap.String("statusText", resp.Header.StatusText))
			return resp.Err()
		}
	}
}
