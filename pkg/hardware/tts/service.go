package tts

import (
	"context"
	"sync"

	"github.com/code-100-precent/LingLamp/pkg/hardware/errhandler"
	"go.uber.org/zap"
)

// frameBuffer 约 3 秒音频
const frameBuffer = 50

// Service TTS服务，将回调式合成转换为帧通道
type Service struct {
	synthesizer  Synthesizer
	errorHandler *errhandler.Handler
	logger       *zap.Logger
	mu           sync.RWMutex
	closed       bool
}

// NewService 创建TTS服务
func NewService(synthesizer Synthesizer, errorHandler *errhandler.Handler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	if errorHandler == nil {
		errorHandler = errhandler.NewHandler(logger)
	}
	return &Service{
		synthesizer:  synthesizer,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Synthesize 合成语音，返回按序输出 Opus 帧的通道，合成结束（成功或失败）后通道关闭
// 消费方停止读取时需取消 ctx
func (s *Service) Synthesize(ctx context.Context, text string, voice VoiceConfig) (<-chan []byte, error) {
	s.mu.RLock()
	closed := s.closed
	synthesizer := s.synthesizer
	s.mu.RUnlock()

	if closed || synthesizer == nil {
		return nil, errhandler.NewRecoverableError(errhandler.ServiceTTS, "服务已关闭", nil)
	}
	if text == "" {
		return nil, errhandler.NewRecoverableError(errhandler.ServiceTTS, "文本为空", nil)
	}

	frames := make(chan []byte, frameBuffer)
	go func() {
		defer close(frames)
		err := synthesizer.Synthesize(ctx, text, voice, func(frame []byte) {
			select {
			case frames <- frame:
			case <-ctx.Done():
			}
		}, nil)
		if err != nil && ctx.Err() == nil {
			_ = s.errorHandler.HandleError(err, errhandler.ServiceTTS)
		}
	}()
	return frames, nil
}

// Close 关闭服务
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
