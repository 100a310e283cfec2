package audio

import (
	"fmt"
	"sync"

	"github.com/hraban/opus"
	"go.uber.org/zap"
)

// MaxDecodeErrors 连续解码失败达到该次数后重建解码器
const MaxDecodeErrors = 3

// FrameDecoder Opus 帧解码器
type FrameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// DecoderFactory 创建底层解码器
type DecoderFactory func() (FrameDecoder, error)

// OpusDecoderFactory 创建 hraban/opus 解码器
func OpusDecoderFactory(sampleRate, channels int) DecoderFactory {
	return func() (FrameDecoder, error) {
		return opus.NewDecoder(sampleRate, channels)
	}
}

// Decoder 容错解码器
// 单帧解码失败只返回错误，连续失败 MaxDecodeErrors 次后重建底层解码器
type Decoder struct {
	mu       sync.Mutex
	factory  DecoderFactory
	dec      FrameDecoder
	pcm      []int16
	failures int
	reinits  int
	logger   *zap.Logger
}

// NewDecoder 创建容错解码器
func NewDecoder(factory DecoderFactory, logger *zap.Logger) (*Decoder, error) {
	if logger == nil {
		logger = zap.L()
	}
	dec, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Decoder{
		factory: factory,
		dec:     dec,
		pcm:     make([]int16, MaxFrameSamples),
		logger:  logger,
	}, nil
}

// Decode 解码一帧 Opus 数据，返回 16-bit 小端 PCM
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dec == nil {
		if err := d.reinitLocked(); err != nil {
			return nil, err
		}
	}

	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		d.failures++
		if d.failures == 1 {
			d.logger.Warn("Opus解码异常（将尝试恢复）", zap.Error(err), zap.Int("size", len(frame)))
		}
		if d.failures >= MaxDecodeErrors {
			d.logger.Info("连续解码失败，重置解码器", zap.Int("failures", d.failures))
			if rerr := d.reinitLocked(); rerr != nil {
				d.logger.Error("重置解码器失败", zap.Error(rerr))
			}
		}
		return nil, err
	}

	d.failures = 0
	if n <= 0 {
		return nil, nil
	}
	return Int16ToBytes(d.pcm[:n]), nil
}

func (d *Decoder) reinitLocked() error {
	dec, err := d.factory()
	if err != nil {
		d.dec = nil
		return fmt.Errorf("reinit opus decoder: %w", err)
	}
	d.dec = dec
	d.failures = 0
	d.reinits++
	return nil
}

// Failures 当前连续失败次数
func (d *Decoder) Failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

// Reinits 解码器重建次数
func (d *Decoder) Reinits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reinits
}
