package audio

import (
	"fmt"

	"github.com/hraban/opus"
)

// FrameEncoder Opus 帧编码器
type FrameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Encoder 将任意长度的 PCM 切分为固定时长的 Opus 帧，不足一帧的部分保留到下次写入
// 非并发安全，每次合成独占一个实例
type Encoder struct {
	enc          FrameEncoder
	frameSamples int
	pending      []int16
	packet       []byte
}

// NewOpusEncoder 创建 hraban/opus 编码器（VoIP 模式）
func NewOpusEncoder(sampleRate, channels, frameMs int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return NewEncoder(enc, sampleRate*channels*frameMs/1000), nil
}

// NewEncoder 使用指定底层编码器创建
func NewEncoder(enc FrameEncoder, frameSamples int) *Encoder {
	return &Encoder{
		enc:          enc,
		frameSamples: frameSamples,
		packet:       make([]byte, MaxPacketSize),
	}
}

// FrameSamples 每帧样本数
func (e *Encoder) FrameSamples() int {
	return e.frameSamples
}

// Write 写入 16-bit 小端 PCM，返回本次凑满的 Opus 帧
func (e *Encoder) Write(pcm []byte) ([][]byte, error) {
	e.pending = append(e.pending, BytesToInt16(pcm)...)

	var frames [][]byte
	for len(e.pending) >= e.frameSamples {
		frame, err := e.encode(e.pending[:e.frameSamples])
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		e.pending = e.pending[e.frameSamples:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return frames, nil
}

// Flush 剩余样本补零编码为最后一帧
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	last := make([]int16, e.frameSamples)
	copy(last, e.pending)
	e.pending = nil
	return e.encode(last)
}

// Pending 尚未编码的样本数
func (e *Encoder) Pending() int {
	return len(e.pending)
}

func (e *Encoder) encode(samples []int16) ([]byte, error) {
	n, err := e.enc.Encode(samples, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	frame := make([]byte, n)
	copy(frame, e.packet[:n])
	return frame, nil
}
