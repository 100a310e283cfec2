package audio

import "encoding/binary"

// 音频参数
const (
	// InputSampleRate 设备上行 Opus 解码后送识别的采样率
	InputSampleRate = 16000
	// OutputSampleRate 合成音频采样率
	OutputSampleRate = 24000
	// Channels 单声道
	Channels = 1
	// FrameDurationMs 下行 Opus 帧时长
	FrameDurationMs = 60
	// MaxFrameSamples 单个 Opus 包最多 120ms 48kHz
	MaxFrameSamples = 5760
	// MaxPacketSize Opus 包最大字节数
	MaxPacketSize = 1275
)

// SilenceFrame Opus 静音帧
var SilenceFrame = []byte{0xF8, 0xFF, 0xFE}

// IsSilenceFrame 判断是否为静音帧
func IsSilenceFrame(frame []byte) bool {
	return len(frame) == len(SilenceFrame) &&
		frame[0] == SilenceFrame[0] && frame[1] == SilenceFrame[1] && frame[2] == SilenceFrame[2]
}

// Int16ToBytes 16-bit 小端 PCM 样本转字节
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 字节转 16-bit 小端 PCM 样本，末尾不足 2 字节的部分丢弃
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
