package tts

import "math"

// 默认语音参数
const (
	DefaultVoiceID    = "zhiqi"
	DefaultSpeedRatio = 1.0
	DefaultVolume     = 70
)

// VoiceConfig 会话语音配置
type VoiceConfig struct {
	VoiceID    string  `json:"voiceId"`
	SpeedRatio float64 `json:"speedRatio"`
	Volume     int     `json:"volume"`
}

// DefaultVoice 默认语音配置
func DefaultVoice() VoiceConfig {
	return VoiceConfig{
		VoiceID:    DefaultVoiceID,
		SpeedRatio: DefaultSpeedRatio,
		Volume:     DefaultVolume,
	}
}

// SpeechRate 语速倍率转换为阿里云 speech_rate，(ratio-1)*500，限制在 -500 ~ 500
func (v VoiceConfig) SpeechRate() int {
	if v.SpeedRatio <= 0 {
		return 0
	}
	rate := math.Round((v.SpeedRatio - 1) * 500)
	if rate > 500 {
		return 500
	}
	if rate < -500 {
		return -500
	}
	return int(rate)
}

// ClampedVolume 音量限制在 0-100
func (v VoiceConfig) ClampedVolume() int {
	if v.Volume < 0 {
		return 0
	}
	if v.Volume > 100 {
		return 100
	}
	return v.Volume
}
