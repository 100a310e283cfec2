package hardware

import (
	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/hardware/audio"
	"go.uber.org/zap"
)

func silenceFrame() []byte {
	frame := make([]byte, len(audio.SilenceFrame))
	copy(frame, audio.SilenceFrame)
	return frame
}

// OnBinaryFragment 处理设备上行音频分片，isFinal 时派发完整帧
// 没有健康识别器时触发异步启动并丢弃该帧；会话忙时以静音帧替代真实音频
func (g *Gateway) OnBinaryFragment(s *Session, data []byte, isFinal bool) {
	defer func() {
		if r := recover(); r != nil {
			s.clearFragment()
			s.logger.Error("处理音频帧异常", zap.Any("panic", r))
		}
	}()

	frame, ok := s.appendFragment(data, isFinal)
	if !ok || s.Closed() {
		return
	}

	stamp(&s.lastRecognizerSendAt, g.now())
	s.audioFrameCount.Add(1)

	rec, _ := s.Recognizer()
	if !g.recognizers.IsHealthy(rec) {
		g.recognizers.Ensure(s, TriggerIngest)
		return
	}

	payload := frame
	if s.IsBusy() {
		payload = silenceFrame()
	}
	if err := rec.SendOpus(payload); err != nil {
		s.logger.Debug("发送音频到识别器失败", zap.Error(err))
	}
}

// OnText 处理设备上行文本遥测，无法识别的内容忽略
func (g *Gateway) OnText(s *Session, text string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("处理文本消息异常", zap.Any("panic", r))
		}
	}()

	if volume, ok := devices.ParseVolume(text); ok {
		g.latestVolume.Store(int64(volume))
		s.logger.Debug("设备音量", zap.Int("volume", volume))
		return
	}
	if status, ok := devices.ParseLightStatus(text); ok {
		g.telemetryMu.Lock()
		g.latestLight = status
		g.telemetryMu.Unlock()
		s.logger.Debug("设备灯光状态", zap.String("status", status.String()))
		return
	}
	s.logger.Debug("忽略未识别的文本消息", zap.String("text", text))
}
