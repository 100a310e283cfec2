package asr

import (
	"context"
	"errors"
)

// ErrNotRunning 识别会话未就绪
var ErrNotRunning = errors.New("asr: recognizer not running")

// Callbacks 识别回调，在识别器的读取协程中调用
type Callbacks struct {
	// OnResult 一句话识别完成
	OnResult func(text string)
	// OnActivity 服务端检测到语音活动（句子开始、中间结果）
	OnActivity func()
}

// Recognizer 一次流式识别会话，只能启动一次，重置时整体替换
type Recognizer interface {
	// Start 建立连接并等待服务端确认，受 ctx 超时约束
	Start(ctx context.Context, token string) error
	// SendOpus 发送一帧设备上行 Opus 音频
	SendOpus(frame []byte) error
	// Stop 正常停止，等待服务端释放并发槽位
	Stop()
	// ForceStop 立即停止
	ForceStop()
	IsRunning() bool
	IsHealthy() bool
	SendFailCount() int
}

// Factory 创建识别会话
type Factory interface {
	New(cb Callbacks) Recognizer
}

// FactoryFunc 函数形式的 Factory
type FactoryFunc func(cb Callbacks) Recognizer

// New 实现 Factory
func (f FactoryFunc) New(cb Callbacks) Recognizer {
	return f(cb)
}
