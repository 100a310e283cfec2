package message

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// WriteTimeout 单条消息写入超时，超时后连接不可再用
	WriteTimeout = 10 * time.Second

	MessageTypeTTS = "tts"
	TTSStateStart  = "start"
	TTSStateEnd    = "end"
)

// ErrWriterClosed 写入器已关闭
var ErrWriterClosed = errors.New("message writer closed")

// Conn 设备连接，*websocket.Conn 满足该接口
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// TTSMessage TTS 播放边界消息
type TTSMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// Writer 消息写入器，同步写入并串行化，保证 TTS 边界消息与音频帧的顺序
// mu 只串行化数据帧；Ping 与 Close 不等待 mu，数据写入阻塞时仍可探活和关闭
type Writer struct {
	conn    Conn
	timeout time.Duration
	logger  *zap.Logger
	mu      sync.Mutex
	closed  atomic.Bool
}

// NewWriter 创建消息写入器，timeout <= 0 时使用 WriteTimeout
func NewWriter(conn Conn, timeout time.Duration, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.L()
	}
	if timeout <= 0 {
		timeout = WriteTimeout
	}
	return &Writer{conn: conn, timeout: timeout, logger: logger}
}

func (w *Writer) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return ErrWriterClosed
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, data)
}

// SendText 发送文本消息
func (w *Writer) SendText(text string) error {
	return w.write(websocket.TextMessage, []byte(text))
}

// SendDirective 发送控制指令，如 (volume_up,15)
func (w *Writer) SendDirective(directive string) error {
	if err := w.SendText(directive); err != nil {
		w.logger.Warn("发送控制指令失败", zap.String("directive", directive), zap.Error(err))
		return err
	}
	return nil
}

// SendJSON 发送JSON消息
func (w *Writer) SendJSON(v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, data)
}

// SendTTSStart 发送TTS开始
func (w *Writer) SendTTSStart() error {
	return w.SendJSON(TTSMessage{Type: MessageTypeTTS, State: TTSStateStart})
}

// SendTTSEnd 发送TTS结束
func (w *Writer) SendTTSEnd() error {
	return w.SendJSON(TTSMessage{Type: MessageTypeTTS, State: TTSStateEnd})
}

// SendAudio 发送一帧 Opus 音频
func (w *Writer) SendAudio(frame []byte) error {
	return w.write(websocket.BinaryMessage, frame)
}

// Ping 发送传输层心跳；websocket 控制帧可与数据帧并发写入
func (w *Writer) Ping() error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout))
}

// Closed 是否已关闭
func (w *Writer) Closed() bool {
	return w.closed.Load()
}

// Close 关闭写入器及底层连接，可重复调用；阻塞中的数据写入随连接关闭返回
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.conn.Close()
}
