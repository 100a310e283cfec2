// Package nls 阿里云智能语音交互（NLS）网关协议、Token 与共享连接
package nls

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 默认网关
const (
	DefaultGatewayURL = "wss://nls-gateway-cn-shanghai.aliyuncs.com/ws/v1"
	DefaultRegion     = "cn-shanghai"
	TokenHeader       = "X-NLS-Token"

	StatusSuccess = 20000000
)

// 命名空间
const (
	NamespaceTranscriber = "SpeechTranscriber"
	NamespaceSynthesizer = "FlowingSpeechSynthesizer"
)

// 指令与事件名
const (
	NameStartTranscription         = "StartTranscription"
	NameStopTranscription          = "StopTranscription"
	NameTranscriptionStarted       = "TranscriptionStarted"
	NameTranscriptionCompleted     = "TranscriptionCompleted"
	NameSentenceBegin              = "SentenceBegin"
	NameSentenceEnd                = "SentenceEnd"
	NameTranscriptionResultChanged = "TranscriptionResultChanged"

	NameStartSynthesis     = "StartSynthesis"
	NameRunSynthesis       = "RunSynthesis"
	NameStopSynthesis      = "StopSynthesis"
	NameSynthesisStarted   = "SynthesisStarted"
	NameSentenceSynthesis  = "SentenceSynthesis"
	NameSynthesisCompleted = "SynthesisCompleted"

	NameTaskFailed = "TaskFailed"
)

// Header 消息头
type Header struct {
	MessageID  string `json:"message_id"`
	TaskID     string `json:"task_id"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	AppKey     string `json:"appkey,omitempty"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
}

// Request 客户端指令
type Request struct {
	Header  Header      `json:"header"`
	Payload interface{} `json:"payload,omitempty"`
}

// Response 服务端事件
type Response struct {
	Header  Header          `json:"header"`
	Payload ResponsePayload `json:"payload"`
}

// ResponsePayload 事件负载中会用到的字段
type ResponsePayload struct {
	Index  int    `json:"index"`
	Time   int    `json:"time"`
	Result string `json:"result"`
}

// Failed 是否为失败事件
func (r *Response) Failed() bool {
	return r.Header.Name == NameTaskFailed
}

// Err 失败事件转换为错误
func (r *Response) Err() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("nls %s failed: status=%d %s", r.Header.Namespace, r.Header.Status, r.Header.StatusText)
}

// NewID 生成 32 位十六进制 ID
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewRequest 构造指令
func NewRequest(appKey, taskID, namespace, name string, payload interface{}) *Request {
	return &Request{
		Header: Header{
			MessageID: NewID(),
			TaskID:    taskID,
			Namespace: namespace,
			Name:      name,
			AppKey:    appKey,
		},
		Payload: payload,
	}
}

// Encode 序列化指令
func (r *Request) Encode() ([]byte, error) {
	return sonic.Marshal(r)
}

// DecodeResponse 解析服务端事件
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode nls response: %w", err)
	}
	return &resp, nil
}

// Conn 网关连接，Dial 返回 gorilla 连接，测试中可替换
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer 建立网关连接
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

var _ Conn = (*websocket.Conn)(nil)
