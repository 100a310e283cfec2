package hardware

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DeviceIDHeader 设备自报标识
const DeviceIDHeader = "Device-Id"

const readChunkSize = 4096

// Handler 设备 WebSocket 处理器
type Handler struct {
	gateway *Gateway
	logger  *zap.Logger
}

// NewHandler 创建新的处理器
func NewHandler(gateway *Gateway, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{
		gateway: gateway,
		logger:  logger,
	}
}

// DeviceKey 设备标识：优先使用 Device-Id 请求头，否则使用不带端口的客户端地址
func DeviceKey(r *http.Request, clientIP string) string {
	if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" {
		return id
	}
	if clientIP != "" {
		return clientIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleWebSocket 处理已升级的设备连接，阻塞至连接关闭
func (h *Handler) HandleWebSocket(conn *websocket.Conn, deviceKey string) {
	remoteAddr := conn.RemoteAddr().String()
	session, err := h.gateway.Connect(conn, deviceKey, remoteAddr)
	if err != nil {
		h.logger.Warn("拒绝设备连接", zap.String("remoteAddr", remoteAddr), zap.Error(err))
		_ = conn.Close()
		return
	}
	defer h.gateway.Cleanup(session.ID, ReasonTransportClosed)

	// 读超时随 pong 和设备消息顺延，链路静默超过 PongTimeout 时读循环退出
	pongTimeout := h.gateway.opts.PongTimeout
	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		stamp(&session.lastTransportPongAt, h.gateway.now())
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	buf := make([]byte, readChunkSize)
	for {
		messageType, reader, err := conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !session.Closed() {
				session.logger.Warn("设备连接异常断开", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			if err := h.readFragments(session, reader, buf); err != nil {
				session.clearFragment()
				session.logger.Debug("读取音频分片失败", zap.Error(err))
			}
		case websocket.TextMessage:
			data, err := io.ReadAll(reader)
			if err != nil {
				session.logger.Debug("读取文本消息失败", zap.Error(err))
				continue
			}
			h.gateway.OnText(session, string(data))
		}
	}
}

// readFragments 按块读取一条二进制消息，读到结尾时派发
func (h *Handler) readFragments(s *Session, reader io.Reader, buf []byte) error {
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			h.gateway.OnBinaryFragment(s, buf[:n], false)
		}
		if errors.Is(err, io.EOF) {
			h.gateway.OnBinaryFragment(s, nil, true)
			return nil
		}
		if err != nil {
			return err
		}
	}
}
