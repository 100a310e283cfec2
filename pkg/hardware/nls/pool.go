package nls

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed 客户端已因 Token 变更被替换
var ErrClientClosed = errors.New("nls client closed")

// DefaultHandshakeTimeout 网关握手超时
const DefaultHandshakeTimeout = 5 * time.Second

// Client 绑定某个 Token 的网关客户端，所有会话共享
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu     sync.RWMutex
	closed bool
}

// Token 客户端使用的 Token
func (c *Client) Token() string {
	return c.token
}

// Dial 建立一条新的网关连接
func (c *Client) Dial(ctx context.Context) (Conn, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}

	header := http.Header{}
	header.Set(TokenHeader, c.token)
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Shutdown 关闭客户端，之后的 Dial 返回 ErrClientClosed
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Pool 共享网关客户端，Token 变化时重建
// 只通过 GetOrRefresh 访问，内部互斥锁与会话状态无关
type Pool struct {
	mu               sync.Mutex
	url              string
	handshakeTimeout time.Duration
	client           *Client
	logger           *zap.Logger
}

// NewPool 创建连接池
func NewPool(url string, handshakeTimeout time.Duration, logger *zap.Logger) *Pool {
	if url == "" {
		url = DefaultGatewayURL
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Pool{
		url:              url,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
	}
}

// GetOrRefresh 返回与 token 匹配的客户端，Token 变化时关闭旧客户端并重建
func (p *Pool) GetOrRefresh(token string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.token == token {
		return p.client
	}

	if p.client != nil {
		p.logger.Info("检测到 Token 变更，正在重置 NLS 客户端")
		p.client.Shutdown()
	}
	p.client = &Client{
		url:   p.url,
		token: token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: p.handshakeTimeout,
		},
	}
	return p.client
}

// Shutdown 关闭当前客户端
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Shutdown()
		p.client = nil
	}
}

// TokenDialer 每次拨号前获取最新 Token 并从连接池取客户端
type TokenDialer struct {
	Tokens *TokenService
	Pool   *Pool
}

// Dial 实现 Dialer
func (d *TokenDialer) Dial(ctx context.Context) (Conn, error) {
	token, err := d.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return d.Pool.GetOrRefresh(token).Dial(ctx)
}
