package errhandler

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// 服务标识，用于日志与错误前缀
const (
	ServiceASR = "ASR"
	ServiceTTS = "TTS"
	ServiceLLM = "LLM"
	ServiceNLS = "NLS"
)

// ErrorType 错误类型
type ErrorType int

const (
	// ErrorTypeFatal 需要断开会话或人工处理（鉴权、额度）
	ErrorTypeFatal ErrorType = iota
	// ErrorTypeRecoverable 本轮失败，下一轮可继续
	ErrorTypeRecoverable
	// ErrorTypeTransient 短暂故障，退避后重试
	ErrorTypeTransient
)

var typeNames = map[ErrorType]string{
	ErrorTypeFatal:       "fatal",
	ErrorTypeRecoverable: "recoverable",
	ErrorTypeTransient:   "transient",
}

func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Error 带服务来源与类型的错误
type Error struct {
	Type    ErrorType
	Service string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Service, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Service, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// 关键字按小写匹配；阿里云 NLS 的状态码一并列出
var (
	fatalKeywords = []string{
		"unauthorized",
		"authentication failed",
		"invalid credentials",
		"access_denied",
		"invalid_appkey",
		"invalid token",
		"token expired",
		"quota exceeded",
		"insufficient quota",
		"account disabled",
		"40000001",
		"40000003",
	}

	rateLimitKeywords = []string{
		"too_many_requests",
		"too many requests",
		"rate limit",
		"并发超限",
		"40000005",
		"429",
	}

	transientKeywords = []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"network",
		"temporary",
	}
)

// Handler 错误分类与分级日志
type Handler struct {
	logger *zap.Logger
}

// NewHandler 创建错误处理器
func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{logger: logger}
}

// IsFatal 已分类的错误看类型，否则按关键字判断
func (h *Handler) IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError(err); ok {
		return e.Type == ErrorTypeFatal
	}
	return matches(err, fatalKeywords)
}

// IsRateLimitError 见 IsRateLimit
func (h *Handler) IsRateLimitError(err error) bool {
	return IsRateLimit(err)
}

// IsRateLimit 识别服务返回限流或并发超限
func IsRateLimit(err error) bool {
	return err != nil && matches(err, rateLimitKeywords)
}

// Classify 返回 err 链上已有的 *Error，否则按关键字生成
func (h *Handler) Classify(err error, service string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}

	t := ErrorTypeRecoverable
	switch {
	case matches(err, fatalKeywords):
		t = ErrorTypeFatal
	case IsRateLimit(err), matches(err, transientKeywords):
		t = ErrorTypeTransient
	}
	return newError(t, service, err.Error(), err)
}

// HandleError 分类并按级别记录日志
func (h *Handler) HandleError(err error, service string) error {
	if err == nil {
		return nil
	}
	classified := h.Classify(err, service)
	fields := []zap.Field{
		zap.String("service", service),
		zap.String("type", classified.Type.String()),
		zap.Error(err),
	}
	switch classified.Type {
	case ErrorTypeFatal:
		h.logger.Error("服务调用失败", fields...)
	case ErrorTypeTransient:
		h.logger.Debug("服务暂时不可用", fields...)
	default:
		h.logger.Warn("服务调用失败，可重试", fields...)
	}
	return classified
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func matches(err error, keywords []string) bool {
	msg := strings.ToLower(err.Error())
	for _, k := range keywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}

func newError(t ErrorType, service, message string, err error) *Error {
	return &Error{Type: t, Service: service, Message: message, Err: err}
}

// NewFatalError 创建致命错误
func NewFatalError(service, message string, err error) *Error {
	return newError(ErrorTypeFatal, service, message, err)
}

// NewRecoverableError 创建可恢复错误
func NewRecoverableError(service, message string, err error) *Error {
	return newError(ErrorTypeRecoverable, service, message, err)
}

// NewTransientError 创建临时错误
func NewTransientError(service, message string, err error) *Error {
	return newError(ErrorTypeTransient, service, message, err)
}
