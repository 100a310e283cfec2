package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/hardware/errhandler"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/coze-dev/coze-go"
	"go.uber.org/zap"
)

// RequestTimeout 单次对话超时
const RequestTimeout = 60 * time.Second

// Agent 对话智能体
type Agent interface {
	CreateConversation(ctx context.Context) (string, error)
	Ask(ctx context.Context, text string, voice tts.VoiceConfig, conversationID string) (string, error)
}

// CozeConfig Coze 配置
type CozeConfig struct {
	Token   string
	BotID   string
	UserID  string
	BaseURL string
}

// chatBackend coze-go 调用的最小面
type chatBackend interface {
	createConversation(ctx context.Context, botID string) (string, error)
	streamChat(ctx context.Context, req *coze.CreateChatsReq, onEvent func(*coze.ChatEvent) bool) error
}

type cozeBackend struct {
	client coze.CozeAPI
}

func (b *cozeBackend) createConversation(ctx context.Context, botID string) (string, error) {
	resp, err := b.client.Conversations.Create(ctx, &coze.CreateConversationsReq{BotID: botID})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Conversation.ID == "" {
		return "", errors.New("coze: empty conversation id")
	}
	return resp.Conversation.ID, nil
}

func (b *cozeBackend) streamChat(ctx context.Context, req *coze.CreateChatsReq, onEvent func(*coze.ChatEvent) bool) error {
	stream, err := b.client.Chat.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("error creating chat stream: %w", err)
	}
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("error receiving from stream: %w", err)
		}
		if event == nil {
			continue
		}
		if !onEvent(event) {
			return nil
		}
	}
}

// CozeAgent Coze 智能体，每个设备会话对应一个 Coze 会话
type CozeAgent struct {
	cfg          CozeConfig
	backend      chatBackend
	errorHandler *errhandler.Handler
	logger       *zap.Logger
	mu           sync.RWMutex
	closed       bool
}

// NewCozeAgent 创建 Coze 智能体
func NewCozeAgent(cfg CozeConfig, logger *zap.Logger) (*CozeAgent, error) {
	if cfg.BotID == "" {
		return nil, fmt.Errorf("botID is required for Coze agent")
	}
	if cfg.UserID == "" {
		cfg.UserID = "default_user"
	}

	authClient := coze.NewTokenAuth(cfg.Token)
	var client coze.CozeAPI
	if cfg.BaseURL != "" {
		client = coze.NewCozeAPI(authClient, coze.WithBaseURL(cfg.BaseURL))
	} else {
		client = coze.NewCozeAPI(authClient)
	}
	return newCozeAgent(cfg, &cozeBackend{client: client}, logger), nil
}

func newCozeAgent(cfg CozeConfig, backend chatBackend, logger *zap.Logger) *CozeAgent {
	if logger == nil {
		logger = zap.L()
	}
	return &CozeAgent{
		cfg:          cfg,
		backend:      backend,
		errorHandler: errhandler.NewHandler(logger),
		logger:       logger,
	}
}

// CreateConversation 创建 Coze 会话
func (a *CozeAgent) CreateConversation(ctx context.Context) (string, error) {
	if a.isClosed() {
		return "", errhandler.NewRecoverableError(errhandler.ServiceLLM, "服务已关闭", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	id, err := a.backend.createConversation(ctx, a.cfg.BotID)
	if err != nil {
		classified := a.errorHandler.Classify(err, errhandler.ServiceLLM)
		a.logger.Error("创建Coze会话失败", zap.Error(classified))
		return "", classified
	}
	a.logger.Info("Coze会话已创建", zap.String("conversationId", id))
	return id, nil
}

// Ask 发送问题并拼接助手回答的增量内容
// 无回答时返回空字符串
func (a *CozeAgent) Ask(ctx context.Context, text string, voice tts.VoiceConfig, conversationID string) (string, error) {
	if a.isClosed() {
		return "", errhandler.NewRecoverableError(errhandler.ServiceLLM, "服务已关闭", nil)
	}
	if strings.TrimSpace(text) == "" {
		return "", errhandler.NewRecoverableError(errhandler.ServiceLLM, "消息为空", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	autoSave := true
	streamFlag := true
	req := &coze.CreateChatsReq{
		ConversationID: conversationID,
		BotID:          a.cfg.BotID,
		UserID:         a.cfg.UserID,
		Messages: []*coze.Message{{
			Role:        "user",
			Content:     text,
			ContentType: "text",
		}},
		Stream:          &streamFlag,
		AutoSaveHistory: &autoSave,
		MetaData:        voiceMetaData(voice),
	}

	startTime := time.Now()
	var sb strings.Builder
	var failed error
	err := a.backend.streamChat(ctx, req, func(event *coze.ChatEvent) bool {
		switch event.Event {
		case coze.ChatEventConversationMessageDelta:
			if event.Message != nil && isAnswer(event.Message) {
				sb.WriteString(event.Message.Content)
			}
		case coze.ChatEventConversationChatFailed:
			failed = errors.New("coze chat failed")
			return false
		case coze.ChatEventConversationChatCompleted, coze.ChatEventDone:
			return false
		}
		return true
	})
	if err == nil {
		err = failed
	}
	if err != nil {
		if ctx.Err() != nil && sb.Len() > 0 {
			a.logger.Warn("Coze请求超时，返回部分回答", zap.Error(err))
			return strings.TrimSpace(sb.String()), nil
		}
		classified := a.errorHandler.Classify(err, errhandler.ServiceLLM)
		a.logger.Error("Coze对话失败", zap.Error(classified))
		return "", classified
	}

	reply := strings.TrimSpace(sb.String())
	a.logger.Info("Coze回答",
		zap.String("conversationId", conversationID),
		zap.Int("length", len([]rune(reply))),
		zap.Duration("latency", time.Since(startTime)))
	return reply, nil
}

// Close 关闭智能体
func (a *CozeAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *CozeAgent) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func isAnswer(m *coze.Message) bool {
	return m.Role == "assistant" && (m.Type == "" || m.Type == "answer")
}

func voiceMetaData(voice tts.VoiceConfig) map[string]string {
	return map[string]string{
		"voice_id":    voice.VoiceID,
		"speed_ratio": strconv.FormatFloat(voice.SpeedRatio, 'f', -1, 64),
		"volume":      strconv.Itoa(voice.Volume),
	}
}
