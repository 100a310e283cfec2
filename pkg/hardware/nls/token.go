package nls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	teaUtil "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	gocache "github.com/patrickmn/go-cache"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const (
	// TokenRefreshMargin 剩余有效期小于该值时刷新
	TokenRefreshMargin = 600 * time.Second

	tokenCacheKey = "nls:token"
)

// ErrEmptyToken 阿里云返回空 Token 或无效过期时间
var ErrEmptyToken = errors.New("aliyun returned empty token or invalid expire time")

// Token 访问令牌
type Token struct {
	ID       string
	ExpireAt time.Time
}

// TokenFetcher 申请新 Token
type TokenFetcher interface {
	CreateToken(ctx context.Context) (*Token, error)
}

// TokenService Token 管理，缓存有效 Token 并在即将过期时刷新
type TokenService struct {
	mu      sync.Mutex
	fetcher TokenFetcher
	cache   *gocache.Cache
	static  string
	logger  *zap.Logger
}

// NewTokenService 创建 Token 服务
// static 不为空时直接使用固定 Token（开发环境）
func NewTokenService(fetcher TokenFetcher, static string, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.L()
	}
	return &TokenService{
		fetcher: fetcher,
		cache:   gocache.New(gocache.NoExpiration, 10*time.Minute),
		static:  static,
		logger:  logger,
	}
}

// Token 获取有效 Token
func (s *TokenService) Token(ctx context.Context) (string, error) {
	if s.static != "" {
		return s.static, nil
	}
	if v, ok := s.cache.Get(tokenCacheKey); ok {
		return v.(string), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(tokenCacheKey); ok {
		return v.(string), nil
	}
	if s.fetcher == nil {
		return "", errors.New("token fetcher not configured")
	}

	s.logger.Info("Token 即将过期或不存在，正在刷新")
	token, err := s.fetcher.CreateToken(ctx)
	if err != nil {
		s.logger.Error("获取阿里云 Token 失败", zap.Error(err))
		return "", fmt.Errorf("create nls token: %w", err)
	}
	if token == nil || token.ID == "" || token.ExpireAt.IsZero() {
		return "", ErrEmptyToken
	}

	ttl := time.Until(token.ExpireAt) - TokenRefreshMargin
	if ttl > 0 {
		s.cache.Set(tokenCacheKey, token.ID, ttl)
	}
	s.logger.Info("Token 刷新成功", zap.Time("expireAt", token.ExpireAt))
	return token.ID, nil
}

// Invalidate 丢弃缓存的 Token
func (s *TokenService) Invalidate() {
	s.cache.Delete(tokenCacheKey)
}

// OpenAPIFetcher 通过阿里云 OpenAPI CreateToken 申请 Token
type OpenAPIFetcher struct {
	client *openapi.Client
}

// NewOpenAPIFetcher 创建 OpenAPI Token 申请器
func NewOpenAPIFetcher(accessKeyID, accessKeySecret, region string) (*OpenAPIFetcher, error) {
	if accessKeyID == "" || accessKeySecret == "" {
		return nil, errors.New("aliyun access key is required")
	}
	if region == "" {
		region = DefaultRegion
	}
	client, err := openapi.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(accessKeyID),
		AccessKeySecret: tea.String(accessKeySecret),
		Endpoint:        tea.String(fmt.Sprintf("nls-meta.%s.aliyuncs.com", region)),
		RegionId:        tea.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun client: %w", err)
	}
	return &OpenAPIFetcher{client: client}, nil
}

// CreateToken 调用 CreateToken（RPC 风格，2019-02-28）
func (f *OpenAPIFetcher) CreateToken(ctx context.Context) (*Token, error) {
	params := &openapi.Params{
		Action:      tea.String("CreateToken"),
		Version:     tea.String("2019-02-28"),
		Protocol:    tea.String("HTTPS"),
		Pathname:    tea.String("/"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		ReqBodyType: tea.String("formData"),
		BodyType:    tea.String("json"),
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		runtime := &teaUtil.RuntimeOptions{}
		resp, err := f.client.CallApi(params, &openapi.OpenApiRequest{}, runtime)
		if err != nil {
			done <- result{err: err}
			return
		}
		body, _ := resp["body"].(map[string]interface{})
		done <- result{body: body}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return parseTokenBody(r.body)
	}
}

func parseTokenBody(body map[string]interface{}) (*Token, error) {
	tokenMap, ok := body["Token"].(map[string]interface{})
	if !ok {
		return nil, ErrEmptyToken
	}
	id := cast.ToString(tokenMap["Id"])
	expire, err := cast.ToInt64E(tokenMap["ExpireTime"])
	if err != nil || id == "" || expire <= 0 {
		return nil, ErrEmptyToken
	}
	return &Token{ID: id, ExpireAt: time.Unix(expire, 0)}, nil
}
