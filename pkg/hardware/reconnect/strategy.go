package reconnect

import (
	"time"
)

// Strategy 重试策略
type Strategy interface {
	// NextDelay 获取第 attempt 次失败后的等待时间
	NextDelay(attempt int, err error) time.Duration
}

// BackoffStrategy 指数退避策略，限流错误使用固定延迟
type BackoffStrategy struct {
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	RateLimitDelay   time.Duration
	IsRateLimitError func(error) bool
}

// NewBackoffStrategy 创建退避策略
func NewBackoffStrategy(rateLimitDelay time.Duration, isRateLimit func(error) bool) *BackoffStrategy {
	return &BackoffStrategy{
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		Multiplier:       2.0,
		RateLimitDelay:   rateLimitDelay,
		IsRateLimitError: isRateLimit,
	}
}

// NextDelay 获取下一次重试前的等待时间
// 限流错误固定等待 RateLimitDelay，其余错误从 InitialDelay 开始按倍数增长，不超过 MaxDelay
func (s *BackoffStrategy) NextDelay(attempt int, err error) time.Duration {
	if err != nil && s.IsRateLimitError != nil && s.IsRateLimitError(err) {
		return s.RateLimitDelay
	}
	if attempt <= 0 {
		return 0
	}

	delay := float64(s.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= s.Multiplier
		if time.Duration(delay) >= s.MaxDelay {
			return s.MaxDelay
		}
	}
	if time.Duration(delay) > s.MaxDelay {
		return s.MaxDelay
	}
	return time.Duration(delay)
}
