package nls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	calls  atomic.Int32
	expire time.Duration
	err    error
}

func (f *fakeFetcher) CreateToken(ctx context.Context) (*Token, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Token{ID: "token-" + string(rune('0'+n)), ExpireAt: time.Now().Add(f.expire)}, nil
}

func TestTokenService_CachesUntilMargin(t *testing.T) {
	f := &fakeFetcher{expire: time.Hour}
	s := NewTokenService(f, "", zap.NewNop())

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, int32(1), f.calls.Load())

	s.Invalidate()
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestTokenService_ExpiringTokenNotCached(t *testing.T) {
	f := &fakeFetcher{expire: 5 * time.Minute}
	s := NewTokenService(f, "", zap.NewNop())

	_, err := s.Token(context.Background())
	require.NoError(t, err)
	_, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTokenService_ConcurrentRefreshSerialized(t *testing.T) {
	f := &fakeFetcher{expire: time.Hour}
	s := NewTokenService(f, "", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Token(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestTokenService_StaticAndErrors(t *testing.T) {
	s := NewTokenService(nil, "static-token", nil)
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static-token", tok)

	s = NewTokenService(&fakeFetcher{err: errors.New("InvalidAccessKeyId")}, "", zap.NewNop())
	_, err = s.Token(context.Background())
	assert.Error(t, err)

	s = NewTokenService(nil, "", zap.NewNop())
	_, err = s.Token(context.Background())
	assert.Error(t, err)
}

func TestParseTokenBody(t *testing.T) {
	tok, err := parseTokenBody(map[string]interface{}{
		"Token": map[string]interface{}{
			"Id":         "abc",
			"ExpireTime": json.Number("1893456000"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.ID)
	assert.Equal(t, int64(1893456000), tok.ExpireAt.Unix())

	tok, err = parseTokenBody(map[string]interface{}{
		"Token": map[string]interface{}{"Id": "abc", "ExpireTime": float64(1893456000)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1893456000), tok.ExpireAt.Unix())

	_, err = parseTokenBody(map[string]interface{}{"Token": map[string]interface{}{"Id": "", "ExpireTime": 0}})
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = parseTokenBody(nil)
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestNewOpenAPIFetcher_RequiresKeys(t *testing.T) {
	_, err := NewOpenAPIFetcher("", "", "")
	assert.Error(t, err)
}
