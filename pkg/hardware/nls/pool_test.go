package nls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_GetOrRefresh(t *testing.T) {
	p := NewPool("", 0, zap.NewNop())

	c1 := p.GetOrRefresh("t1")
	assert.Same(t, c1, p.GetOrRefresh("t1"))
	assert.Equal(t, "t1", c1.Token())

	c2 := p.GetOrRefresh("t2")
	assert.NotSame(t, c1, c2)

	_, err := c1.Dial(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)

	p.Shutdown()
	_, err = c2.Dial(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestTokenDialer_SendsTokenHeader(t *testing.T) {
	gotToken := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.Header.Get(TokenHeader)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := &TokenDialer{
		Tokens: NewTokenService(nil, "tok-123", zap.NewNop()),
		Pool:   NewPool(url, time.Second, zap.NewNop()),
	}

	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case tok := <-gotToken:
		assert.Equal(t, "tok-123", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive handshake")
	}
}

func TestProtocol_RoundTrip(t *testing.T) {
	req := NewRequest("app", "task1", NamespaceTranscriber, NameStartTranscription, map[string]interface{}{"format": "pcm"})
	data, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"StartTranscription"`)
	assert.Contains(t, string(data), `"appkey":"app"`)
	assert.Len(t, req.Header.MessageID, 32)

	resp, err := DecodeResponse([]byte(`{"header":{"namespace":"SpeechTranscriber","name":"SentenceEnd","status":20000000,"task_id":"task1"},"payload":{"index":1,"result":"开灯"}}`))
	require.NoError(t, err)
	assert.Equal(t, NameSentenceEnd, resp.Header.Name)
	assert.Equal(t, "开灯", resp.Payload.Result)
	assert.NoError(t, resp.Err())

	resp, err = DecodeResponse([]byte(`{"header":{"namespace":"SpeechTranscriber","name":"TaskFailed","status":40000005,"status_text":"Gateway:TOO_MANY_REQUESTS"}}`))
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	assert.ErrorContains(t, resp.Err(), "TOO_MANY_REQUESTS")

	_, err = DecodeResponse([]byte("not json"))
	assert.Error(t, err)
}
