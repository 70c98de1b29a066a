package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/domain"
)

type countingRecorder struct{ connected, disconnected chan struct{} }

func (r *countingRecorder) WebSocketConnected()    { r.connected <- struct{}{} }
func (r *countingRecorder) WebSocketDisconnected() { r.disconnected <- struct{}{} }

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	r := gin.New()
	// 测试中直接使用查询参数作为租户 ID
	r.GET("/ws", hub.Handler(func(c *gin.Context) (string, bool) {
		id := c.Query("tenant")
		return id, id != ""
	}))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tenant=" + tenant
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDelivery(t *testing.T) {
	hub, srv := startHub(t)

	alice := dial(t, srv, "T1")
	bob := dial(t, srv, "T2")
	require.Eventually(t, func() bool {
		return hub.ClientCount("T1") == 1 && hub.ClientCount("T2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := &domain.Message{ID: "m1", UserID: "T1", Subject: "Welcome", ThreadID: "m1"}
	require.NoError(t, hub.Publish(context.Background(), domain.NewMessageCreated(msg)))

	t.Run("租户收到新邮件事件", func(t *testing.T) {
		require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := alice.ReadMessage()
		require.NoError(t, err)

		var got struct {
			Type string          `json:"type"`
			Data *domain.Message `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, domain.EventMessageCreated, got.Type)
		assert.Equal(t, "m1", got.Data.ID)
		assert.NotContains(t, string(data), "tenant_id")
	})

	t.Run("其他租户收不到", func(t *testing.T) {
		require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		_, _, err := bob.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("ping 回复 pong", func(t *testing.T) {
		require.NoError(t, alice.WriteJSON(map[string]string{"type": "ping"}))
		require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := alice.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"pong"}`, string(data))
	})
}

func TestHubHandshake(t *testing.T) {
	_, srv := startHub(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &countingRecorder{connected: make(chan struct{}, 1), disconnected: make(chan struct{}, 1)}
	hub := NewHub([]string{"https://app.example"}, rec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	r := gin.New()
	r.GET("/ws", hub.Handler(func(c *gin.Context) (string, bool) { return "T1", true }))
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("拒绝未允许的 Origin", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("断开后注销", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example"}})
		require.NoError(t, err)
		resp.Body.Close()
		<-rec.connected
		assert.Equal(t, 1, hub.ClientCount("T1"))

		conn.Close()
		select {
		case <-rec.disconnected:
		case <-time.After(2 * time.Second):
			t.Fatal("client was not unregistered")
		}
		assert.Equal(t, 0, hub.ClientCount("T1"))
	})
}
