package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

// ErrHubBusy 广播队列已满
var ErrHubBusy = errors.New("websocket hub broadcast queue full")

// ConnectionRecorder 记录在线连接数
type ConnectionRecorder interface {
	WebSocketConnected()
	WebSocketDisconnected()
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			// 非浏览器客户端不携带 Origin
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// controlMessage 客户端发来的控制消息
type controlMessage struct {
	Type string `json:"type"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID       string
	TenantID string
	conn     *websocket.Conn
	send     chan []byte
	quit     chan struct{}
	once     sync.Once
	hub      *Hub
}

// stop 通知写协程关闭连接，可重复调用
func (c *Client) stop() {
	c.once.Do(func() { close(c.quit) })
}

// Hub 按租户管理所有WebSocket连接，实现新邮件事件推送
type Hub struct {
	tenants        map[string]map[string]*Client // tenantID -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan domain.MessageEvent
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	recorder       ConnectionRecorder
	done           chan struct{}
}

// NewHub 创建WebSocket Hub，recorder 可为 nil
func NewHub(allowedOrigins []string, recorder ConnectionRecorder, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		tenants:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan domain.MessageEvent, 256),
		log:            logger.OrNop(log),
		allowedOrigins: allowedOrigins,
		recorder:       recorder,
		done:           make(chan struct{}),
	}
}

// Run 启动Hub，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			if h.tenants[client.TenantID] == nil {
				h.tenants[client.TenantID] = make(map[string]*Client)
			}
			h.tenants[client.TenantID][client.ID] = client
			h.mu.Unlock()
			if h.recorder != nil {
				h.recorder.WebSocketConnected()
			}
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("tenant_id", client.TenantID))

		case client := <-h.unregister:
			h.remove(client)

		case ev := <-h.broadcast:
			h.broadcastToTenant(ev)
		}
	}
}

// Publish 将事件投递给该租户的所有在线客户端
func (h *Hub) Publish(ctx context.Context, ev domain.MessageEvent) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrHubBusy
	}
}

// Deliver 供跨实例事件总线回调使用
func (h *Hub) Deliver(ev domain.MessageEvent) {
	if err := h.Publish(context.Background(), ev); err != nil {
		h.log.Warn("dropping realtime event", zap.String("tenant_id", ev.TenantID), zap.Error(err))
	}
}

// ClientCount 返回租户的在线连接数
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.tenants[client.TenantID]
	if !ok {
		return
	}
	if _, ok := clients[client.ID]; !ok {
		return
	}
	delete(clients, client.ID)
	if len(clients) == 0 {
		delete(h.tenants, client.TenantID)
	}
	client.stop()
	if h.recorder != nil {
		h.recorder.WebSocketDisconnected()
	}
	h.log.Debug("client unregistered", zap.String("id", client.ID))
}

// broadcastToTenant 向租户的所有客户端广播
func (h *Hub) broadcastToTenant(ev domain.MessageEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.tenants[ev.TenantID]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.tenants {
		for _, client := range clients {
			client.stop()
			if h.recorder != nil {
				h.recorder.WebSocketDisconnected()
			}
		}
	}
	h.tenants = make(map[string]map[string]*Client)
}

// Handler 处理WebSocket握手。tenantOf 从已认证的请求中取出租户 ID。
func (h *Hub) Handler(tenantOf func(*gin.Context) (string, bool)) gin.HandlerFunc {
	upgrader := upgraderFactory(h.allowedOrigins)

	return func(c *gin.Context) {
		tenantID, ok := tenantOf(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "需要登录认证"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:       uuid.NewString(),
			TenantID: tenantID,
			conn:     conn,
			send:     make(chan []byte, sendBufferSize),
			quit:     make(chan struct{}),
			hub:      h,
		}
		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket closed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		if msg.Type == "ping" {
			select {
			case c.send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
