package notification

import (
	"net/http"
	"sync"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// feedClient 单个订阅连接
type feedClient struct {
	userID string
	admin  bool
	conn   *websocket.Conn
	send   chan *types.AuditEvent
}

// AuditFeedHub 审计事件实时推送
//
// 实现 audit.EventSink。普通用户只收到自己的事件，
// 管理员收到全部。慢客户端缓冲满时丢弃当条事件，连接保留。
type AuditFeedHub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// NewAuditFeedHub 创建推送中心
func NewAuditFeedHub() *AuditFeedHub {
	return &AuditFeedHub{clients: make(map[*feedClient]struct{})}
}

// Publish 广播一条已脱敏的审计事件
func (h *AuditFeedHub) Publish(event *types.AuditEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.admin && client.userID != event.UserID {
			continue
		}
		select {
		case client.send <- event:
		default:
			// 缓冲满说明客户端跟不上，放弃本条
		}
	}
}

// ClientCount 当前在线订阅数
func (h *AuditFeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS 处理 WebSocket 订阅请求
func (h *AuditFeedHub) HandleWS(c *gin.Context, userID string, admin bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	client := &feedClient{
		userID: userID,
		admin:  admin,
		conn:   conn,
		send:   make(chan *types.AuditEvent, sendBufferSize),
	}
	h.register(client)

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *AuditFeedHub) register(client *feedClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *AuditFeedHub) unregister(client *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// readLoop 只消费控制帧，收到错误即断开
func (h *AuditFeedHub) readLoop(client *feedClient) {
	defer func() {
		h.unregister(client)
		_ = client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *AuditFeedHub) writeLoop(client *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case event, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
