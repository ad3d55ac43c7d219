package notification

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialFeed(t *testing.T, hub *AuditFeedHub, userID string, admin bool) *websocket.Conn {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		hub.HandleWS(c, userID, admin)
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *AuditFeedHub, want int) {
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("等待订阅注册超时，当前 %d 期望 %d", hub.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *types.AuditEvent {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event types.AuditEvent
	require.NoError(t, conn.ReadJSON(&event))
	return &event
}

func TestAuditFeedHub_Publish(t *testing.T) {
	t.Run("用户只收到自己的事件", func(t *testing.T) {
		hub := NewAuditFeedHub()
		conn := dialFeed(t, hub, "alice", false)
		waitForClients(t, hub, 1)

		hub.Publish(&types.AuditEvent{UserID: "bob", ToolName: "mysql.query"})
		hub.Publish(&types.AuditEvent{UserID: "alice", ToolName: "http.get"})

		event := readEvent(t, conn)
		assert.Equal(t, "alice", event.UserID)
		assert.Equal(t, "http.get", event.ToolName)
	})

	t.Run("管理员收到全部事件", func(t *testing.T) {
		hub := NewAuditFeedHub()
		conn := dialFeed(t, hub, "admin", true)
		waitForClients(t, hub, 1)

		hub.Publish(&types.AuditEvent{UserID: "bob", ToolName: "mysql.query"})

		event := readEvent(t, conn)
		assert.Equal(t, "bob", event.UserID)
	})

	t.Run("断开后自动注销", func(t *testing.T) {
		hub := NewAuditFeedHub()
		conn := dialFeed(t, hub, "alice", false)
		waitForClients(t, hub, 1)

		conn.Close()
		deadline := time.Now().Add(2 * time.Second)
		for hub.ClientCount() != 0 {
			if time.Now().After(deadline) {
				t.Fatal("等待注销超时")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("慢客户端缓冲满丢弃事件但保留连接", func(t *testing.T) {
		hub := NewAuditFeedHub()
		client := &feedClient{userID: "alice", send: make(chan *types.AuditEvent, 2)}
		hub.register(client)

		for i := 0; i < 5; i++ {
			hub.Publish(&types.AuditEvent{UserID: "alice", ToolName: "mysql.query"})
		}
		assert.Equal(t, 1, hub.ClientCount())
		assert.Len(t, client.send, 2)
	})

	t.Run("无订阅时发布不阻塞", func(t *testing.T) {
		hub := NewAuditFeedHub()
		done := make(chan struct{})
		go func() {
			hub.Publish(&types.AuditEvent{UserID: "alice"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Publish 被阻塞")
		}
	})
}

func TestUpgraderRejectsPlainGET(t *testing.T) {
	hub := NewAuditFeedHub()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) { hub.HandleWS(c, "alice", false) })

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
