package chat

import (
	"net/http"

	response "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/common"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/agent"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/middleware"
	"github.com/gin-gonic/gin"
)

// ChatHandler 代理对话处理器
type ChatHandler struct {
	agent   *agent.Agent
	manager *gateway.Manager
}

// NewChatHandler 创建对话处理器
func NewChatHandler(agentSvc *agent.Agent, manager *gateway.Manager) *ChatHandler {
	return &ChatHandler{agent: agentSvc, manager: manager}
}

// ChatRequest 对话请求体
type ChatRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
}

// Chat 执行一次代理对话，模型发起的工具调用全部经网关审计
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	if h.agent == nil {
		c.JSON(http.StatusServiceUnavailable, response.ErrorResponse{Success: false, Message: "模型服务未配置"})
		return
	}

	userID := middleware.CurrentUserID(c)
	dispatcher, err := h.manager.DispatcherFor(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "网关初始化失败: " + err.Error()})
		return
	}

	result, err := h.agent.Chat(c.Request.Context(), dispatcher, &agent.ChatRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		Query:     req.Query,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "对话失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}
