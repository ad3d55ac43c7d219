package gateway

import (
	"net/http"

	response "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/common"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/middleware"
	"github.com/gin-gonic/gin"
)

// GatewayHandler 网关调用处理器
type GatewayHandler struct {
	manager *gateway.Manager
}

// NewGatewayHandler 创建网关处理器
func NewGatewayHandler(manager *gateway.Manager) *GatewayHandler {
	return &GatewayHandler{manager: manager}
}

// CallToolRequest 工具调用请求体
type CallToolRequest struct {
	ToolName  string         `json:"tool_name" binding:"required"`
	Params    map[string]any `json:"params"`
	SessionID string         `json:"session_id"`
	UserQuery string         `json:"user_query"`
}

// CallTool 执行一次受审计的工具调用
func (h *GatewayHandler) CallTool(c *gin.Context) {
	var req CallToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userID := middleware.CurrentUserID(c)
	dispatcher, err := h.manager.DispatcherFor(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "网关初始化失败: " + err.Error()})
		return
	}

	result := dispatcher.Dispatch(c.Request.Context(), &gateway.ToolCallRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		UserQuery: req.UserQuery,
		ToolName:  req.ToolName,
		Params:    req.Params,
	})
	// 外层 success 与工具调用结果保持一致，拒绝和失败不得伪装成成功
	c.JSON(http.StatusOK, response.APIResponse{Success: result.Success, Data: result})
}

// ListTools 列出当前用户可用的全部工具
func (h *GatewayHandler) ListTools(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	dispatcher, err := h.manager.DispatcherFor(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "网关初始化失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: dispatcher.ListTools()})
}
