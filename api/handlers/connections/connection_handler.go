package connections

import (
	"errors"
	"net/http"

	response "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/common"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/connection"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/middleware"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/gin-gonic/gin"
)

// ConnectionHandler 连接管理处理器
type ConnectionHandler struct {
	service     *connection.Service
	manager     *gateway.Manager
	workerQueue *worker.Client
}

// NewConnectionHandler 创建连接处理器。workerQueue 可为 nil，此时测试同步执行。
func NewConnectionHandler(service *connection.Service, manager *gateway.Manager, workerQueue *worker.Client) *ConnectionHandler {
	return &ConnectionHandler{
		service:     service,
		manager:     manager,
		workerQueue: workerQueue,
	}
}

// Create 创建连接
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req connection.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userID := middleware.CurrentUserID(c)
	conn, err := h.service.Create(c.Request.Context(), userID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "创建失败: " + err.Error()})
		return
	}
	h.manager.Invalidate(userID)
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: conn})
}

// List 列出当前用户的连接
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.service.List(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: conns})
}

// Get 查询单个连接
func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, err := h.service.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: conn})
}

// Update 更新连接
func (h *ConnectionHandler) Update(c *gin.Context) {
	var req connection.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userID := middleware.CurrentUserID(c)
	conn, err := h.service.Update(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.manager.Invalidate(userID)
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: conn})
}

// Delete 删除连接
func (h *ConnectionHandler) Delete(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if err := h.service.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.manager.Invalidate(userID)
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "连接已删除"})
}

// Test 触发连通性测试
func (h *ConnectionHandler) Test(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	connectionID := c.Param("id")

	if _, err := h.service.Get(c.Request.Context(), userID, connectionID); err != nil {
		h.writeServiceError(c, err)
		return
	}

	if h.workerQueue != nil {
		taskID, err := h.workerQueue.EnqueueConnectionTest(&tasks.TestConnectionPayload{
			ConnectionID: connectionID,
			OwnerID:      userID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "投递测试任务失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, response.APIResponse{Success: true, Data: gin.H{"task_id": taskID}})
		return
	}

	testErr := h.manager.TestConnection(c.Request.Context(), userID, connectionID)
	_ = h.service.MarkTested(c.Request.Context(), connectionID, testErr == nil)
	if testErr != nil {
		c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{"ok": false, "error": testErr.Error()}})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{"ok": true}})
}

func (h *ConnectionHandler) writeServiceError(c *gin.Context, err error) {
	if errors.Is(err, connection.ErrConnectionNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
}
