package permissions

import (
	"errors"
	"net/http"

	response "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/common"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/permission"
	"github.com/gin-gonic/gin"
)

// PermissionHandler 工具权限处理器，全部接口仅管理员可用
type PermissionHandler struct {
	service *permission.Service
}

// NewPermissionHandler 创建权限处理器
func NewPermissionHandler(service *permission.Service) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// Grant 创建或覆盖一条权限
func (h *PermissionHandler) Grant(c *gin.Context) {
	var req permission.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	perm, err := h.service.Grant(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "授权失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: perm})
}

// BulkGrantRequest 批量授权请求体
type BulkGrantRequest struct {
	Items []*permission.GrantRequest `json:"items" binding:"required,min=1,dive"`
}

// BulkGrant 批量授权
func (h *PermissionHandler) BulkGrant(c *gin.Context) {
	var req BulkGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	perms, err := h.service.BulkGrant(c.Request.Context(), req.Items)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "批量授权失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: perms})
}

// List 查询用户权限列表
func (h *PermissionHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "缺少 user_id 参数"})
		return
	}

	perms, err := h.service.ListByUser(c.Request.Context(), userID, c.Query("connection_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: perms})
}

// Revoke 撤销一条权限
func (h *PermissionHandler) Revoke(c *gin.Context) {
	err := h.service.Revoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, permission.ErrPermissionNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "撤销失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "权限已撤销"})
}
