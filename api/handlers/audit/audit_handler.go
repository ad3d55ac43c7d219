package audit

import (
	"net/http"
	"time"

	response "github.com/JOSSEP-ENG/ai-agent-logging/api/handlers/common"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/middleware"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/worker/tasks"
	"github.com/gin-gonic/gin"
)

// AuditHandler 审计日志处理器
type AuditHandler struct {
	recorder    *audit.Recorder
	workerQueue *worker.Client
	exportDir   string
}

// NewAuditHandler 创建审计日志处理器。workerQueue 可为 nil，此时导出接口返回 503。
func NewAuditHandler(recorder *audit.Recorder, workerQueue *worker.Client, exportDir string) *AuditHandler {
	if exportDir == "" {
		exportDir = "exports"
	}
	return &AuditHandler{
		recorder:    recorder,
		workerQueue: workerQueue,
		exportDir:   exportDir,
	}
}

// isAdmin 判断当前用户是否为管理员
func isAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextKeyRole) == "admin"
}

// QueryLogs 查询审计日志
//
// 非管理员只能查看自己的记录。
func (h *AuditHandler) QueryLogs(c *gin.Context) {
	var filter audit.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if !isAdmin(c) {
		filter.UserID = middleware.CurrentUserID(c)
	}

	logs, total, err := h.recorder.Query(c.Request.Context(), &filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{
		Success: true,
		Data: response.ListResponse{
			Items:      logs,
			Pagination: response.NewPaginationMeta(filter.Page, filter.GetPageSize(), total),
		},
	})
}

// GetLog 查询单条审计日志
func (h *AuditHandler) GetLog(c *gin.Context) {
	entry, err := h.recorder.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: "审计日志不存在"})
		return
	}
	if !isAdmin(c) && entry.UserID != middleware.CurrentUserID(c) {
		c.JSON(http.StatusForbidden, response.ErrorResponse{Success: false, Message: "无权查看该记录"})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: entry})
}

// GetStats 审计统计
func (h *AuditHandler) GetStats(c *gin.Context) {
	var filter audit.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	if !isAdmin(c) {
		filter.UserID = middleware.CurrentUserID(c)
	}

	stats, err := h.recorder.GetStats(c.Request.Context(), &filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "统计失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: stats})
}

// ExportRequest 导出请求体
type ExportRequest struct {
	ToolName  string `json:"tool_name"`
	Status    string `json:"status"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Format    string `json:"format" binding:"required,oneof=csv json"`
}

// Export 投递后台导出任务
func (h *AuditHandler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	if h.workerQueue == nil {
		c.JSON(http.StatusServiceUnavailable, response.ErrorResponse{Success: false, Message: "后台任务队列未启用"})
		return
	}

	userID := middleware.CurrentUserID(c)
	payload := &tasks.ExportAuditLogsPayload{
		ToolName:  req.ToolName,
		Status:    req.Status,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Format:    req.Format,
		OutputPath: h.exportDir + "/audit_" + userID + "_" +
			time.Now().UTC().Format("20060102T150405") + "." + req.Format,
	}
	if !isAdmin(c) {
		payload.UserID = userID
	}

	taskID, err := h.workerQueue.EnqueueExport(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "投递导出任务失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{
		Success: true,
		Data: gin.H{
			"task_id":     taskID,
			"output_path": payload.OutputPath,
		},
	})
}
