package types

// PaginationRequest 分页请求
type PaginationRequest struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// GetOffset 计算数据库查询的偏移量
func (p PaginationRequest) GetOffset() int {
	page := p.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * p.GetPageSize()
}

// GetPageSize 获取每页数量，提供默认值并限制上限
func (p PaginationRequest) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// PaginationResponse 分页响应
type PaginationResponse struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginationResponse 根据总数构造分页响应
func NewPaginationResponse(req PaginationRequest, total int64) *PaginationResponse {
	pageSize := req.GetPageSize()
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	return &PaginationResponse{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
