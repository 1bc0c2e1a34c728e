package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"ccms/backend/internal/dto"
	"ccms/backend/internal/service"
	"ccms/backend/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportHandler 报表模块 HTTP 处理器
type ReportHandler struct {
	reportSvc service.ReportService
}

// NewReportHandler 创建 ReportHandler
func NewReportHandler(reportSvc service.ReportService) *ReportHandler {
	return &ReportHandler{reportSvc: reportSvc}
}

// ExportClaims 导出报销单报表
// GET /api/v1/reports/claims?status=approved&from=2026-03-01&to=2026-03-31
func (h *ReportHandler) ExportClaims(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var q dto.ClaimReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "status 参数无效")
		return
	}

	buf, filename, err := h.reportSvc.ExportClaims(c.Request.Context(), p, &q)
	if err != nil {
		h.handleReportError(c, err)
		return
	}

	// 设置下载响应头
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *ReportHandler) handleReportError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(c, 15001, verr.Reasons)
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, 15003, "无权导出报表")
	case errors.Is(err, service.ErrReportNoClaims):
		response.NotFound(c, 15004, "筛选条件下没有报销单")
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
