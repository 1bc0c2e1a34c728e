package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ccms/backend/internal/service"
	"ccms/backend/pkg/response"
)

// DocumentHandler 文档模块 HTTP 处理器
type DocumentHandler struct {
	documentSvc service.DocumentService
	logger      *zap.Logger
}

// NewDocumentHandler 创建 DocumentHandler
func NewDocumentHandler(documentSvc service.DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{documentSvc: documentSvc, logger: logger}
}

// DownloadDocument 以附件形式下载解密后的文档
// GET /api/v1/documents/:id/download
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	h.serve(c, "attachment")
}

// ViewDocument 浏览器内联预览
// GET /api/v1/documents/:id/view
func (h *DocumentHandler) ViewDocument(c *gin.Context) {
	h.serve(c, "inline")
}

func (h *DocumentHandler) serve(c *gin.Context, disposition string) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	doc, err := h.documentSvc.Open(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.handleDocumentError(c, err)
		return
	}

	c.Header("Content-Disposition", disposition+"; filename*=UTF-8''"+url.PathEscape(doc.FileName))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

// handleDocumentError 统一处理文档模块业务错误
func (h *DocumentHandler) handleDocumentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, 14003, "无权访问该文档")
	case errors.Is(err, service.ErrDocumentNotFound):
		response.NotFound(c, 14004, "文档不存在")
	case errors.Is(err, service.ErrDocumentMissing):
		response.NotFound(c, 14005, "文档文件已丢失，请联系管理员")
	default:
		_ = c.Error(err)
		h.logger.Error("读取文档失败", zap.String("document_id", c.Param("id")), zap.Error(err))
		response.InternalError(c)
	}
}
