package handler

import (
	"go.uber.org/zap"

	"ccms/backend/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Claim    *ClaimHandler
	Document *DocumentHandler
	Report   *ReportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Claim:    NewClaimHandler(svc.Claim, logger),
		Document: NewDocumentHandler(svc.Document, logger),
		Report:   NewReportHandler(svc.Report),
	}
}
