package service

import (
	"go.uber.org/zap"

	"ccms/backend/config"
	"ccms/backend/internal/repository"
)

// Deps 由 main 组装后注入的基础设施
type Deps struct {
	Vault *DocumentVault
	Guard *UploadGuard
	Audit AuditRecorder
}

// Service 所有 Service 的聚合入口
type Service struct {
	Claim    ClaimService
	Document DocumentService
	Report   ReportService
	Access   *AccessControlGate
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	deps Deps,
	logger *zap.Logger,
) *Service {
	gate := NewAccessControlGate(repo, deps.Audit, logger)
	return &Service{
		Claim:    NewClaimService(&cfg.Claim, repo, deps.Vault, deps.Guard, gate, deps.Audit, logger),
		Document: NewDocumentService(repo, gate, deps.Vault, deps.Audit, logger),
		Report:   NewReportService(repo, logger),
		Access:   gate,
	}
}
