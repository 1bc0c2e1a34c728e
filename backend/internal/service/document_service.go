package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ccms/backend/internal/repository"
	"ccms/backend/pkg/telemetry"
)

// ── 文档模块业务错误 ──

var ErrDocumentNotFound = errors.New("文档不存在")

// DocumentPayload 解密后的文档内容
type DocumentPayload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// DocumentService 文档读取业务接口
//
// 每次读取都先经过访问控制，再由 Vault 解密；不做任何缓存
type DocumentService interface {
	Open(ctx context.Context, p Principal, documentID string) (*DocumentPayload, error)
}

type documentService struct {
	repo   *repository.Repository
	gate   *AccessControlGate
	vault  *DocumentVault
	audit  AuditRecorder
	logger *zap.Logger
}

// NewDocumentService 创建 DocumentService 实例
func NewDocumentService(
	repo *repository.Repository,
	gate *AccessControlGate,
	vault *DocumentVault,
	audit AuditRecorder,
	logger *zap.Logger,
) DocumentService {
	return &documentService{repo: repo, gate: gate, vault: vault, audit: audit, logger: logger}
}

func (s *documentService) Open(ctx context.Context, p Principal, documentID string) (*DocumentPayload, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "document.Open")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	doc, err := s.repo.Document.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		s.logger.Error("查询文档失败", zap.String("document_id", documentID), zap.Error(err))
		return nil, err
	}

	if err := s.gate.Check(ctx, doc.ClaimID, p); err != nil {
		if errors.Is(err, ErrClaimNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	data, contentType, err := s.vault.Open(ctx, doc)
	if err != nil {
		if !errors.Is(err, ErrDocumentMissing) {
			s.logger.Error("读取文档失败",
				zap.String("document_id", documentID),
				zap.String("claim_id", doc.ClaimID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		Principal: p,
		Action:    ActionDocumentRead,
		ClaimID:   doc.ClaimID,
		Success:   true,
		Details:   map[string]interface{}{"document_id": documentID},
	})

	return &DocumentPayload{
		FileName:    doc.OriginalName,
		ContentType: contentType,
		Data:        data,
	}, nil
}
