package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"ccms/backend/internal/model"
	"ccms/backend/internal/repository"
)

// 审计动作
const (
	ActionClaimSubmitted    = "claim_submitted"
	ActionClaimVerified     = "claim_verified"
	ActionClaimRejected     = "claim_rejected"
	ActionClaimApproved     = "claim_approved"
	ActionClaimSettled      = "claim_settled"
	ActionDocumentsAttached = "documents_attached"
	ActionCommentAdded      = "comment_added"
	ActionDocumentRead      = "document_read"
	ActionAccessDenied      = "access_denied"
	ActionUploadCircuitOpen = "upload_circuit_open"
)

// AuditEntry 一条操作记录
type AuditEntry struct {
	Principal Principal
	Action    string
	ClaimID   string
	Success   bool
	Details   map[string]interface{}
}

// AuditRecorder 审计协作者；Record 不阻塞调用方，也不返回错误
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// ActivityAuditRecorder 异步写入 activity_logs
type ActivityAuditRecorder struct {
	repo    repository.ActivityLogRepository
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewActivityAuditRecorder 创建审计记录器
func NewActivityAuditRecorder(repo repository.ActivityLogRepository, logger *zap.Logger) *ActivityAuditRecorder {
	return &ActivityAuditRecorder{repo: repo, logger: logger, timeout: 5 * time.Second}
}

func (a *ActivityAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	log := &model.ActivityLog{
		ActivityID: uuid.NewString(),
		UserID:     entry.Principal.ID,
		Email:      entry.Principal.Email,
		Role:       entry.Principal.Role,
		Action:     entry.Action,
		Success:    entry.Success,
		CreatedAt:  time.Now(),
	}
	if entry.ClaimID != "" {
		id := entry.ClaimID
		log.ClaimID = &id
	}
	if len(entry.Details) > 0 {
		if raw, err := json.Marshal(entry.Details); err == nil {
			log.Details = datatypes.JSON(raw)
		}
	}

	// 请求结束不应取消审计写入
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		if err := a.repo.Create(writeCtx, log); err != nil {
			a.logger.Error("写入操作日志失败",
				zap.String("action", log.Action),
				zap.String("user_id", log.UserID),
				zap.Error(err),
			)
		}
	}()
}

// Wait 等待在途写入完成，优雅关闭时调用
func (a *ActivityAuditRecorder) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("等待操作日志写入超时")
	}
}
