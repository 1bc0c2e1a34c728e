package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ccms/backend/internal/model"
	"ccms/backend/internal/repository"
)

// ErrForbidden 无权访问该报销单
var ErrForbidden = errors.New("无权访问该报销单")

// AccessControlGate 报销单及其文档的读取授权
// 每次请求实时判定，不缓存
type AccessControlGate struct {
	repo   *repository.Repository
	audit  AuditRecorder
	logger *zap.Logger
}

// NewAccessControlGate 创建授权门
func NewAccessControlGate(repo *repository.Repository, audit AuditRecorder, logger *zap.Logger) *AccessControlGate {
	return &AccessControlGate{repo: repo, audit: audit, logger: logger}
}

// Check 管理角色或报销单所属讲师放行；报销单不存在返回 ErrClaimNotFound
func (g *AccessControlGate) Check(ctx context.Context, claimID string, p Principal) error {
	claim, err := g.repo.Claim.GetByID(ctx, claimID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrClaimNotFound
		}
		g.logger.Error("查询报销单失败", zap.String("claim_id", claimID), zap.Error(err))
		return err
	}
	return g.CheckClaim(ctx, claim, p)
}

// CheckClaim 对已加载的报销单判定
func (g *AccessControlGate) CheckClaim(ctx context.Context, claim *model.Claim, p Principal) error {
	if p.IsAdmin() {
		return nil
	}

	owns, err := g.owns(ctx, claim, p)
	if err != nil {
		return err
	}
	if owns {
		return nil
	}

	g.logger.Warn("拒绝访问报销单",
		zap.String("claim_id", claim.ClaimID),
		zap.String("user_id", p.ID),
		zap.String("email", p.Email),
		zap.String("role", p.Role),
	)
	g.audit.Record(ctx, AuditEntry{
		Principal: p,
		Action:    ActionAccessDenied,
		ClaimID:   claim.ClaimID,
		Success:   false,
	})
	return ErrForbidden
}

// owns 调用方邮箱与报销单讲师邮箱一致（不区分大小写）
func (g *AccessControlGate) owns(ctx context.Context, claim *model.Claim, p Principal) (bool, error) {
	if p.Email == "" {
		return false, nil
	}
	lecturer := claim.Lecturer
	if lecturer == nil {
		l, err := g.repo.Lecturer.GetByID(ctx, claim.LecturerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			g.logger.Error("查询讲师失败", zap.String("lecturer_id", claim.LecturerID), zap.Error(err))
			return false, err
		}
		lecturer = l
	}
	return strings.EqualFold(strings.TrimSpace(lecturer.Email), strings.TrimSpace(p.Email)), nil
}
