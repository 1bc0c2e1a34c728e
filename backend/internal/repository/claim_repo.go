package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ccms/backend/internal/model"
	pkgerrors "ccms/backend/pkg/errors"
)

// ClaimFilter 报表 / 列表查询条件
type ClaimFilter struct {
	Status *model.ClaimStatus
	From   *time.Time // 按 submission_date，闭区间
	To     *time.Time // 开区间
}

// ClaimRepository 报销单数据访问接口
type ClaimRepository interface {
	Create(ctx context.Context, claim *model.Claim) error
	GetByID(ctx context.Context, id string) (*model.Claim, error)
	// GetDetail 预加载讲师、文档与意见
	GetDetail(ctx context.Context, id string) (*model.Claim, error)
	// UpdateStatus 带版本号条件写入状态相关字段，冲突时返回 ErrOptimisticLock
	UpdateStatus(ctx context.Context, claim *model.Claim) error
	// TouchPending 仅当仍为 pending 且版本未变时将版本 +1
	TouchPending(ctx context.Context, claimID string, version int) error
	// SumHoursSubmitted 统计讲师在 [from, to) 内提交的工时合计
	SumHoursSubmitted(ctx context.Context, lecturerID string, from, to time.Time) (decimal.Decimal, error)
	ListByLecturer(ctx context.Context, lecturerID string) ([]model.Claim, error)
	ListByStatus(ctx context.Context, status model.ClaimStatus, offset, limit int) ([]model.Claim, int64, error)
	ListAllByStatus(ctx context.Context, status model.ClaimStatus) ([]model.Claim, error)
	ListForReport(ctx context.Context, filter ClaimFilter) ([]model.Claim, error)
}

type claimRepo struct {
	db *gorm.DB
}

// NewClaimRepo 创建 ClaimRepository 实例
func NewClaimRepo(db *gorm.DB) ClaimRepository {
	return &claimRepo{db: db}
}

func (r *claimRepo) Create(ctx context.Context, claim *model.Claim) error {
	return r.db.WithContext(ctx).Omit("Lecturer", "Documents", "Comments").Create(claim).Error
}

func (r *claimRepo) GetByID(ctx context.Context, id string) (*model.Claim, error) {
	var claim model.Claim
	err := r.db.WithContext(ctx).
		Where("claim_id = ?", id).
		First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepo) GetDetail(ctx context.Context, id string) (*model.Claim, error) {
	var claim model.Claim
	err := r.db.WithContext(ctx).
		Preload("Lecturer").
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("uploaded_at ASC") }).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("claim_id = ?", id).
		First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepo) UpdateStatus(ctx context.Context, claim *model.Claim) error {
	oldVersion := claim.Version
	result := r.db.WithContext(ctx).
		Model(&model.Claim{}).
		Where("claim_id = ? AND version = ?", claim.ClaimID, oldVersion).
		Updates(map[string]interface{}{
			"status":        claim.Status,
			"approved_date": claim.ApprovedDate,
			"settled_date":  claim.SettledDate,
			"is_settled":    claim.IsSettled,
			"version":       oldVersion + 1,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	claim.Version = oldVersion + 1
	return nil
}

func (r *claimRepo) TouchPending(ctx context.Context, claimID string, version int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Claim{}).
		Where("claim_id = ? AND version = ? AND status = ?", claimID, version, model.ClaimPending).
		Updates(map[string]interface{}{
			"version":    version + 1,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *claimRepo) SumHoursSubmitted(ctx context.Context, lecturerID string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.Claim{}).
		Select("COALESCE(SUM(total_hours), 0)").
		Where("lecturer_id = ? AND submission_date >= ? AND submission_date < ?", lecturerID, from, to).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (r *claimRepo) ListByLecturer(ctx context.Context, lecturerID string) ([]model.Claim, error) {
	var claims []model.Claim
	err := r.db.WithContext(ctx).
		Where("lecturer_id = ?", lecturerID).
		Order("submission_date DESC").
		Find(&claims).Error
	return claims, err
}

func (r *claimRepo) ListByStatus(ctx context.Context, status model.ClaimStatus, offset, limit int) ([]model.Claim, int64, error) {
	var (
		claims []model.Claim
		total  int64
	)
	query := r.db.WithContext(ctx).Model(&model.Claim{}).Where("status = ?", status)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.
		Preload("Lecturer").
		Order("submission_date ASC").
		Offset(offset).
		Limit(limit).
		Find(&claims).Error
	return claims, total, err
}

func (r *claimRepo) ListAllByStatus(ctx context.Context, status model.ClaimStatus) ([]model.Claim, error) {
	var claims []model.Claim
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("submission_date ASC").
		Find(&claims).Error
	return claims, err
}

func (r *claimRepo) ListForReport(ctx context.Context, filter ClaimFilter) ([]model.Claim, error) {
	var claims []model.Claim
	query := r.db.WithContext(ctx).Preload("Lecturer")
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.From != nil {
		query = query.Where("submission_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("submission_date < ?", *filter.To)
	}
	err := query.Order("submission_date ASC").Find(&claims).Error
	return claims, err
}
