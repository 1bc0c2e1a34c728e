package repository

import (
	"context"

	"gorm.io/gorm"

	"ccms/backend/internal/model"
)

// ActivityLogRepository 操作日志访问接口
type ActivityLogRepository interface {
	Create(ctx context.Context, log *model.ActivityLog) error
	ListByClaim(ctx context.Context, claimID string, offset, limit int) ([]model.ActivityLog, int64, error)
}

type activityLogRepo struct {
	db *gorm.DB
}

// NewActivityLogRepo 创建 ActivityLogRepository 实例
func NewActivityLogRepo(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepo{db: db}
}

func (r *activityLogRepo) Create(ctx context.Context, log *model.ActivityLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *activityLogRepo) ListByClaim(ctx context.Context, claimID string, offset, limit int) ([]model.ActivityLog, int64, error) {
	var (
		logs  []model.ActivityLog
		total int64
	)
	query := r.db.WithContext(ctx).Model(&model.ActivityLog{}).Where("claim_id = ?", claimID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error
	return logs, total, err
}
