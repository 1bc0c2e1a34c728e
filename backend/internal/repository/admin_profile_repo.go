package repository

import (
	"context"

	"gorm.io/gorm"

	"ccms/backend/internal/model"
)

// AdminProfileRepository 管理人员档案访问接口
type AdminProfileRepository interface {
	Create(ctx context.Context, profile *model.AdminProfile) error
	GetByEmail(ctx context.Context, email string) (*model.AdminProfile, error)
}

type adminProfileRepo struct {
	db *gorm.DB
}

// NewAdminProfileRepo 创建 AdminProfileRepository 实例
func NewAdminProfileRepo(db *gorm.DB) AdminProfileRepository {
	return &adminProfileRepo{db: db}
}

func (r *adminProfileRepo) Create(ctx context.Context, profile *model.AdminProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *adminProfileRepo) GetByEmail(ctx context.Context, email string) (*model.AdminProfile, error) {
	var profile model.AdminProfile
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = LOWER(?)", email).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
