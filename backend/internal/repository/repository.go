package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	Claim        ClaimRepository
	Document     DocumentRepository
	Comment      CommentRepository
	Lecturer     LecturerRepository
	AdminProfile AdminProfileRepository
	Activity     ActivityLogRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:           db,
		Claim:        NewClaimRepo(db),
		Document:     NewDocumentRepo(db),
		Comment:      NewCommentRepo(db),
		Lecturer:     NewLecturerRepo(db),
		AdminProfile: NewAdminProfileRepo(db),
		Activity:     NewActivityLogRepo(db),
	}
}

// BeginTx 开启事务
// 未绑定数据库时（单元测试注入 mock）返回 nil, nil，调用方需判空
func (r *Repository) BeginTx(ctx context.Context) (*gorm.DB, error) {
	if r.db == nil {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

// WithTx 返回绑定到事务连接的 Repository；tx 为 nil 时返回自身
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}
