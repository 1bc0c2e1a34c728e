package model

import (
	"errors"

	"gorm.io/gorm"
)

// AdminKind 管理人员档案的判别字段
type AdminKind string

const (
	AdminCoordinator AdminKind = "coordinator"
	AdminManager     AdminKind = "manager"
)

// CoordinatorDetails 项目协调员专属字段
type CoordinatorDetails struct {
	MajorDegree string `json:"major_degree"`
}

// ManagerDetails 学术经理专属字段
type ManagerDetails struct {
	Faculty string `json:"faculty"`
}

// AdminProfile 管理人员档案 — 对应 admin_profiles
// 由 Kind 决定哪个变体有效；持久化时变体字段平铺到同一行
type AdminProfile struct {
	AdminID     string    `gorm:"type:varchar(36);primaryKey" json:"admin_id"`
	Name        string    `gorm:"type:varchar(100);not null"  json:"name"`
	Surname     string    `gorm:"type:varchar(100);not null"  json:"surname"`
	Email       string    `gorm:"type:varchar(255);not null"  json:"email"`
	PhoneNumber string    `gorm:"type:varchar(30)"            json:"phone_number,omitempty"`
	Kind        AdminKind `gorm:"type:varchar(20);not null"   json:"kind"`

	Coordinator *CoordinatorDetails `gorm:"embedded" json:"coordinator,omitempty"`
	Manager     *ManagerDetails     `gorm:"embedded" json:"manager,omitempty"`
	BaseModel
}

// TableName 指定表名
func (AdminProfile) TableName() string { return "admin_profiles" }

var ErrAdminVariantMismatch = errors.New("管理人员档案的类型与变体字段不一致")

// NewCoordinatorProfile 构造协调员档案
func NewCoordinatorProfile(id, name, surname, email string, d CoordinatorDetails) *AdminProfile {
	return &AdminProfile{AdminID: id, Name: name, Surname: surname, Email: email, Kind: AdminCoordinator, Coordinator: &d}
}

// NewManagerProfile 构造学术经理档案
func NewManagerProfile(id, name, surname, email string, d ManagerDetails) *AdminProfile {
	return &AdminProfile{AdminID: id, Name: name, Surname: surname, Email: email, Kind: AdminManager, Manager: &d}
}

// Validate 判别字段必须与唯一的非空变体对应
func (p *AdminProfile) Validate() error {
	switch p.Kind {
	case AdminCoordinator:
		if p.Coordinator == nil || p.Manager != nil {
			return ErrAdminVariantMismatch
		}
	case AdminManager:
		if p.Manager == nil || p.Coordinator != nil {
			return ErrAdminVariantMismatch
		}
	default:
		return ErrAdminVariantMismatch
	}
	return nil
}

// FullName 展示名
func (p *AdminProfile) FullName() string {
	if p.Surname == "" {
		return p.Name
	}
	return p.Name + " " + p.Surname
}

// AfterFind 平铺列读回时两个变体都会被分配，按判别字段收敛为一个
func (p *AdminProfile) AfterFind(_ *gorm.DB) error {
	switch p.Kind {
	case AdminCoordinator:
		p.Manager = nil
		if p.Coordinator == nil {
			p.Coordinator = &CoordinatorDetails{}
		}
	case AdminManager:
		p.Coordinator = nil
		if p.Manager == nil {
			p.Manager = &ManagerDetails{}
		}
	}
	return nil
}
