package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimStatus 报销单状态（封闭集合）
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimVerified ClaimStatus = "verified"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
	ClaimSettled  ClaimStatus = "settled"
)

// AllClaimStatuses 按流程顺序排列
var AllClaimStatuses = []ClaimStatus{ClaimPending, ClaimVerified, ClaimApproved, ClaimRejected, ClaimSettled}

// Valid 判断状态是否属于封闭集合
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimVerified, ClaimApproved, ClaimRejected, ClaimSettled:
		return true
	}
	return false
}

// Terminal 终态不再接受任何迁移（结算幂等除外）
func (s ClaimStatus) Terminal() bool {
	return s == ClaimRejected || s == ClaimSettled
}

// Label 展示用名称
func (s ClaimStatus) Label() string {
	switch s {
	case ClaimPending:
		return "Pending"
	case ClaimVerified:
		return "Verified"
	case ClaimApproved:
		return "Approved"
	case ClaimRejected:
		return "Rejected"
	case ClaimSettled:
		return "Settled"
	}
	return string(s)
}

// Claim 报销单表 — 对应 claims
// 状态字段只能经由生命周期迁移修改
type Claim struct {
	ClaimID        string          `gorm:"type:varchar(36);primaryKey"           json:"claim_id"`
	LecturerID     string          `gorm:"type:varchar(36);not null;index"       json:"lecturer_id"`
	ClaimDate      time.Time       `gorm:"type:date;not null"                    json:"claim_date"`
	SubmissionDate time.Time       `gorm:"not null"                              json:"submission_date"`
	HourlyRate     decimal.Decimal `gorm:"type:numeric(12,2);not null"           json:"hourly_rate"`
	TotalHours     decimal.Decimal `gorm:"type:numeric(8,2);not null"            json:"total_hours"`
	Status         ClaimStatus     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ApprovedDate   *time.Time      `json:"approved_date,omitempty"`
	SettledDate    *time.Time      `json:"settled_date,omitempty"`
	IsSettled      bool            `gorm:"not null;default:false"                json:"is_settled"`
	VersionedModel

	Lecturer  *Lecturer  `gorm:"foreignKey:LecturerID;references:LecturerID" json:"lecturer,omitempty"`
	Documents []Document `gorm:"foreignKey:ClaimID;references:ClaimID"       json:"documents,omitempty"`
	Comments  []Comment  `gorm:"foreignKey:ClaimID;references:ClaimID"       json:"comments,omitempty"`
}

// TableName 指定表名
func (Claim) TableName() string { return "claims" }

// TotalAmount 金额 = 工时 × 时薪，按需计算不落库
func (c *Claim) TotalAmount() decimal.Decimal {
	return c.TotalHours.Mul(c.HourlyRate).Round(2)
}
