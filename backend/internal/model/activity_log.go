package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog 操作日志表 — 对应 activity_logs
type ActivityLog struct {
	ActivityID string         `gorm:"type:varchar(36);primaryKey" json:"activity_id"`
	UserID     string         `gorm:"type:varchar(64)"            json:"user_id"`
	Email      string         `gorm:"type:varchar(255)"           json:"email"`
	Role       string         `gorm:"type:varchar(20)"            json:"role"`
	Action     string         `gorm:"type:varchar(50);not null"   json:"action"`
	ClaimID    *string        `gorm:"type:varchar(36)"            json:"claim_id,omitempty"`
	Success    bool           `gorm:"not null;default:true"       json:"success"`
	Details    datatypes.JSON `gorm:"type:jsonb"                  json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (ActivityLog) TableName() string { return "activity_logs" }
