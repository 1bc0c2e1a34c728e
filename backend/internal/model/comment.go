package model

import "time"

// Comment 审批意见表 — 对应 claim_comments
// 作者信息为写入时快照，只追加不修改
type Comment struct {
	CommentID  string    `gorm:"type:varchar(36);primaryKey"     json:"comment_id"`
	ClaimID    string    `gorm:"type:varchar(36);not null;index" json:"claim_id"`
	Content    string    `gorm:"type:varchar(1000);not null"     json:"content"`
	AuthorName string    `gorm:"type:varchar(100);not null"      json:"author_name"`
	AuthorRole string    `gorm:"type:varchar(50);not null"       json:"author_role"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (Comment) TableName() string { return "claim_comments" }
