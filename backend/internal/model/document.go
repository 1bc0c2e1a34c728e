package model

import "time"

// Document 支撑文档表 — 对应 documents
// 只在所属报销单为 pending 时创建，之后不可变
type Document struct {
	DocumentID   string    `gorm:"type:varchar(36);primaryKey"  json:"document_id"`
	ClaimID      string    `gorm:"type:varchar(36);not null;index" json:"claim_id"`
	OriginalName string    `gorm:"type:varchar(255);not null"   json:"original_name"`
	StoragePath  string    `gorm:"type:varchar(500);not null"   json:"-"`
	DocType      string    `gorm:"type:varchar(10);not null"    json:"doc_type"` // pdf | docx | xlsx | doc | xls
	SizeBytes    int64     `gorm:"not null"                     json:"size_bytes"`
	CipherScheme string    `gorm:"type:varchar(30);not null"    json:"-"`
	UploadedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"uploaded_at"`
}

// TableName 指定表名
func (Document) TableName() string { return "documents" }
