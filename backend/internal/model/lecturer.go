package model

import "github.com/shopspring/decimal"

// Lecturer 讲师表 — 对应 lecturers
// Email 是文档访问的归属判定依据
type Lecturer struct {
	LecturerID  string          `gorm:"type:varchar(36);primaryKey"  json:"lecturer_id"`
	Name        string          `gorm:"type:varchar(100);not null"   json:"name"`
	Surname     string          `gorm:"type:varchar(100);not null"   json:"surname"`
	Email       string          `gorm:"type:varchar(255);not null"   json:"email"`
	PhoneNumber string          `gorm:"type:varchar(30)"             json:"phone_number,omitempty"`
	Department  string          `gorm:"type:varchar(100)"            json:"department,omitempty"`
	HourlyRate  decimal.Decimal `gorm:"type:numeric(12,2);not null"  json:"hourly_rate"`
	BaseModel
}

// TableName 指定表名
func (Lecturer) TableName() string { return "lecturers" }

// FullName 展示名
func (l *Lecturer) FullName() string {
	if l.Surname == "" {
		return l.Name
	}
	return l.Name + " " + l.Surname
}
