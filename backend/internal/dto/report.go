package dto

// ── 报表模块 DTO ──

// ClaimReportQuery 报表筛选条件；日期按 submission_date，格式 "2026-03-01"
type ClaimReportQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=pending verified approved rejected settled"`
	From   string `form:"from"`
	To     string `form:"to"` // 含当天
}
