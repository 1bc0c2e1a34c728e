package dto

// ── 报销单模块 DTO ──

// SubmitClaimRequest 提交报销单（multipart 表单字段，文件走 documents[]）
type SubmitClaimRequest struct {
	HourlyRate string `form:"hourly_rate" json:"hourly_rate"`                    // 为空时取讲师基准时薪
	TotalHours string `form:"total_hours" json:"total_hours" binding:"required"` // 十进制字符串 "7.5"
	ClaimDate  string `form:"claim_date"  json:"claim_date"  binding:"required"` // "2026-03-14"
}

// TransitionRequest 审批动作附带的意见
type TransitionRequest struct {
	Comment string `json:"comment" binding:"max=4000"`
}

// AddCommentRequest 追加意见
type AddCommentRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

// ListClaimsQuery 按状态分页查询
type ListClaimsQuery struct {
	Status   string `form:"status"    binding:"required,oneof=pending verified approved rejected settled"`
	Page     int    `form:"page"      binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ClaimResponse 报销单信息响应
type ClaimResponse struct {
	ID             string             `json:"id"`
	LecturerID     string             `json:"lecturer_id"`
	LecturerName   string             `json:"lecturer_name,omitempty"`
	LecturerEmail  string             `json:"lecturer_email,omitempty"`
	ClaimDate      string             `json:"claim_date"`
	SubmissionDate string             `json:"submission_date"`
	HourlyRate     string             `json:"hourly_rate"`
	TotalHours     string             `json:"total_hours"`
	TotalAmount    string             `json:"total_amount"`
	Status         string             `json:"status"`
	StatusLabel    string             `json:"status_label"`
	ApprovedDate   *string            `json:"approved_date,omitempty"`
	SettledDate    *string            `json:"settled_date,omitempty"`
	IsSettled      bool               `json:"is_settled"`
	Version        int                `json:"version"`
	Documents      []DocumentResponse `json:"documents,omitempty"`
	Comments       []CommentResponse  `json:"comments,omitempty"`
}

// CommentResponse 意见响应
type CommentResponse struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"author_name"`
	AuthorRole string `json:"author_role"`
	CreatedAt  string `json:"created_at"`
}

// VerifyResponse 单条核验结果
type VerifyResponse struct {
	Claim    ClaimResponse `json:"claim"`
	Accepted bool          `json:"accepted"`
	Rule     string        `json:"rule,omitempty"`
	Reason   string        `json:"reason"`
}

// VerifyBatchResponse 批量核验汇总
type VerifyBatchResponse struct {
	Verified int      `json:"verified"`
	Rejected int      `json:"rejected"`
	Failed   int      `json:"failed"`
	Trace    []string `json:"trace"`
}
