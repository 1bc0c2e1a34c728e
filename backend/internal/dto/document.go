package dto

// ── 文档模块 DTO ──

// DocumentResponse 文档元数据响应（不含存储路径）
type DocumentResponse struct {
	ID           string `json:"id"`
	ClaimID      string `json:"claim_id"`
	OriginalName string `json:"original_name"`
	DocType      string `json:"doc_type"`
	SizeBytes    int64  `json:"size_bytes"`
	UploadedAt   string `json:"uploaded_at"`
}

// AttachDocumentsResponse 追加文档结果
type AttachDocumentsResponse struct {
	ClaimID   string             `json:"claim_id"`
	Documents []DocumentResponse `json:"documents"`
}
