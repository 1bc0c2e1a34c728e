package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ccms/backend/internal/api/middleware"
	"ccms/backend/internal/dto"
	"ccms/backend/internal/model"
	"ccms/backend/internal/service"
	"ccms/backend/pkg/response"
)

// documentsFields multipart 中附件字段名，兼容不带 [] 的客户端
var documentsFields = []string{"documents[]", "documents"}

// ClaimHandler 报销单模块 HTTP 处理器
type ClaimHandler struct {
	claimSvc service.ClaimService
	logger   *zap.Logger
}

// NewClaimHandler 创建 ClaimHandler
func NewClaimHandler(claimSvc service.ClaimService, logger *zap.Logger) *ClaimHandler {
	return &ClaimHandler{claimSvc: claimSvc, logger: logger}
}

// SubmitClaim 讲师提交报销单（multipart，附件可选）
// POST /api/v1/claims
func (h *ClaimHandler) SubmitClaim(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var req dto.SubmitClaimRequest
	if err := c.ShouldBind(&req); err != nil {
		h.handleBindError(c, err)
		return
	}

	uploads, closeAll, err := openUploads(c, false)
	if err != nil {
		h.handleBindError(c, err)
		return
	}
	defer closeAll()

	claim, err := h.claimSvc.Submit(c.Request.Context(), p, &req, uploads)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.Created(c, claim)
}

// AttachDocuments 向待审核报销单追加附件
// POST /api/v1/claims/:id/documents
func (h *ClaimHandler) AttachDocuments(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	uploads, closeAll, err := openUploads(c, true)
	if err != nil {
		h.handleBindError(c, err)
		return
	}
	defer closeAll()

	result, err := h.claimSvc.AttachDocuments(c.Request.Context(), p, c.Param("id"), uploads)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.Created(c, result)
}

// ListMyClaims 当前讲师的全部报销单
// GET /api/v1/claims/mine
func (h *ClaimHandler) ListMyClaims(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	claims, err := h.claimSvc.ListMine(c.Request.Context(), p)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.OK(c, gin.H{"list": claims})
}

// ListClaims 按状态分页查询（管理角色）
// GET /api/v1/claims?status=pending&page=1&page_size=20
func (h *ClaimHandler) ListClaims(c *gin.Context) {
	var q dto.ListClaimsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 13002, "status 参数无效")
		return
	}

	claims, total, err := h.claimSvc.ListByStatus(c.Request.Context(), model.ClaimStatus(q.Status), q.Page, q.PageSize)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	response.OKPage(c, claims, total, page, pageSize)
}

// GetClaim 报销单详情，含文档与意见
// GET /api/v1/claims/:id
func (h *ClaimHandler) GetClaim(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	claim, err := h.claimSvc.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.OK(c, claim)
}

// AddComment 追加意见
// POST /api/v1/claims/:id/comments
func (h *ClaimHandler) AddComment(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var req dto.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "意见内容不能为空")
		return
	}

	comment, err := h.claimSvc.AddComment(c.Request.Context(), p, c.Param("id"), req.Content)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.Created(c, comment)
}

// ── 审批动作 ──

// VerifyClaim 项目协调员运行自动核验
// POST /api/v1/claims/:id/verify
func (h *ClaimHandler) VerifyClaim(c *gin.Context) {
	p, req, ok := h.bindTransition(c)
	if !ok {
		return
	}

	result, err := h.claimSvc.Verify(c.Request.Context(), p, c.Param("id"), req.Comment)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.OK(c, result)
}

// VerifyAllPending 批量核验全部待审核报销单
// POST /api/v1/claims/verify-all
func (h *ClaimHandler) VerifyAllPending(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	result, err := h.claimSvc.VerifyAllPending(c.Request.Context(), p)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.OK(c, result)
}

// CoordinatorReject 项目协调员驳回
// POST /api/v1/claims/:id/coordinator-reject
func (h *ClaimHandler) CoordinatorReject(c *gin.Context) {
	h.transition(c, h.claimSvc.CoordinatorReject)
}

// ApproveClaim 学术经理批准
// POST /api/v1/claims/:id/approve
func (h *ClaimHandler) ApproveClaim(c *gin.Context) {
	h.transition(c, h.claimSvc.Approve)
}

// ManagerReject 学术经理驳回，必须附原因
// POST /api/v1/claims/:id/manager-reject
func (h *ClaimHandler) ManagerReject(c *gin.Context) {
	h.transition(c, h.claimSvc.ManagerReject)
}

// SettleClaim HR 结算
// POST /api/v1/claims/:id/settle
func (h *ClaimHandler) SettleClaim(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	claim, err := h.claimSvc.Settle(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.OK(c, claim)
}

type transitionFunc func(ctx context.Context, p service.Principal, claimID, comment string) (*dto.ClaimResponse, error)

func (h *ClaimHandler) transition(c *gin.Context, fn transitionFunc) {
	p, req, ok := h.bindTransition(c)
	if !ok {
		return
	}

	claim, err := fn(c.Request.Context(), p, c.Param("id"), req.Comment)
	if err != nil {
		h.handleClaimError(c, err)
		return
	}

	response.OK(c, claim)
}

// bindTransition 意见可选，空请求体视为无意见
func (h *ClaimHandler) bindTransition(c *gin.Context) (service.Principal, dto.TransitionRequest, bool) {
	var req dto.TransitionRequest
	p, ok := MustGetPrincipal(c)
	if !ok {
		return p, req, false
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, 10001, "参数校验失败")
			return p, req, false
		}
	}
	return p, req, true
}

// ── 辅助函数 ──

// openUploads 打开 multipart 中的全部附件；返回的 closeAll 必须在请求结束前调用
func openUploads(c *gin.Context, required bool) ([]service.Upload, func(), error) {
	noop := func() {}

	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) && !required {
			return nil, noop, nil
		}
		return nil, noop, err
	}

	var headers []*multipart.FileHeader
	for _, field := range documentsFields {
		headers = append(headers, form.File[field]...)
	}
	if required && len(headers) == 0 {
		return nil, noop, errNoDocuments
	}

	uploads := make([]service.Upload, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, noop, err
		}
		opened = append(opened, f)
		uploads = append(uploads, service.Upload{Filename: fh.Filename, Size: fh.Size, Content: f})
	}
	return uploads, closeAll, nil
}

var errNoDocuments = errors.New("请至少上传一个文档")

func (h *ClaimHandler) handleBindError(c *gin.Context, err error) {
	switch {
	case middleware.IsBodyTooLarge(err):
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
	case errors.Is(err, errNoDocuments):
		response.ValidationFailed(c, 13001, []string{errNoDocuments.Error()})
	default:
		response.BadRequest(c, 10001, "参数校验失败")
	}
}

// handleClaimError 统一处理报销单模块业务错误
func (h *ClaimHandler) handleClaimError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(c, 13001, verr.Reasons)
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, 13003, "无权访问该报销单")
	case errors.Is(err, service.ErrClaimNotFound):
		response.NotFound(c, 13004, "报销单不存在")
	case errors.Is(err, service.ErrLecturerNotFound):
		response.NotFound(c, 13005, "当前账号未关联讲师档案")
	case errors.Is(err, service.ErrInvalidTransition):
		response.Conflict(c, 13006, err.Error())
	case errors.Is(err, service.ErrClaimConflict):
		response.Conflict(c, 13007, "报销单已被其他操作修改，请刷新后重试")
	case errors.Is(err, service.ErrClaimNotPending):
		response.Conflict(c, 13008, "报销单已进入审批流程，不能再追加文档")
	case errors.Is(err, service.ErrUploadCircuitOpen):
		response.ServiceUnavailable(c, 13009, "文档上传连续失败，请稍后再试或联系管理员")
	default:
		_ = c.Error(err)
		h.logger.Error("报销单请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalError(c)
	}
}
