package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ccms/backend/config"
	"ccms/backend/internal/dto"
	"ccms/backend/internal/model"
	"ccms/backend/internal/repository"
	pkgerrors "ccms/backend/pkg/errors"
	"ccms/backend/pkg/telemetry"
)

// ── 报销单模块业务错误 ──

var (
	ErrClaimNotFound    = errors.New("报销单不存在")
	ErrClaimConflict    = errors.New("报销单已被其他操作修改，请刷新后重试")
	ErrClaimNotPending  = errors.New("报销单已进入审批流程，不能再追加文档")
	ErrLecturerNotFound = errors.New("当前账号未关联讲师档案")
)

const (
	authorNameMaxLen = 100
	authorRoleMaxLen = 50
	defaultPageSize  = 20
	submitGuardScope = "submit"
)

// ClaimService 报销单生命周期业务接口
type ClaimService interface {
	Submit(ctx context.Context, p Principal, req *dto.SubmitClaimRequest, files []Upload) (*dto.ClaimResponse, error)
	Verify(ctx context.Context, p Principal, claimID, comment string) (*dto.VerifyResponse, error)
	VerifyAllPending(ctx context.Context, p Principal) (*dto.VerifyBatchResponse, error)
	CoordinatorReject(ctx context.Context, p Principal, claimID, comment string) (*dto.ClaimResponse, error)
	Approve(ctx context.Context, p Principal, claimID, comment string) (*dto.ClaimResponse, error)
	ManagerReject(ctx context.Context, p Principal, claimID, comment string) (*dto.ClaimResponse, error)
	Settle(ctx context.Context, p Principal, claimID string) (*dto.ClaimResponse, error)
	AttachDocuments(ctx context.Context, p Principal, claimID string, files []Upload) (*dto.AttachDocumentsResponse, error)
	AddComment(ctx context.Context, p Principal, claimID, content string) (*dto.CommentResponse, error)
	Get(ctx context.Context, p Principal, claimID string) (*dto.ClaimResponse, error)
	ListMine(ctx context.Context, p Principal) ([]dto.ClaimResponse, error)
	ListByStatus(ctx context.Context, status model.ClaimStatus, page, pageSize int) ([]dto.ClaimResponse, int64, error)
}

type claimService struct {
	repo        *repository.Repository
	rules       *VerificationRuleEngine
	bounds      Bounds
	monthlyCap  decimal.Decimal
	maxApproval decimal.Decimal
	commentMax  int
	vault       *DocumentVault
	guard       *UploadGuard
	gate        *AccessControlGate
	audit       AuditRecorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewClaimService 创建 ClaimService 实例
func NewClaimService(
	cfg *config.ClaimConfig,
	repo *repository.Repository,
	vault *DocumentVault,
	guard *UploadGuard,
	gate *AccessControlGate,
	audit AuditRecorder,
	logger *zap.Logger,
) ClaimService {
	return &claimService{
		repo:        repo,
		rules:       NewVerificationRuleEngine(cfg.Verification),
		bounds:      NewBounds(cfg.Submission),
		monthlyCap:  decimal.NewFromFloat(cfg.MonthlyHourCap),
		maxApproval: decimal.NewFromFloat(cfg.MaxApprovalAmount),
		commentMax:  cfg.CommentMaxLength,
		vault:       vault,
		guard:       guard,
		gate:        gate,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

// ────────────────────── Submit ──────────────────────

func (s *claimService) Submit(ctx context.Context, p Principal, req *dto.SubmitClaimRequest, files []Upload) (*dto.ClaimResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "claim.Submit")
	defer span.End()

	if !p.HasRole(RoleLecturer) {
		return nil, ErrForbidden
	}
	lecturer, err := s.lecturerOf(ctx, p)
	if err != nil {
		return nil, err
	}

	now := s.now()
	hours, rate, claimDate, reasons := s.parseSubmission(req, lecturer, now)
	for _, f := range files {
		reasons = append(reasons, s.vault.Validate(f)...)
	}
	if len(reasons) > 0 {
		return nil, newValidationError(reasons...)
	}

	claim := &model.Claim{
		ClaimID:        uuid.NewString(),
		LecturerID:     lecturer.LecturerID,
		ClaimDate:      claimDate,
		SubmissionDate: now,
		HourlyRate:     rate,
		TotalHours:     hours,
		Status:         model.ClaimPending,
	}
	claim.Version = 1
	span.SetAttributes(attribute.String("claim.id", claim.ClaimID))

	// 新报销单尚无编号，熔断按调用方的提交动作计数
	err = s.guard.Do(ctx, submitGuardScope, p.ID, func(ctx context.Context) error {
		docs, err := s.createWithDocuments(ctx, claim, files, now)
		claim.Documents = docs
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUploadCircuitOpen) {
			s.audit.Record(ctx, AuditEntry{Principal: p, Action: ActionUploadCircuitOpen, Success: false})
		} else if countsAsFailure(err) {
			s.logger.Error("提交报销单失败", zap.String("lecturer_id", lecturer.LecturerID), zap.Error(err))
		}
		return nil, err
	}
	claim.Lecturer = lecturer

	s.audit.Record(ctx, AuditEntry{
		Principal: p,
		Action:    ActionClaimSubmitted,
		ClaimID:   claim.ClaimID,
		Success:   true,
		Details: map[string]interface{}{
			"total_hours": claim.TotalHours.String(),
			"hourly_rate": claim.HourlyRate.String(),
			"documents":   len(claim.Documents),
		},
	})

	return s.toClaimResponse(claim), nil
}

// parseSubmission 解析并按提交边界校验，收集全部原因
func (s *claimService) parseSubmission(req *dto.SubmitClaimRequest, lecturer *model.Lecturer, now time.Time) (hours, rate decimal.Decimal, claimDate time.Time, reasons []string) {
	hours, err := decimal.NewFromString(strings.TrimSpace(req.TotalHours))
	switch {
	case err != nil:
		reasons = append(reasons, "工时格式无效")
	case !hours.Equal(hours.Round(2)):
		reasons = append(reasons, "工时最多保留两位小数")
	default:
		if r := s.bounds.hoursReason(hours); r != "" {
			reasons = append(reasons, r)
		}
	}

	rate, rateOK := lecturer.HourlyRate, true
	if raw := strings.TrimSpace(req.HourlyRate); raw != "" {
		if rate, err = decimal.NewFromString(raw); err != nil {
			reasons = append(reasons, "时薪格式无效")
			rateOK = false
		}
	}
	if rateOK {
		if !rate.Equal(rate.Round(2)) {
			reasons = append(reasons, "时薪最多保留两位小数")
		} else if r := s.bounds.rateReason(rate); r != "" {
			reasons = append(reasons, r)
		}
	}

	claimDate, err = time.Parse("2006-01-02", strings.TrimSpace(req.ClaimDate))
	if err != nil {
		reasons = append(reasons, "报销日期格式应为 YYYY-MM-DD")
	} else if calendarDay(claimDate).After(calendarDay(now)) {
		reasons = append(reasons, "报销日期不能晚于今天")
	}
	return hours, rate, claimDate, reasons
}

// createWithDocuments 锁定讲师 → 月度上限 → 文件入库 → 建单与文档元数据，全部在一个事务内
func (s *claimService) createWithDocuments(ctx context.Context, claim *model.Claim, files []Upload, now time.Time) ([]model.Document, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: 开启事务: %w", ErrPersistenceFailure, err)
	}
	txRepo := s.repo.WithTx(tx)

	var stored []*StoredFile
	fail := func(err error) ([]model.Document, error) {
		rollback(tx)
		s.removeFiles(ctx, stored)
		return nil, err
	}

	if err := txRepo.Lecturer.LockForUpdate(ctx, claim.LecturerID); err != nil {
		return fail(fmt.Errorf("%w: 锁定讲师: %w", ErrPersistenceFailure, err))
	}
	already, err := txRepo.Claim.SumHoursSubmitted(ctx, claim.LecturerID, monthStart, monthEnd)
	if err != nil {
		return fail(fmt.Errorf("%w: 统计月度工时: %w", ErrPersistenceFailure, err))
	}
	if already.Add(claim.TotalHours).GreaterThan(s.monthlyCap) {
		return fail(newValidationError(fmt.Sprintf(
			"本月累计工时不能超过 %s 小时，已申报 %s 小时", s.monthlyCap, already,
		)))
	}

	if stored, err = s.storeFiles(ctx, claim.ClaimID, files); err != nil {
		return fail(err)
	}
	if err := txRepo.Claim.Create(ctx, claim); err != nil {
		return fail(fmt.Errorf("%w: 创建报销单: %w", ErrPersistenceFailure, err))
	}
	docs, err := s.persistDocuments(ctx, txRepo, claim.ClaimID, stored)
	if err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrStorageFailure, err))
	}

	if err := commit(tx); err != nil {
		return fail(fmt.Errorf("%w: 提交事务: %w", ErrPersistenceFailure, err))
	}
	return docs, nil
}

// storeFiles 逐个加密入库；中途失败时删除本批已写入的文件
func (s *claimService) storeFiles(ctx context.Context, claimID string, files []Upload) ([]*StoredFile, error) {
	stored := make([]*StoredFile, 0, len(files))
	for _, f := range files {
		sf, err := s.vault.Store(ctx, claimID, f)
		if err != nil {
			s.removeFiles(ctx, stored)
			return nil, err
		}
		stored = append(stored, sf)
	}
	return stored, nil
}

func (s *claimService) persistDocuments(ctx context.Context, txRepo *repository.Repository, claimID string, stored []*StoredFile) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(stored))
	for _, sf := range stored {
		doc := model.Document{
			DocumentID:   uuid.NewString(),
			ClaimID:      claimID,
			OriginalName: sf.OriginalName,
			StoragePath:  sf.Path,
			DocType:      sf.DocType,
			SizeBytes:    sf.Size,
			CipherScheme: string(sf.Scheme),
			UploadedAt:   sf.UploadedAt,
		}
		if err := txRepo.Document.Create(ctx, &doc); err != nil {
			return nil, fmt.Errorf("%w: 保存文档记录: %w", ErrPersistenceFailure, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *claimService) removeFiles(ctx context.Context, stored []*StoredFile) {
	for _, sf := range stored {
		if err := s.vault.Remove(ctx, sf.Path); err != nil {
			s.logger.Error("回滚时删除文档失败", zap.String("path", sf.Path), zap.Error(err))
		}
	}
}

// ────────────────────── AttachDocuments ──────────────────────

func (s *claimService) AttachDocuments(ctx context.Context, p Principal, claimID string, files []Upload) (*dto.AttachDocumentsResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "claim.AttachDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("claim.id", claimID))

	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, p, claim); err != nil {
		return nil, err
	}
	if claim.Status != model.ClaimPending {
		return nil, ErrClaimNotPending
	}

	if len(files) == 0 {
		return nil, newValidationError("至少上传一个文件")
	}
	var reasons []string
	for _, f := range files {
		reasons = append(reasons, s.vault.Validate(f)...)
	}
	if len(reasons) > 0 {
		return nil, newValidationError(reasons...)
	}

	var docs []model.Document
	err = s.guard.Do(ctx, claimID, p.ID, func(ctx context.Context) error {
		var err error
		docs, err = s.attachInTx(ctx, claim, files)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUploadCircuitOpen) {
			s.audit.Record(ctx, AuditEntry{Principal: p, Action: ActionUploadCircuitOpen, ClaimID: claimID, Success: false})
		} else if countsAsFailure(err) {
			s.logger.Error("追加文档失败", zap.String("claim_id", claimID), zap.Error(err))
		}
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		Principal: p,
		Action:    ActionDocumentsAttached,
		ClaimID:   claimID,
		Success:   true,
		Details:   map[string]interface{}{"documents": len(docs)},
	})

	resp := &dto.AttachDocumentsResponse{ClaimID: claimID, Documents: make([]dto.DocumentResponse, 0, len(docs))}
	for i := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(&docs[i]))
	}
	return resp, nil
}

// attachInTx 先以版本号占住 pending 状态，再写文件与元数据
// 并发的状态迁移会在版本号上冲突，二者只有一个成功
func (s *claimService) attachInTx(ctx context.Context, claim *model.Claim, files []Upload) ([]model.Document, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: 开启事务: %w", ErrPersistenceFailure, err)
	}
	txRepo := s.repo.WithTx(tx)

	var stored []*StoredFile
	fail := func(err error) ([]model.Document, error) {
		rollback(tx)
		s.removeFiles(ctx, stored)
		return nil, err
	}

	if err := txRepo.Claim.TouchPending(ctx, claim.ClaimID, claim.Version); err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return fail(ErrClaimConflict)
		}
		return fail(fmt.Errorf("%w: 锁定报销单: %w", ErrPersistenceFailure, err))
	}

	if stored, err = s.storeFiles(ctx, claim.ClaimID, files); err != nil {
		return fail(err)
	}
	docs, err := s.persistDocuments(ctx, txRepo, claim.ClaimID, stored)
	if err != nil {
		return fail(err)
	}
	// 调用方已放弃请求时不再提交，避免留下无人知晓的文档
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrStorageFailure, err))
	}
	if err := commit(tx); err != nil {
		return fail(fmt.Errorf("%w: 提交事务: %w", ErrPersistenceFailure, err))
	}
	claim.Version++
	return docs, nil
}

// ────────────────────── Verify ──────────────────────

func (s *claimService) Verify(ctx context.Context, p Principal, claimID, comment string) (*dto.VerifyResponse, error) {
	if !p.HasRole(RoleCoordinator) {
		return nil, ErrForbidden
	}
	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	d, err := s.verifyClaim(ctx, p, claim, comment)
	if err != nil {
		return nil, err
	}

	return &dto.VerifyResponse{
		Claim:    *s.toClaimResponse(claim),
		Accepted: d.Accepted,
		Rule:     d.Rule,
		Reason:   d.Reason,
	}, nil
}

// verifyClaim 执行规则链并迁移到 verified / rejected，引擎结论写为审计意见
func (s *claimService) verifyClaim(ctx context.Context, p Principal, claim *model.Claim, comment string) (Decision, error) {
	if claim.Status != model.ClaimPending {
		return Decision{}, &InvalidTransitionError{From: claim.Status, To: model.ClaimVerified}
	}

	lecturer, err := s.repo.Lecturer.GetByID(ctx, claim.LecturerID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("查询讲师失败", zap.String("lecturer_id", claim.LecturerID), zap.Error(err))
			return Decision{}, err
		}
		lecturer = nil
	}

	d := s.rules.Evaluate(claim, lecturer, s.now())
	for _, w := range d.Warnings {
		s.logger.Warn("核验告警", zap.String("claim_id", claim.ClaimID), zap.String("warning", w))
	}

	to, action := model.ClaimVerified, ActionClaimVerified
	if !d.Accepted {
		to, action = model.ClaimRejected, ActionClaimRejected
	}
	comments := []string{
		"自动核验：" + d.Reason,
		sanitizeComment(comment, s.commentMax),
	}
	err = s.applyTransition(ctx, p, claim, to, comments, action, map[string]interface{}{
		"rule":   d.Rule,
		"reason": d.Reason,
	})
	claim.Lecturer = lecturer
	return d, err
}

// ────────────────────── VerifyAllPending ──────────────────────

func (s *claimService) VerifyAllPending(ctx context.Context, p Principal) (*dto.VerifyBatchResponse, error) {
	if !p.HasRole(RoleCoordinator) {
		return nil, ErrForbidden
	}

	claims, err := s.repo.Claim.ListAllByStatus(ctx, model.ClaimPending)
	if err != nil {
		s.logger.Error("查询待核验报销单失败", zap.Error(err))
		return nil, err
	}

	res := &dto.VerifyBatchResponse{Trace: make([]string, 0, len(claims))}
	for i := range claims {
		if err := ctx.Err(); err != nil {
			res.Trace = append(res.Trace, fmt.Sprintf("批量核验中断，剩余 %d 条未处理", len(claims)-i))
			return res, err
		}

		c := &claims[i]
		d, err := s.verifyClaim(ctx, p, c, "")
		switch {
		case err != nil:
			res.Failed++
			res.Trace = append(res.Trace, fmt.Sprintf("报销单 %s: 失败 (%v)", c.ClaimID, err))
			s.logger.Warn("批量核验单条失败", zap.String("claim_id", c.ClaimID), zap.Error(err))
		case d.Accepted:
			res.Verified++
			res.Trace = append(res.Trace, fmt.Sprintf("报销单 %s: 通过 (%s)", c.ClaimID, d.Reason))
		default:
			res.Rejected++
			res.Trace = append(res.Trace, fmt.Sprintf("报销单 %s: 驳回 [%s] %s", c.ClaimID, d.Rule, d.Reason))
		}
	}

	s.logger.Info("批量核验完成",
		zap.Int("verified", res.Verified),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// ────────────────────── CoordinatorReject ──────────────────────

func (s *claimService) CoordinatorReject(ctx context.Context, p Principal, claimID, comment string) (*dto.ClaimResponse, error) {
	if !p.HasRole(RoleCoordinator) {
		return nil, ErrForbidden
	}
	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != model.ClaimPending {
		return nil, &InvalidTransitionError{From: claim.Status, To: model.ClaimRejected}
	}

	var comments []string
	if reason := sanitizeComment(comment, s.commentMax); reason != "" {
		comments = append(comments, rejectionComment(reason, s.commentMax))
	}
	if err := s.applyTransition(ctx, p, claim, model.ClaimRejected, comments, ActionClaimRejected, nil); err != nil {
		return nil, err
	}
	return s.toClaimResponse(claim), nil
}

// ────────────────────── Approve ──────────────────────

func (s *claimService) Approve(ctx context.Context, p Principal, claimID, comment string) (*dto.ClaimResponse, error) {
	if !p.HasRole(RoleManager) {
		return nil, ErrForbidden
	}
	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != model.ClaimVerified {
		return nil, &InvalidTransitionError{From: claim.Status, To: model.ClaimApproved}
	}

	amount := claim.TotalAmount()
	if amount.GreaterThan(s.maxApproval) {
		return nil, newValidationError(fmt.Sprintf(
			"金额 R%s 超过单笔审批上限 R%s", amount.StringFixed(2), s.maxApproval.StringFixed(2),
		))
	}

	comments := []string{sanitizeComment(comment, s.commentMax)}
	err = s.applyTransition(ctx, p, claim, model.ClaimApproved, comments, ActionClaimApproved, map[string]interface{}{
		"total_amount": amount.StringFixed(2),
	})
	if err != nil {
		return nil, err
	}
	return s.toClaimResponse(claim), nil
}

// ────────────────────── ManagerReject ──────────────────────

func (s *claimService) ManagerReject(ctx context.Context, p Principal, claimID, comment string) (*dto.ClaimResponse, error) {
	if !p.HasRole(RoleManager) {
		return nil, ErrForbidden
	}
	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != model.ClaimVerified {
		return nil, &InvalidTransitionError{From: claim.Status, To: model.ClaimRejected}
	}

	reason := sanitizeComment(comment, s.commentMax)
	if reason == "" {
		return nil, newValidationError("驳回时必须填写原因")
	}
	comments := []string{rejectionComment(reason, s.commentMax)}
	if err := s.applyTransition(ctx, p, claim, model.ClaimRejected, comments, ActionClaimRejected, nil); err != nil {
		return nil, err
	}
	return s.toClaimResponse(claim), nil
}

// ────────────────────── Settle ──────────────────────

func (s *claimService) Settle(ctx context.Context, p Principal, claimID string) (*dto.ClaimResponse, error) {
	if !p.HasRole(RoleHR) {
		return nil, ErrForbidden
	}
	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	if err := s.applyTransition(ctx, p, claim, model.ClaimSettled, nil, ActionClaimSettled, nil); err != nil {
		return nil, err
	}
	return s.toClaimResponse(claim), nil
}

// ────────────────────── AddComment ──────────────────────

func (s *claimService) AddComment(ctx context.Context, p Principal, claimID, content string) (*dto.CommentResponse, error) {
	claim, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckClaim(ctx, claim, p); err != nil {
		return nil, err
	}

	text := sanitizeComment(content, s.commentMax)
	if text == "" {
		return nil, newValidationError("意见内容不能为空")
	}

	comment := s.newComment(ctx, p, claimID, text)
	if err := s.repo.Comment.Create(ctx, comment); err != nil {
		s.logger.Error("保存意见失败", zap.String("claim_id", claimID), zap.Error(err))
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{Principal: p, Action: ActionCommentAdded, ClaimID: claimID, Success: true})
	resp := toCommentResponse(comment)
	return &resp, nil
}

// ────────────────────── 查询 ──────────────────────

func (s *claimService) Get(ctx context.Context, p Principal, claimID string) (*dto.ClaimResponse, error) {
	claim, err := s.repo.Claim.GetDetail(ctx, claimID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		s.logger.Error("查询报销单失败", zap.String("claim_id", claimID), zap.Error(err))
		return nil, err
	}
	if err := s.gate.CheckClaim(ctx, claim, p); err != nil {
		return nil, err
	}
	return s.toClaimResponse(claim), nil
}

func (s *claimService) ListMine(ctx context.Context, p Principal) ([]dto.ClaimResponse, error) {
	lecturer, err := s.lecturerOf(ctx, p)
	if err != nil {
		return nil, err
	}
	claims, err := s.repo.Claim.ListByLecturer(ctx, lecturer.LecturerID)
	if err != nil {
		s.logger.Error("列出报销单失败", zap.String("lecturer_id", lecturer.LecturerID), zap.Error(err))
		return nil, err
	}

	result := make([]dto.ClaimResponse, 0, len(claims))
	for i := range claims {
		claims[i].Lecturer = lecturer
		result = append(result, *s.toClaimResponse(&claims[i]))
	}
	return result, nil
}

func (s *claimService) ListByStatus(ctx context.Context, status model.ClaimStatus, page, pageSize int) ([]dto.ClaimResponse, int64, error) {
	if !status.Valid() {
		return nil, 0, newValidationError(fmt.Sprintf("未知的报销单状态 %q", status))
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	claims, total, err := s.repo.Claim.ListByStatus(ctx, status, (page-1)*pageSize, pageSize)
	if err != nil {
		s.logger.Error("按状态列出报销单失败", zap.String("status", string(status)), zap.Error(err))
		return nil, 0, err
	}

	result := make([]dto.ClaimResponse, 0, len(claims))
	for i := range claims {
		result = append(result, *s.toClaimResponse(&claims[i]))
	}
	return result, total, nil
}

// ────────────────────── 内部辅助 ──────────────────────

// applyTransition 唯一修改状态的入口：内存迁移 → 版本号更新 + 意见写入（同一事务）→ 审计
// 失败时恢复内存中的报销单
func (s *claimService) applyTransition(
	ctx context.Context,
	p Principal,
	claim *model.Claim,
	to model.ClaimStatus,
	comments []string,
	action string,
	details map[string]interface{},
) error {
	ctx, span := telemetry.Tracer().Start(ctx, "claim.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("claim.id", claim.ClaimID),
		attribute.String("claim.from", string(claim.Status)),
		attribute.String("claim.to", string(to)),
	)

	before := *claim
	from := claim.Status
	changed, err := transitionClaim(claim, to, s.now())
	if err != nil || !changed {
		return err
	}

	restore := func() { *claim = before }

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		restore()
		s.logger.Error("开启事务失败", zap.Error(err))
		return err
	}
	txRepo := s.repo.WithTx(tx)

	if err := txRepo.Claim.UpdateStatus(ctx, claim); err != nil {
		rollback(tx)
		restore()
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return ErrClaimConflict
		}
		s.logger.Error("更新报销单状态失败", zap.String("claim_id", claim.ClaimID), zap.Error(err))
		return err
	}

	var added []model.Comment
	for _, text := range comments {
		if text == "" {
			continue
		}
		c := s.newComment(ctx, p, claim.ClaimID, text)
		if err := txRepo.Comment.Create(ctx, c); err != nil {
			rollback(tx)
			restore()
			s.logger.Error("保存意见失败", zap.String("claim_id", claim.ClaimID), zap.Error(err))
			return err
		}
		added = append(added, *c)
	}

	if err := commit(tx); err != nil {
		restore()
		s.logger.Error("提交事务失败", zap.Error(err))
		return err
	}
	claim.Comments = append(claim.Comments, added...)

	if details == nil {
		details = map[string]interface{}{}
	}
	details["from"] = string(from)
	details["to"] = string(to)
	s.audit.Record(ctx, AuditEntry{
		Principal: p,
		Action:    action,
		ClaimID:   claim.ClaimID,
		Success:   true,
		Details:   details,
	})
	return nil
}

func (s *claimService) loadClaim(ctx context.Context, claimID string) (*model.Claim, error) {
	claim, err := s.repo.Claim.GetByID(ctx, claimID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		s.logger.Error("查询报销单失败", zap.String("claim_id", claimID), zap.Error(err))
		return nil, err
	}
	return claim, nil
}

func (s *claimService) lecturerOf(ctx context.Context, p Principal) (*model.Lecturer, error) {
	lecturer, err := s.repo.Lecturer.GetByEmail(ctx, p.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLecturerNotFound
		}
		s.logger.Error("查询讲师失败", zap.String("email", p.Email), zap.Error(err))
		return nil, err
	}
	return lecturer, nil
}

// requireOwner 只有报销单所属讲师本人可以追加文档
func (s *claimService) requireOwner(ctx context.Context, p Principal, claim *model.Claim) error {
	if !p.HasRole(RoleLecturer) {
		return ErrForbidden
	}
	lecturer, err := s.lecturerOf(ctx, p)
	if err != nil {
		if errors.Is(err, ErrLecturerNotFound) {
			return ErrForbidden
		}
		return err
	}
	if lecturer.LecturerID != claim.LecturerID {
		s.logger.Warn("非本人尝试追加文档",
			zap.String("claim_id", claim.ClaimID),
			zap.String("user_id", p.ID),
			zap.String("email", p.Email),
		)
		s.audit.Record(ctx, AuditEntry{Principal: p, Action: ActionAccessDenied, ClaimID: claim.ClaimID, Success: false})
		return ErrForbidden
	}
	return nil
}

func (s *claimService) newComment(ctx context.Context, p Principal, claimID, text string) *model.Comment {
	return &model.Comment{
		CommentID:  uuid.NewString(),
		ClaimID:    claimID,
		Content:    text,
		AuthorName: truncateRunes(s.resolveAuthorName(ctx, p), authorNameMaxLen),
		AuthorRole: truncateRunes(RoleLabel(p.Role), authorRoleMaxLen),
		CreatedAt:  s.now(),
	}
}

// resolveAuthorName 令牌中的姓名 → 管理人员档案 → 讲师档案 → 角色名
func (s *claimService) resolveAuthorName(ctx context.Context, p Principal) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if p.Email != "" {
		switch p.Role {
		case RoleCoordinator, RoleManager:
			if profile, err := s.repo.AdminProfile.GetByEmail(ctx, p.Email); err == nil {
				return profile.FullName()
			}
		case RoleLecturer:
			if lecturer, err := s.repo.Lecturer.GetByEmail(ctx, p.Email); err == nil {
				return lecturer.FullName()
			}
		}
	}
	return RoleLabel(p.Role)
}

func rejectionComment(reason string, max int) string {
	return truncateRunes("已驳回："+reason, max)
}

func rollback(tx *gorm.DB) {
	if tx != nil {
		tx.Rollback()
	}
}

func commit(tx *gorm.DB) error {
	if tx == nil {
		return nil
	}
	return tx.Commit().Error
}

// ── 响应转换 ──

func (s *claimService) toClaimResponse(c *model.Claim) *dto.ClaimResponse {
	resp := &dto.ClaimResponse{
		ID:             c.ClaimID,
		LecturerID:     c.LecturerID,
		ClaimDate:      c.ClaimDate.Format("2006-01-02"),
		SubmissionDate: c.SubmissionDate.Format(time.RFC3339),
		HourlyRate:     c.HourlyRate.StringFixed(2),
		TotalHours:     c.TotalHours.String(),
		TotalAmount:    c.TotalAmount().StringFixed(2),
		Status:         string(c.Status),
		StatusLabel:    c.Status.Label(),
		IsSettled:      c.IsSettled,
		Version:        c.Version,
	}
	if c.Lecturer != nil {
		resp.LecturerName = c.Lecturer.FullName()
		resp.LecturerEmail = c.Lecturer.Email
	}
	if c.ApprovedDate != nil {
		v := c.ApprovedDate.Format(time.RFC3339)
		resp.ApprovedDate = &v
	}
	if c.SettledDate != nil {
		v := c.SettledDate.Format(time.RFC3339)
		resp.SettledDate = &v
	}
	for i := range c.Documents {
		resp.Documents = append(resp.Documents, toDocumentResponse(&c.Documents[i]))
	}
	for i := range c.Comments {
		resp.Comments = append(resp.Comments, toCommentResponse(&c.Comments[i]))
	}
	return resp
}

func toDocumentResponse(d *model.Document) dto.DocumentResponse {
	return dto.DocumentResponse{
		ID:           d.DocumentID,
		ClaimID:      d.ClaimID,
		OriginalName: d.OriginalName,
		DocType:      d.DocType,
		SizeBytes:    d.SizeBytes,
		UploadedAt:   d.UploadedAt.Format(time.RFC3339),
	}
}

func toCommentResponse(c *model.Comment) dto.CommentResponse {
	return dto.CommentResponse{
		ID:         c.CommentID,
		Content:    c.Content,
		AuthorName: c.AuthorName,
		AuthorRole: c.AuthorRole,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}
