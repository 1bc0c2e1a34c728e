package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ccms/backend/internal/model"
)

// ErrInvalidTransition 所有非法迁移错误都匹配此哨兵
var ErrInvalidTransition = errors.New("报销单状态不允许此操作")

// InvalidTransitionError 携带当前状态与请求状态
type InvalidTransitionError struct {
	From model.ClaimStatus
	To   model.ClaimStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("报销单当前为 %s，不能变更为 %s", e.From.Label(), e.To.Label())
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError 输入校验失败，逐条列出原因，不产生任何写入
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "参数校验失败: " + strings.Join(e.Reasons, "; ")
}

func newValidationError(reasons ...string) *ValidationError {
	return &ValidationError{Reasons: reasons}
}

// ── 状态机 ──

// isClaimTransitionAllowed 合法边：
//
//	pending  → verified | rejected
//	verified → approved | rejected
//	approved → settled
func isClaimTransitionAllowed(from, to model.ClaimStatus) bool {
	switch from {
	case model.ClaimPending:
		return to == model.ClaimVerified || to == model.ClaimRejected
	case model.ClaimVerified:
		return to == model.ClaimApproved || to == model.ClaimRejected
	case model.ClaimApproved:
		return to == model.ClaimSettled
	default:
		return false
	}
}

// transitionClaim 在内存中执行迁移并维护日期字段
// approved_date 仅在 approved 状态下非空，结算后批准时间由审计日志保留
// 对已结算报销单再次结算返回 changed=false 且无错误
func transitionClaim(c *model.Claim, to model.ClaimStatus, now time.Time) (changed bool, err error) {
	if c.Status == model.ClaimSettled && to == model.ClaimSettled {
		return false, nil
	}
	if !isClaimTransitionAllowed(c.Status, to) {
		return false, &InvalidTransitionError{From: c.Status, To: to}
	}

	c.Status = to
	switch to {
	case model.ClaimApproved:
		t := now
		c.ApprovedDate = &t
	case model.ClaimSettled:
		t := now
		c.SettledDate = &t
		c.IsSettled = true
	case model.ClaimRejected, model.ClaimVerified:
		c.ApprovedDate = nil
	}
	return true, nil
}
