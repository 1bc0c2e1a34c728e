package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ccms/backend/config"
	"ccms/backend/internal/model"
)

// 规则标识，按求值顺序排列
const (
	RuleHoursRange    = "hours_range"
	RuleRateRange     = "rate_range"
	RuleLecturerKnown = "lecturer_exists"
	RuleClaimDate     = "claim_date_not_future"
	RuleSubmissionLag = "submission_lag"
)

// dailyHoursWarning 单张报销单工时超过该值只告警不驳回
var dailyHoursWarning = decimal.NewFromInt(8)

// Decision 规则链的求值结果；首个失败规则决定驳回原因
type Decision struct {
	Accepted bool
	Rule     string
	Reason   string
	Warnings []string
}

// Bounds 工时与时薪的闭区间
type Bounds struct {
	MinHours decimal.Decimal
	MaxHours decimal.Decimal
	MinRate  decimal.Decimal
	MaxRate  decimal.Decimal
}

// NewBounds 从配置构建
func NewBounds(b config.BoundsConfig) Bounds {
	return Bounds{
		MinHours: decimal.NewFromFloat(b.MinHours),
		MaxHours: decimal.NewFromFloat(b.MaxHours),
		MinRate:  decimal.NewFromFloat(b.MinRate),
		MaxRate:  decimal.NewFromFloat(b.MaxRate),
	}
}

func (b Bounds) hoursReason(hours decimal.Decimal) string {
	if hours.LessThan(b.MinHours) || hours.GreaterThan(b.MaxHours) {
		return fmt.Sprintf("工时 (%s) 超出允许范围 (%s - %s)", hours, b.MinHours, b.MaxHours)
	}
	return ""
}

func (b Bounds) rateReason(rate decimal.Decimal) string {
	if rate.LessThan(b.MinRate) || rate.GreaterThan(b.MaxRate) {
		return fmt.Sprintf("时薪 (R%s) 超出允许范围 (R%s - R%s)", rate, b.MinRate, b.MaxRate)
	}
	return ""
}

// VerificationRuleEngine 自动核验规则链，无状态、无副作用
type VerificationRuleEngine struct {
	bounds     Bounds
	maxLagDays int
}

// NewVerificationRuleEngine 创建规则引擎
func NewVerificationRuleEngine(cfg config.VerificationConfig) *VerificationRuleEngine {
	return &VerificationRuleEngine{
		bounds:     NewBounds(cfg.BoundsConfig),
		maxLagDays: cfg.MaxSubmissionLagDays,
	}
}

// Evaluate 依次执行规则，短路返回
func (e *VerificationRuleEngine) Evaluate(claim *model.Claim, lecturer *model.Lecturer, now time.Time) Decision {
	if r := e.bounds.hoursReason(claim.TotalHours); r != "" {
		return Decision{Rule: RuleHoursRange, Reason: r}
	}
	if r := e.bounds.rateReason(claim.HourlyRate); r != "" {
		return Decision{Rule: RuleRateRange, Reason: r}
	}
	if lecturer == nil {
		return Decision{Rule: RuleLecturerKnown, Reason: "讲师档案不存在"}
	}

	claimDay := calendarDay(claim.ClaimDate)
	if claimDay.After(calendarDay(now)) {
		return Decision{Rule: RuleClaimDate, Reason: "报销日期不能晚于今天"}
	}

	lag := int(calendarDay(claim.SubmissionDate).Sub(claimDay).Hours() / 24)
	if lag > e.maxLagDays {
		return Decision{
			Rule:   RuleSubmissionLag,
			Reason: fmt.Sprintf("提交时间晚于报销日期 %d 天（上限 %d 天）", lag, e.maxLagDays),
		}
	}

	d := Decision{Accepted: true, Reason: "自动核验全部通过"}
	if claim.TotalHours.GreaterThan(dailyHoursWarning) {
		d.Warnings = append(d.Warnings, fmt.Sprintf("工时 %s 超过单日参考值 %s 小时", claim.TotalHours, dailyHoursWarning))
	}
	return d
}

// calendarDay 取 t 所在时区的日历日期，统一到 UTC 零点便于相减
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
