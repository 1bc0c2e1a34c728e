package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"ccms/backend/internal/dto"
	"ccms/backend/internal/model"
	"ccms/backend/internal/repository"
)

// ── 报表模块业务错误 ──

var (
	ErrReportNoClaims     = errors.New("筛选条件下没有报销单")
	ErrReportGenerateFail = errors.New("生成 Excel 文件失败")
)

// ReportService 报表业务接口
//
// 设计说明：
//   - 仅 HR 与学术经理可导出
//   - 以 bytes.Buffer 返回，由 Handler 层设置下载响应头
//   - 两个 Sheet："报销明细"逐单列出，"状态汇总"按状态统计笔数与金额
type ReportService interface {
	ExportClaims(ctx context.Context, p Principal, q *dto.ClaimReportQuery) (*bytes.Buffer, string, error)
}

type reportService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewReportService 创建 ReportService 实例
func NewReportService(repo *repository.Repository, logger *zap.Logger) ReportService {
	return &reportService{repo: repo, logger: logger, now: time.Now}
}

const (
	reportDetailSheet  = "报销明细"
	reportSummarySheet = "状态汇总"
	reportDateLayout   = "2006-01-02"
)

var reportHeaders = []string{
	"报销单号", "讲师", "邮箱", "院系", "报销日期", "提交时间",
	"工时", "时薪", "金额", "状态", "批准时间", "结算时间",
}

// ═══════════════════════════════════════════════════════════
// ExportClaims 按状态与提交日期导出报销单
// ═══════════════════════════════════════════════════════════

func (s *reportService) ExportClaims(ctx context.Context, p Principal, q *dto.ClaimReportQuery) (*bytes.Buffer, string, error) {
	if !p.HasRole(RoleHR, RoleManager) {
		return nil, "", ErrForbidden
	}

	filter, err := parseReportFilter(q)
	if err != nil {
		return nil, "", err
	}

	claims, err := s.repo.Claim.ListForReport(ctx, filter)
	if err != nil {
		s.logger.Error("查询报表数据失败", zap.Error(err))
		return nil, "", err
	}
	if len(claims) == 0 {
		return nil, "", ErrReportNoClaims
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, _ := f.NewSheet(reportDetailSheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00

	// 列宽
	f.SetColWidth(reportDetailSheet, "A", "A", 38)
	f.SetColWidth(reportDetailSheet, "B", "D", 20)
	f.SetColWidth(reportDetailSheet, "E", "F", 20)
	f.SetColWidth(reportDetailSheet, "G", "J", 12)
	f.SetColWidth(reportDetailSheet, "K", "L", 20)

	// 标题行
	lastCol := colName(len(reportHeaders) - 1)
	f.SetCellValue(reportDetailSheet, "A1", reportTitle(q, s.now()))
	f.MergeCell(reportDetailSheet, "A1", cell(lastCol, 1))
	f.SetCellStyle(reportDetailSheet, "A1", "A1", headerStyle)

	// 表头
	for i, h := range reportHeaders {
		f.SetCellValue(reportDetailSheet, cell(colName(i), 2), h)
	}
	f.SetCellStyle(reportDetailSheet, "A2", cell(lastCol, 2), headerStyle)

	type bucket struct {
		count  int
		amount decimal.Decimal
	}
	byStatus := make(map[model.ClaimStatus]*bucket)
	total := decimal.Zero

	// 数据行
	row := 3
	for i := range claims {
		c := &claims[i]
		amount := c.TotalAmount()
		total = total.Add(amount)
		b, ok := byStatus[c.Status]
		if !ok {
			b = &bucket{amount: decimal.Zero}
			byStatus[c.Status] = b
		}
		b.count++
		b.amount = b.amount.Add(amount)

		lecturerName, email, department := "-", "-", "-"
		if c.Lecturer != nil {
			lecturerName = c.Lecturer.FullName()
			email = c.Lecturer.Email
			if c.Lecturer.Department != "" {
				department = c.Lecturer.Department
			}
		}

		values := []interface{}{
			c.ClaimID,
			lecturerName,
			email,
			department,
			c.ClaimDate.Format(reportDateLayout),
			c.SubmissionDate.Format("2006-01-02 15:04"),
			c.TotalHours.InexactFloat64(),
			c.HourlyRate.InexactFloat64(),
			amount.InexactFloat64(),
			c.Status.Label(),
			formatOptionalTime(c.ApprovedDate),
			formatOptionalTime(c.SettledDate),
		}
		for col, v := range values {
			f.SetCellValue(reportDetailSheet, cell(colName(col), row), v)
		}
		f.SetCellStyle(reportDetailSheet, cell("G", row), cell("I", row), moneyStyle)
		row++
	}

	// 合计行
	f.SetCellValue(reportDetailSheet, cell("A", row), "合计")
	f.SetCellValue(reportDetailSheet, cell("I", row), total.InexactFloat64())
	f.SetCellStyle(reportDetailSheet, cell("I", row), cell("I", row), moneyStyle)

	// 状态汇总
	f.NewSheet(reportSummarySheet)
	f.SetColWidth(reportSummarySheet, "A", "C", 16)
	for i, h := range []string{"状态", "笔数", "金额"} {
		f.SetCellValue(reportSummarySheet, cell(colName(i), 1), h)
	}
	f.SetCellStyle(reportSummarySheet, "A1", "C1", headerStyle)
	row = 2
	for _, st := range model.AllClaimStatuses {
		b, ok := byStatus[st]
		if !ok {
			continue
		}
		f.SetCellValue(reportSummarySheet, cell("A", row), st.Label())
		f.SetCellValue(reportSummarySheet, cell("B", row), b.count)
		f.SetCellValue(reportSummarySheet, cell("C", row), b.amount.InexactFloat64())
		f.SetCellStyle(reportSummarySheet, cell("C", row), cell("C", row), moneyStyle)
		row++
	}

	// 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrReportGenerateFail
	}

	filename := fmt.Sprintf("报销单报表_%s.xlsx", s.now().Format("20060102"))
	return buf, filename, nil
}

// parseReportFilter 日期按天解析，to 含当天
func parseReportFilter(q *dto.ClaimReportQuery) (repository.ClaimFilter, error) {
	var filter repository.ClaimFilter
	var reasons []string

	if q.Status != "" {
		st := model.ClaimStatus(q.Status)
		if !st.Valid() {
			reasons = append(reasons, fmt.Sprintf("未知的报销单状态 %q", q.Status))
		} else {
			filter.Status = &st
		}
	}
	if q.From != "" {
		from, err := time.Parse(reportDateLayout, q.From)
		if err != nil {
			reasons = append(reasons, "起始日期格式应为 YYYY-MM-DD")
		} else {
			filter.From = &from
		}
	}
	if q.To != "" {
		to, err := time.Parse(reportDateLayout, q.To)
		if err != nil {
			reasons = append(reasons, "截止日期格式应为 YYYY-MM-DD")
		} else {
			end := to.AddDate(0, 0, 1)
			filter.To = &end
		}
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		reasons = append(reasons, "起始日期不能晚于截止日期")
	}

	if len(reasons) > 0 {
		return filter, newValidationError(reasons...)
	}
	return filter, nil
}

func reportTitle(q *dto.ClaimReportQuery, now time.Time) string {
	parts := []string{"报销单报表"}
	if q.Status != "" {
		parts = append(parts, model.ClaimStatus(q.Status).Label())
	}
	if q.From != "" || q.To != "" {
		parts = append(parts, fmt.Sprintf("%s ~ %s", orDash(q.From), orDash(q.To)))
	}
	parts = append(parts, "生成于 "+now.Format("2006-01-02 15:04"))
	return strings.Join(parts, " | ")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
