package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ccms/backend/internal/api/middleware"
	"ccms/backend/internal/dto"
	"ccms/backend/internal/model"
	"ccms/backend/internal/service"
	"ccms/backend/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock ClaimService ──

type uploadSeen struct {
	name    string
	content string
}

type mockClaimService struct {
	submitResult *dto.ClaimResponse
	submitErr    error
	gotRequest   *dto.SubmitClaimRequest
	gotUploads   []uploadSeen
	gotPrincipal service.Principal
	gotComment   string
	gotStatus    model.ClaimStatus

	verifyResult *dto.VerifyResponse
	batchResult  *dto.VerifyBatchResponse
	claimResult  *dto.ClaimResponse
	attachResult *dto.AttachDocumentsResponse
	comment      *dto.CommentResponse
	list         []dto.ClaimResponse
	total        int64
	err          error
}

func (m *mockClaimService) record(p service.Principal, files []service.Upload) {
	m.gotPrincipal = p
	for _, f := range files {
		b, _ := io.ReadAll(f.Content)
		m.gotUploads = append(m.gotUploads, uploadSeen{name: f.Filename, content: string(b)})
	}
}

func (m *mockClaimService) Submit(_ context.Context, p service.Principal, req *dto.SubmitClaimRequest, files []service.Upload) (*dto.ClaimResponse, error) {
	m.gotRequest = req
	m.record(p, files)
	return m.submitResult, m.submitErr
}
func (m *mockClaimService) Verify(_ context.Context, p service.Principal, _, comment string) (*dto.VerifyResponse, error) {
	m.gotPrincipal, m.gotComment = p, comment
	return m.verifyResult, m.err
}
func (m *mockClaimService) VerifyAllPending(_ context.Context, p service.Principal) (*dto.VerifyBatchResponse, error) {
	m.gotPrincipal = p
	return m.batchResult, m.err
}
func (m *mockClaimService) CoordinatorReject(_ context.Context, _ service.Principal, _, comment string) (*dto.ClaimResponse, error) {
	m.gotComment = comment
	return m.claimResult, m.err
}
func (m *mockClaimService) Approve(_ context.Context, _ service.Principal, _, comment string) (*dto.ClaimResponse, error) {
	m.gotComment = comment
	return m.claimResult, m.err
}
func (m *mockClaimService) ManagerReject(_ context.Context, _ service.Principal, _, comment string) (*dto.ClaimResponse, error) {
	m.gotComment = comment
	return m.claimResult, m.err
}
func (m *mockClaimService) Settle(_ context.Context, _ service.Principal, _ string) (*dto.ClaimResponse, error) {
	return m.claimResult, m.err
}
func (m *mockClaimService) AttachDocuments(_ context.Context, p service.Principal, _ string, files []service.Upload) (*dto.AttachDocumentsResponse, error) {
	m.record(p, files)
	return m.attachResult, m.err
}
func (m *mockClaimService) AddComment(_ context.Context, _ service.Principal, _, content string) (*dto.CommentResponse, error) {
	m.gotComment = content
	return m.comment, m.err
}
func (m *mockClaimService) Get(_ context.Context, _ service.Principal, _ string) (*dto.ClaimResponse, error) {
	return m.claimResult, m.err
}
func (m *mockClaimService) ListMine(_ context.Context, _ service.Principal) ([]dto.ClaimResponse, error) {
	return m.list, m.err
}
func (m *mockClaimService) ListByStatus(_ context.Context, status model.ClaimStatus, _, _ int) ([]dto.ClaimResponse, int64, error) {
	m.gotStatus = status
	return m.list, m.total, m.err
}

// ── Mock DocumentService ──

type mockDocumentService struct {
	payload *service.DocumentPayload
	err     error
}

func (m *mockDocumentService) Open(_ context.Context, _ service.Principal, _ string) (*service.DocumentPayload, error) {
	return m.payload, m.err
}

// ── Mock ReportService ──

type mockReportService struct {
	buf      *bytes.Buffer
	filename string
	gotQuery *dto.ClaimReportQuery
	err      error
}

func (m *mockReportService) ExportClaims(_ context.Context, _ service.Principal, q *dto.ClaimReportQuery) (*bytes.Buffer, string, error) {
	m.gotQuery = q
	return m.buf, m.filename, m.err
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

func withPrincipal(id, email, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.CtxUserID, id)
		c.Set(middleware.CtxEmail, email)
		c.Set(middleware.CtxName, "")
		c.Set(middleware.CtxRole, role)
		c.Next()
	}
}

var asLecturer = withPrincipal("lec-001", "thabo.nkosi@uni.ac.za", service.RoleLecturer)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

// multipartBody 构造 multipart 请求体，files 为 文件名→内容
func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("documents[]", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func newClaimHandler(m *mockClaimService) *ClaimHandler {
	return NewClaimHandler(m, zap.NewNop())
}

// ═══════════════════════════════════════════════════════════
// ClaimHandler Tests
// ═══════════════════════════════════════════════════════════

func TestClaimHandler_Submit_Multipart(t *testing.T) {
	mock := &mockClaimService{submitResult: &dto.ClaimResponse{ID: "c-1", Status: "pending"}}
	h := newClaimHandler(mock)

	body, ct := multipartBody(t,
		map[string]string{"hourly_rate": "350", "total_hours": "7.5", "claim_date": "2026-03-14"},
		map[string]string{"timesheet.pdf": "%PDF-1.4 hours"},
	)
	req := httptest.NewRequest("POST", "/claims", body)
	req.Header.Set("Content-Type", ct)

	r := gin.New()
	r.POST("/claims", asLecturer, h.SubmitClaim)
	w := serve(r, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if mock.gotRequest.TotalHours != "7.5" || mock.gotRequest.HourlyRate != "350" || mock.gotRequest.ClaimDate != "2026-03-14" {
		t.Errorf("form fields not bound: %+v", mock.gotRequest)
	}
	if len(mock.gotUploads) != 1 || mock.gotUploads[0].name != "timesheet.pdf" || mock.gotUploads[0].content != "%PDF-1.4 hours" {
		t.Errorf("unexpected uploads: %+v", mock.gotUploads)
	}
	if mock.gotPrincipal.ID != "lec-001" || mock.gotPrincipal.Role != service.RoleLecturer {
		t.Errorf("principal not forwarded: %+v", mock.gotPrincipal)
	}
}

func TestClaimHandler_Submit_MissingFields(t *testing.T) {
	h := newClaimHandler(&mockClaimService{})

	body, ct := multipartBody(t, map[string]string{"hourly_rate": "350"}, nil)
	req := httptest.NewRequest("POST", "/claims", body)
	req.Header.Set("Content-Type", ct)

	r := gin.New()
	r.POST("/claims", asLecturer, h.SubmitClaim)
	if w := serve(r, req); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestClaimHandler_Submit_ValidationReasons(t *testing.T) {
	mock := &mockClaimService{submitErr: &service.ValidationError{Reasons: []string{"工时超出范围", "文件类型不允许"}}}
	h := newClaimHandler(mock)

	body, ct := multipartBody(t, map[string]string{"total_hours": "900", "claim_date": "2026-03-14"}, nil)
	req := httptest.NewRequest("POST", "/claims", body)
	req.Header.Set("Content-Type", ct)

	r := gin.New()
	r.POST("/claims", asLecturer, h.SubmitClaim)
	w := serve(r, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 13001 {
		t.Errorf("expected code 13001, got %d", resp.Code)
	}
	details, ok := resp.Details.([]interface{})
	if !ok || len(details) != 2 {
		t.Errorf("expected two reasons, got %#v", resp.Details)
	}
}

func TestClaimHandler_Unauthenticated(t *testing.T) {
	h := newClaimHandler(&mockClaimService{})

	r := gin.New()
	r.GET("/claims/mine", h.ListMyClaims)
	if w := serve(r, httptest.NewRequest("GET", "/claims/mine", nil)); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestClaimHandler_AttachDocuments(t *testing.T) {
	mock := &mockClaimService{attachResult: &dto.AttachDocumentsResponse{ClaimID: "c-1"}}
	h := newClaimHandler(mock)

	body, ct := multipartBody(t, nil, map[string]string{"extra.docx": "docx-bytes"})
	req := httptest.NewRequest("POST", "/claims/c-1/documents", body)
	req.Header.Set("Content-Type", ct)

	r := gin.New()
	r.POST("/claims/:id/documents", asLecturer, h.AttachDocuments)
	w := serve(r, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(mock.gotUploads) != 1 || mock.gotUploads[0].content != "docx-bytes" {
		t.Errorf("unexpected uploads: %+v", mock.gotUploads)
	}
}

func TestClaimHandler_AttachDocuments_NoFiles(t *testing.T) {
	h := newClaimHandler(&mockClaimService{})

	body, ct := multipartBody(t, map[string]string{"note": "x"}, nil)
	req := httptest.NewRequest("POST", "/claims/c-1/documents", body)
	req.Header.Set("Content-Type", ct)

	r := gin.New()
	r.POST("/claims/:id/documents", asLecturer, h.AttachDocuments)
	w := serve(r, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp := parseResponse(w); resp.Code != 13001 {
		t.Errorf("expected code 13001, got %d", resp.Code)
	}
}

func TestClaimHandler_ListClaims(t *testing.T) {
	mock := &mockClaimService{list: []dto.ClaimResponse{{ID: "c-1"}, {ID: "c-2"}}, total: 42}
	h := newClaimHandler(mock)

	r := gin.New()
	r.GET("/claims", h.ListClaims)
	w := serve(r, httptest.NewRequest("GET", "/claims?status=approved&page=2&page_size=2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotStatus != model.ClaimApproved {
		t.Errorf("expected approved filter, got %q", mock.gotStatus)
	}
	var body struct {
		Data response.PageData `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Data.Pagination.Total != 42 || body.Data.Pagination.TotalPages != 21 || body.Data.Pagination.Page != 2 {
		t.Errorf("unexpected pagination: %+v", body.Data.Pagination)
	}
}

func TestClaimHandler_ListClaims_BadStatus(t *testing.T) {
	h := newClaimHandler(&mockClaimService{})

	r := gin.New()
	r.GET("/claims", h.ListClaims)
	for _, q := range []string{"", "?status=archived"} {
		if w := serve(r, httptest.NewRequest("GET", "/claims"+q, nil)); w.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", q, w.Code)
		}
	}
}

func TestClaimHandler_TransitionComment(t *testing.T) {
	mock := &mockClaimService{claimResult: &dto.ClaimResponse{ID: "c-1", Status: "rejected"}}
	h := newClaimHandler(mock)

	r := gin.New()
	r.POST("/claims/:id/manager-reject", withPrincipal("am-1", "am@uni.ac.za", service.RoleManager), h.ManagerReject)
	r.POST("/claims/:id/approve", withPrincipal("am-1", "am@uni.ac.za", service.RoleManager), h.ApproveClaim)

	req := httptest.NewRequest("POST", "/claims/c-1/manager-reject", jsonBody(dto.TransitionRequest{Comment: "缺少签到表"}))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotComment != "缺少签到表" {
		t.Errorf("comment not forwarded: %q", mock.gotComment)
	}

	// 空请求体视为无意见
	mock.gotComment = "stale"
	if w := serve(r, httptest.NewRequest("POST", "/claims/c-1/approve", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotComment != "" {
		t.Errorf("expected empty comment, got %q", mock.gotComment)
	}
}

func TestClaimHandler_VerifyAll(t *testing.T) {
	mock := &mockClaimService{batchResult: &dto.VerifyBatchResponse{Verified: 2, Rejected: 1, Trace: []string{"a", "b", "c"}}}
	h := newClaimHandler(mock)

	r := gin.New()
	r.POST("/claims/verify-all", withPrincipal("pc-1", "pc@uni.ac.za", service.RoleCoordinator), h.VerifyAllPending)
	w := serve(r, httptest.NewRequest("POST", "/claims/verify-all", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotPrincipal.Role != service.RoleCoordinator {
		t.Errorf("principal not forwarded: %+v", mock.gotPrincipal)
	}
}

func TestClaimHandler_AddComment_Empty(t *testing.T) {
	h := newClaimHandler(&mockClaimService{})

	r := gin.New()
	r.POST("/claims/:id/comments", asLecturer, h.AddComment)
	req := httptest.NewRequest("POST", "/claims/c-1/comments", jsonBody(map[string]string{}))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(r, req); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestClaimHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"Validation", &service.ValidationError{Reasons: []string{"x"}}, 400, 13001},
		{"Forbidden", service.ErrForbidden, 403, 13003},
		{"NotFound", service.ErrClaimNotFound, 404, 13004},
		{"NoLecturer", service.ErrLecturerNotFound, 404, 13005},
		{"Transition", &service.InvalidTransitionError{From: model.ClaimPending, To: model.ClaimApproved}, 409, 13006},
		{"Conflict", service.ErrClaimConflict, 409, 13007},
		{"NotPending", service.ErrClaimNotPending, 409, 13008},
		{"CircuitOpen", service.ErrUploadCircuitOpen, 503, 13009},
		{"Storage", fmt.Errorf("%w: disk full", service.ErrStorageFailure), 500, 50000},
		{"InternalError", errors.New("unknown"), 500, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newClaimHandler(&mockClaimService{err: tt.err})

			r := gin.New()
			r.GET("/claims/:id", asLecturer, h.GetClaim)
			w := serve(r, httptest.NewRequest("GET", "/claims/c-1", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			resp := parseResponse(w)
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Code)
			}
			if tt.wantStatus == 500 && strings.Contains(resp.Message, "disk") {
				t.Errorf("internal detail leaked: %q", resp.Message)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════
// DocumentHandler Tests
// ═══════════════════════════════════════════════════════════

func TestDocumentHandler_DownloadAndView(t *testing.T) {
	mock := &mockDocumentService{payload: &service.DocumentPayload{
		FileName:    "签到表 march.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
	}}
	h := NewDocumentHandler(mock, zap.NewNop())

	r := gin.New()
	r.GET("/documents/:id/download", asLecturer, h.DownloadDocument)
	r.GET("/documents/:id/view", asLecturer, h.ViewDocument)

	w := serve(r, httptest.NewRequest("GET", "/documents/d-1/download", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("unexpected content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Errorf("expected attachment disposition, got %q", cd)
	}
	if w.Body.String() != "%PDF-1.4" {
		t.Errorf("unexpected body: %q", w.Body.String())
	}

	w = serve(r, httptest.NewRequest("GET", "/documents/d-1/view", nil))
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline;") {
		t.Errorf("expected inline disposition, got %q", cd)
	}
}

func TestDocumentHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"Forbidden", service.ErrForbidden, 403, 14003},
		{"NotFound", service.ErrDocumentNotFound, 404, 14004},
		{"Missing", service.ErrDocumentMissing, 404, 14005},
		{"Internal", errors.New("decrypt failed"), 500, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDocumentHandler(&mockDocumentService{err: tt.err}, zap.NewNop())

			r := gin.New()
			r.GET("/documents/:id/download", asLecturer, h.DownloadDocument)
			w := serve(r, httptest.NewRequest("GET", "/documents/d-1/download", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := parseResponse(w); resp.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Code)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════
// ReportHandler Tests
// ═══════════════════════════════════════════════════════════

func TestReportHandler_Success(t *testing.T) {
	mock := &mockReportService{
		buf:      bytes.NewBufferString("excel content"),
		filename: "报销单报表_20260320.xlsx",
	}
	h := NewReportHandler(mock)

	r := gin.New()
	r.GET("/reports/claims", withPrincipal("hr-1", "hr@uni.ac.za", service.RoleHR), h.ExportClaims)
	w := serve(r, httptest.NewRequest("GET", "/reports/claims?status=approved&from=2026-03-01&to=2026-03-31", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("unexpected content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "UTF-8''") {
		t.Errorf("expected encoded filename, got %q", cd)
	}
	if mock.gotQuery.Status != "approved" || mock.gotQuery.From != "2026-03-01" || mock.gotQuery.To != "2026-03-31" {
		t.Errorf("query not bound: %+v", mock.gotQuery)
	}
}

func TestReportHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"Validation", &service.ValidationError{Reasons: []string{"起始日期格式无效"}}, 400, 15001},
		{"Forbidden", service.ErrForbidden, 403, 15003},
		{"NoClaims", service.ErrReportNoClaims, 404, 15004},
		{"Generate", service.ErrReportGenerateFail, 500, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewReportHandler(&mockReportService{err: tt.err})

			r := gin.New()
			r.GET("/reports/claims", withPrincipal("hr-1", "hr@uni.ac.za", service.RoleHR), h.ExportClaims)
			w := serve(r, httptest.NewRequest("GET", "/reports/claims", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := parseResponse(w); resp.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Code)
			}
		})
	}
}
