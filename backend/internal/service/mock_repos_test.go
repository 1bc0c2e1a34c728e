package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ccms/backend/internal/model"
	"ccms/backend/internal/repository"
	pkgerrors "ccms/backend/pkg/errors"
	"ccms/backend/pkg/storage"
)

// ── Mock ClaimRepository ──

type mockClaimRepo struct {
	mu       sync.Mutex
	claims   map[string]*model.Claim
	docs     *mockDocumentRepo
	comments *mockCommentRepo
	lecturer *mockLecturerRepo

	updateErr error
}

func newMockClaimRepo(docs *mockDocumentRepo, comments *mockCommentRepo, lecturers *mockLecturerRepo) *mockClaimRepo {
	return &mockClaimRepo{
		claims:   make(map[string]*model.Claim),
		docs:     docs,
		comments: comments,
		lecturer: lecturers,
	}
}

func (m *mockClaimRepo) Create(_ context.Context, claim *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *claim
	c.Lecturer, c.Documents, c.Comments = nil, nil, nil
	m.claims[c.ClaimID] = &c
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id string) (*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockClaimRepo) GetDetail(ctx context.Context, id string) (*model.Claim, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l, err := m.lecturer.GetByID(ctx, c.LecturerID); err == nil {
		c.Lecturer = l
	}
	c.Documents, _ = m.docs.ListByClaim(ctx, id)
	c.Comments, _ = m.comments.ListByClaim(ctx, id)
	return c, nil
}

func (m *mockClaimRepo) UpdateStatus(_ context.Context, claim *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.claims[claim.ClaimID]
	if !ok || stored.Version != claim.Version {
		return pkgerrors.ErrOptimisticLock
	}
	stored.Status = claim.Status
	stored.ApprovedDate = claim.ApprovedDate
	stored.SettledDate = claim.SettledDate
	stored.IsSettled = claim.IsSettled
	stored.Version++
	claim.Version = stored.Version
	return nil
}

func (m *mockClaimRepo) TouchPending(_ context.Context, claimID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.claims[claimID]
	if !ok || stored.Status != model.ClaimPending || stored.Version != version {
		return pkgerrors.ErrOptimisticLock
	}
	stored.Version++
	return nil
}

func (m *mockClaimRepo) SumHoursSubmitted(_ context.Context, lecturerID string, from, to time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, c := range m.claims {
		if c.LecturerID != lecturerID {
			continue
		}
		if c.SubmissionDate.Before(from) || !c.SubmissionDate.Before(to) {
			continue
		}
		total = total.Add(c.TotalHours)
	}
	return total, nil
}

func (m *mockClaimRepo) ListByLecturer(_ context.Context, lecturerID string) ([]model.Claim, error) {
	return m.filter(func(c *model.Claim) bool { return c.LecturerID == lecturerID }), nil
}

func (m *mockClaimRepo) ListByStatus(_ context.Context, status model.ClaimStatus, offset, limit int) ([]model.Claim, int64, error) {
	all := m.filter(func(c *model.Claim) bool { return c.Status == status })
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Claim{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockClaimRepo) ListAllByStatus(_ context.Context, status model.ClaimStatus) ([]model.Claim, error) {
	return m.filter(func(c *model.Claim) bool { return c.Status == status }), nil
}

func (m *mockClaimRepo) ListForReport(ctx context.Context, f repository.ClaimFilter) ([]model.Claim, error) {
	result := m.filter(func(c *model.Claim) bool {
		if f.Status != nil && c.Status != *f.Status {
			return false
		}
		if f.From != nil && c.SubmissionDate.Before(*f.From) {
			return false
		}
		if f.To != nil && !c.SubmissionDate.Before(*f.To) {
			return false
		}
		return true
	})
	for i := range result {
		if l, err := m.lecturer.GetByID(ctx, result[i].LecturerID); err == nil {
			result[i].Lecturer = l
		}
	}
	return result, nil
}

// filter 按提交时间升序返回副本
func (m *mockClaimRepo) filter(keep func(*model.Claim) bool) []model.Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Claim
	for _, c := range m.claims {
		if keep(c) {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SubmissionDate.Equal(result[j].SubmissionDate) {
			return result[i].ClaimID < result[j].ClaimID
		}
		return result[i].SubmissionDate.Before(result[j].SubmissionDate)
	})
	return result
}

func (m *mockClaimRepo) stored(id string) *model.Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[id]
}

func (m *mockClaimRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// ── Mock DocumentRepository ──

type mockDocumentRepo struct {
	mu        sync.Mutex
	docs      map[string]*model.Document
	createErr error
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: make(map[string]*model.Document)}
}

func (m *mockDocumentRepo) Create(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	d := *doc
	m.docs[d.DocumentID] = &d
	return nil
}

func (m *mockDocumentRepo) GetByID(_ context.Context, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDocumentRepo) ListByClaim(_ context.Context, claimID string) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Document
	for _, d := range m.docs {
		if d.ClaimID == claimID {
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StoragePath < result[j].StoragePath })
	return result, nil
}

// ── Mock CommentRepository ──

type mockCommentRepo struct {
	mu        sync.Mutex
	comments  []model.Comment
	createErr error
}

func newMockCommentRepo() *mockCommentRepo {
	return &mockCommentRepo{}
}

func (m *mockCommentRepo) Create(_ context.Context, comment *model.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.comments = append(m.comments, *comment)
	return nil
}

func (m *mockCommentRepo) ListByClaim(_ context.Context, claimID string) ([]model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Comment
	for _, c := range m.comments {
		if c.ClaimID == claimID {
			result = append(result, c)
		}
	}
	return result, nil
}

// ── Mock LecturerRepository ──

type mockLecturerRepo struct {
	lecturers map[string]*model.Lecturer
}

func newMockLecturerRepo() *mockLecturerRepo {
	return &mockLecturerRepo{lecturers: make(map[string]*model.Lecturer)}
}

func (m *mockLecturerRepo) Create(_ context.Context, lecturer *model.Lecturer) error {
	m.lecturers[lecturer.LecturerID] = lecturer
	return nil
}

func (m *mockLecturerRepo) GetByID(_ context.Context, id string) (*model.Lecturer, error) {
	if l, ok := m.lecturers[id]; ok {
		return l, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockLecturerRepo) GetByEmail(_ context.Context, email string) (*model.Lecturer, error) {
	for _, l := range m.lecturers {
		if strings.EqualFold(l.Email, email) {
			return l, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockLecturerRepo) LockForUpdate(_ context.Context, id string) error {
	if _, ok := m.lecturers[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ── Mock AdminProfileRepository ──

type mockAdminProfileRepo struct {
	profiles map[string]*model.AdminProfile
}

func newMockAdminProfileRepo() *mockAdminProfileRepo {
	return &mockAdminProfileRepo{profiles: make(map[string]*model.AdminProfile)}
}

func (m *mockAdminProfileRepo) Create(_ context.Context, profile *model.AdminProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	m.profiles[strings.ToLower(profile.Email)] = profile
	return nil
}

func (m *mockAdminProfileRepo) GetByEmail(_ context.Context, email string) (*model.AdminProfile, error) {
	if p, ok := m.profiles[strings.ToLower(email)]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock ActivityLogRepository ──

type mockActivityRepo struct {
	mu   sync.Mutex
	logs []model.ActivityLog
	err  error
}

func newMockActivityRepo() *mockActivityRepo {
	return &mockActivityRepo{}
}

func (m *mockActivityRepo) Create(_ context.Context, log *model.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockActivityRepo) ListByClaim(_ context.Context, claimID string, offset, limit int) ([]model.ActivityLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.ActivityLog
	for _, l := range m.logs {
		if l.ClaimID != nil && *l.ClaimID == claimID {
			result = append(result, l)
		}
	}
	total := int64(len(result))
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

// ── 同步审计记录 ──

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingAudit) has(action string) bool {
	for _, a := range r.actions() {
		if a == action {
			return true
		}
	}
	return false
}

// ── 内存存储（可注入故障）──

var errDiskFull = errors.New("disk full")

type memStorage struct {
	mu       sync.Mutex
	files    map[string][]byte
	writes   int
	writeErr error
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte)}
}

func (m *memStorage) Write(ctx context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *memStorage) Read(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memStorage) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	return nil
}

func (m *memStorage) fileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func (m *memStorage) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStorage) failWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}
