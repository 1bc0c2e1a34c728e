package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ccms/backend/config"
	"ccms/backend/internal/model"
	"ccms/backend/pkg/cipher"
	"ccms/backend/pkg/storage"
	"ccms/backend/pkg/telemetry"
)

// ErrDocumentMissing 元数据存在但存储中找不到文件
var ErrDocumentMissing = errors.New("文档文件不存在")

// Upload 待入库的上传文件
type Upload struct {
	Filename string
	Size     int64 // 客户端声明的大小，读取时再次校验
	Content  io.Reader
}

// StoredFile 入库结果，用于生成 Document 记录
type StoredFile struct {
	Path         string
	OriginalName string
	DocType      string
	Size         int64
	Scheme       cipher.Scheme
	UploadedAt   time.Time
}

// DocumentVault 加密文档库
// 写入：校验 → 生成唯一路径 → 写明文 → 原地加密；加密失败删除文件
type DocumentVault struct {
	store   storage.Storage
	cipher  *cipher.Cipher
	scheme  cipher.Scheme
	maxSize int64
	allowed map[string]bool
	timeout time.Duration
	sem     *semaphore.Weighted
	now     func() time.Time
	logger  *zap.Logger
}

// NewDocumentVault 创建文档库
func NewDocumentVault(cfg *config.VaultConfig, store storage.Storage, c *cipher.Cipher, logger *zap.Logger) *DocumentVault {
	scheme := cipher.SchemeRandomIV
	if cfg.IVMode == "fixed" {
		scheme = cipher.SchemeFixedIV
	}
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	workers := cfg.CipherWorkers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DocumentVault{
		store:   store,
		cipher:  c,
		scheme:  scheme,
		maxSize: cfg.MaxFileSize,
		allowed: allowed,
		timeout: timeout,
		sem:     semaphore.NewWeighted(workers),
		now:     time.Now,
		logger:  logger,
	}
}

// Validate 只看文件名与声明大小，不读取内容
func (v *DocumentVault) Validate(u Upload) []string {
	var reasons []string
	name := SanitizeFilename(u.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !v.allowed[ext] {
		reasons = append(reasons, fmt.Sprintf("文件 %s 类型不允许，仅支持 %s", name, v.allowedList()))
	}
	if u.Size <= 0 {
		reasons = append(reasons, fmt.Sprintf("文件 %s 为空", name))
	} else if u.Size > v.maxSize {
		reasons = append(reasons, fmt.Sprintf("文件 %s 超过大小上限 %d MB", name, v.maxSize>>20))
	}
	return reasons
}

func (v *DocumentVault) allowedList() string {
	exts := make([]string, 0, len(v.allowed))
	for ext := range v.allowed {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return strings.Join(exts, "/")
}

// Store 将上传文件加密写入 uploads/<claimID>/ 下
func (v *DocumentVault) Store(ctx context.Context, claimID string, u Upload) (*StoredFile, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "vault.Store")
	defer span.End()
	span.SetAttributes(attribute.String("claim.id", claimID))

	if reasons := v.Validate(u); len(reasons) > 0 {
		return nil, newValidationError(reasons...)
	}

	plaintext, err := io.ReadAll(io.LimitReader(u.Content, v.maxSize+1))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: 读取上传内容: %w", ErrStorageFailure, err)
	}
	original := SanitizeFilename(u.Filename)
	switch {
	case len(plaintext) == 0:
		return nil, newValidationError(fmt.Sprintf("文件 %s 为空", original))
	case int64(len(plaintext)) > v.maxSize:
		return nil, newValidationError(fmt.Sprintf("文件 %s 超过大小上限 %d MB", original, v.maxSize>>20))
	}

	now := v.now()
	ext := strings.ToLower(filepath.Ext(original))
	name := now.Format("20060102150405") + "_" + ulid.Make().String() + ext
	rel := path.Join("uploads", claimID, name)

	opCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := v.store.Write(opCtx, rel, plaintext); err != nil {
		v.cleanup(rel)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return nil, fmt.Errorf("%w: 写入文件: %w", ErrStorageFailure, err)
	}

	ciphertext, err := v.encrypt(opCtx, plaintext)
	if err == nil {
		err = v.store.Write(opCtx, rel, ciphertext)
	}
	if err != nil {
		// 不允许留下未加密的文件
		v.cleanup(rel)
		span.RecordError(err)
		span.SetStatus(codes.Error, "encrypt failed")
		v.logger.Error("文档加密失败，已删除明文",
			zap.String("claim_id", claimID),
			zap.String("path", rel),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: 加密文件: %w", ErrStorageFailure, err)
	}

	return &StoredFile{
		Path:         rel,
		OriginalName: original,
		DocType:      strings.TrimPrefix(ext, "."),
		Size:         int64(len(plaintext)),
		Scheme:       v.scheme,
		UploadedAt:   now,
	}, nil
}

// Open 读取并按文档记录的方案解密，返回明文与 Content-Type
func (v *DocumentVault) Open(ctx context.Context, doc *model.Document) ([]byte, string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "vault.Open")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", doc.DocumentID))

	opCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	data, err := v.store.Read(opCtx, doc.StoragePath)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrDocumentMissing
		}
		return nil, "", fmt.Errorf("%w: 读取文件: %w", ErrStorageFailure, err)
	}

	if err := v.sem.Acquire(opCtx, 1); err != nil {
		return nil, "", fmt.Errorf("%w: 等待解密: %w", ErrStorageFailure, err)
	}
	plaintext, err := v.cipher.Decrypt(cipher.Scheme(doc.CipherScheme), data)
	v.sem.Release(1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decrypt failed")
		return nil, "", fmt.Errorf("%w: 解密文件: %w", ErrStorageFailure, err)
	}

	return plaintext, ContentTypeFor(doc.DocType), nil
}

// Remove 删除已写入的文件（回滚 / 取消时调用）
func (v *DocumentVault) Remove(ctx context.Context, p string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
	defer cancel()
	return v.store.Delete(ctx, p)
}

func (v *DocumentVault) encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer v.sem.Release(1)
	return v.cipher.Encrypt(v.scheme, plaintext)
}

// cleanup 与请求上下文无关，超时或取消后也要删干净
func (v *DocumentVault) cleanup(p string) {
	if err := v.Remove(context.Background(), p); err != nil {
		v.logger.Error("清理文档失败", zap.String("path", p), zap.Error(err))
	}
}

// ContentTypeFor 按文档类型给出 Content-Type，未知类型回落为 octet-stream
func ContentTypeFor(docType string) string {
	switch strings.ToLower(strings.TrimPrefix(docType, ".")) {
	case "pdf":
		return "application/pdf"
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "xls":
		return "application/vnd.ms-excel"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
