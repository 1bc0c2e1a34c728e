package service

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ccms/backend/config"
	"ccms/backend/internal/model"
	"ccms/backend/pkg/cipher"
)

var storedNamePattern = regexp.MustCompile(`^uploads/c1/20260320100000_[0-9A-HJKMNP-TV-Z]{26}\.pdf$`)

func docFrom(sf *StoredFile) *model.Document {
	return &model.Document{
		DocumentID:   "doc-1",
		ClaimID:      "c1",
		OriginalName: sf.OriginalName,
		StoragePath:  sf.Path,
		DocType:      sf.DocType,
		SizeBytes:    sf.Size,
		CipherScheme: string(sf.Scheme),
	}
}

func TestVault_StoreOpen_RoundTrip(t *testing.T) {
	store := newMemStorage()
	v := newTestVault(t, store)
	ctx := context.Background()
	content := "%PDF-1.4 overtime timesheet"

	sf, err := v.Store(ctx, "c1", upload("Timesheet March.pdf", content))
	if err != nil {
		t.Fatalf("Store 应成功: %v", err)
	}
	if !storedNamePattern.MatchString(sf.Path) {
		t.Errorf("存储路径格式不符: %s", sf.Path)
	}
	if sf.Scheme != cipher.SchemeRandomIV || sf.DocType != "pdf" || sf.Size != int64(len(content)) {
		t.Errorf("入库结果不符: %+v", sf)
	}

	raw := store.files[sf.Path]
	if bytes.Contains(raw, []byte("overtime")) {
		t.Fatal("存储内容不应包含明文")
	}
	if len(raw) != cipher.IVSize+32 {
		t.Errorf("随机 IV 方案应为 IV + 两个分组，实际长度=%d", len(raw))
	}

	data, contentType, err := v.Open(ctx, docFrom(sf))
	if err != nil {
		t.Fatalf("Open 应成功: %v", err)
	}
	if string(data) != content || contentType != "application/pdf" {
		t.Errorf("读取结果不符: %q %s", data, contentType)
	}
}

func TestVault_UniqueNames(t *testing.T) {
	v := newTestVault(t, newMemStorage())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sf, err := v.Store(context.Background(), "c1", upload("a.pdf", "x"))
		if err != nil {
			t.Fatalf("Store 应成功: %v", err)
		}
		if seen[sf.Path] {
			t.Fatalf("同一秒内的文件名不应重复: %s", sf.Path)
		}
		seen[sf.Path] = true
	}
}

func TestVault_HonoursRecordedScheme(t *testing.T) {
	store := newMemStorage()
	km, _ := cipher.GenerateKeyMaterial()
	c, _ := cipher.New(km)
	cfg := func(mode string) *config.VaultConfig {
		return &config.VaultConfig{
			IVMode:            mode,
			MaxFileSize:       1 << 20,
			AllowedExtensions: []string{"pdf"},
			OperationTimeout:  time.Second,
			CipherWorkers:     1,
		}
	}
	legacy := NewDocumentVault(cfg("fixed"), store, c, zap.NewNop())
	current := NewDocumentVault(cfg("per_file"), store, c, zap.NewNop())

	sf, err := legacy.Store(context.Background(), "c1", upload("old.pdf", "legacy layout"))
	if err != nil {
		t.Fatalf("Store 应成功: %v", err)
	}
	if sf.Scheme != cipher.SchemeFixedIV {
		t.Fatalf("fixed 模式应使用固定 IV，实际=%s", sf.Scheme)
	}

	data, _, err := current.Open(context.Background(), docFrom(sf))
	if err != nil || string(data) != "legacy layout" {
		t.Errorf("应按文档记录的方案解密: %q %v", data, err)
	}
}

func TestVault_RejectsInvalidUploads(t *testing.T) {
	v := newTestVault(t, newMemStorage())
	v.maxSize = 8
	tests := []struct {
		name string
		u    Upload
	}{
		{"类型不允许", upload("script.exe", "MZ")},
		{"声明为空", Upload{Filename: "a.pdf", Size: 0, Content: strings.NewReader("")}},
		{"声明超限", upload("a.pdf", "0123456789")},
		{"实际超限", Upload{Filename: "a.pdf", Size: 4, Content: strings.NewReader("0123456789abcdef")}},
		{"实际为空", Upload{Filename: "a.pdf", Size: 4, Content: strings.NewReader("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStorage()
			v.store = store
			_, err := v.Store(context.Background(), "c1", tt.u)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("期望 ValidationError，实际=%v", err)
			}
			if store.writeCount() != 0 {
				t.Error("校验失败不应写入存储")
			}
		})
	}
}

// secondWriteFails 明文写入成功、密文覆盖失败
type secondWriteFails struct {
	*memStorage
	n int
}

func (s *secondWriteFails) Write(ctx context.Context, p string, data []byte) error {
	s.n++
	if s.n == 2 {
		return errDiskFull
	}
	return s.memStorage.Write(ctx, p, data)
}

func TestVault_NoPlaintextLeftOnEncryptFailure(t *testing.T) {
	store := &secondWriteFails{memStorage: newMemStorage()}
	v := newTestVault(t, store)

	_, err := v.Store(context.Background(), "c1", upload("a.pdf", "secret"))
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("期望 ErrStorageFailure，实际=%v", err)
	}
	if store.fileCount() != 0 {
		t.Error("加密失败后不应保留明文文件")
	}
}

func TestVault_Open_Missing(t *testing.T) {
	v := newTestVault(t, newMemStorage())
	doc := &model.Document{StoragePath: "uploads/c1/gone.pdf", DocType: "pdf", CipherScheme: string(cipher.SchemeRandomIV)}

	if _, _, err := v.Open(context.Background(), doc); !errors.Is(err, ErrDocumentMissing) {
		t.Errorf("期望 ErrDocumentMissing，实际=%v", err)
	}
}

func TestVault_Open_Tampered(t *testing.T) {
	store := newMemStorage()
	v := newTestVault(t, store)
	sf, err := v.Store(context.Background(), "c1", upload("a.pdf", "secret"))
	if err != nil {
		t.Fatalf("Store 应成功: %v", err)
	}
	store.files[sf.Path] = []byte("not a ciphertext")

	if _, _, err := v.Open(context.Background(), docFrom(sf)); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("期望 ErrStorageFailure，实际=%v", err)
	}
}

func TestVault_Remove(t *testing.T) {
	store := newMemStorage()
	v := newTestVault(t, store)
	sf, _ := v.Store(context.Background(), "c1", upload("a.pdf", "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.Remove(ctx, sf.Path); err != nil {
		t.Fatalf("Remove 不应受请求取消影响: %v", err)
	}
	if store.fileCount() != 0 {
		t.Error("文件应被删除")
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"pdf":   "application/pdf",
		"PDF":   "application/pdf",
		"doc":   "application/msword",
		"docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"xls":   "application/vnd.ms-excel",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"png":   "application/octet-stream",
		"":      "application/octet-stream",
	}
	for in, want := range tests {
		if got := ContentTypeFor(in); got != want {
			t.Errorf("ContentTypeFor(%q)=%s，期望 %s", in, got, want)
		}
	}
}
