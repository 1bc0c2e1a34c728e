package cipher

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// KeyMaterial 部署级密钥与 IV
// 启动时构建一次，显式传入 New，不做全局单例
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// GenerateKeyMaterial 生成新的随机密钥与 IV
func GenerateKeyMaterial() (KeyMaterial, error) {
	km := KeyMaterial{Key: make([]byte, KeySize), IV: make([]byte, IVSize)}
	if _, err := rand.Read(km.Key); err != nil {
		return KeyMaterial{}, fmt.Errorf("生成密钥失败: %w", err)
	}
	if _, err := rand.Read(km.IV); err != nil {
		return KeyMaterial{}, fmt.Errorf("生成 IV 失败: %w", err)
	}
	return km, nil
}

// ParseKeyMaterial 解析 base64 编码的密钥与 IV
func ParseKeyMaterial(keyB64, ivB64 string) (KeyMaterial, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("解析密钥失败: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ivB64))
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("解析 IV 失败: %w", err)
	}
	if len(key) != KeySize {
		return KeyMaterial{}, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return KeyMaterial{}, ErrInvalidIV
	}
	return KeyMaterial{Key: key, IV: iv}, nil
}

// LoadOrCreateKeyFile 从密钥文件读取；文件不存在时生成并写入
// 文件格式为两行 base64：第一行密钥，第二行 IV
// created 为 true 表示本次新生成
func LoadOrCreateKeyFile(path string) (km KeyMaterial, created bool, err error) {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		var lines []string
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := sc.Err(); err != nil {
			return KeyMaterial{}, false, fmt.Errorf("读取密钥文件失败: %w", err)
		}
		if len(lines) < 2 {
			return KeyMaterial{}, false, fmt.Errorf("密钥文件 %s 格式无效", path)
		}
		km, err := ParseKeyMaterial(lines[0], lines[1])
		return km, false, err
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return KeyMaterial{}, false, fmt.Errorf("打开密钥文件失败: %w", err)
	}

	km, err = GenerateKeyMaterial()
	if err != nil {
		return KeyMaterial{}, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return KeyMaterial{}, false, fmt.Errorf("创建密钥目录失败: %w", err)
	}
	content := base64.StdEncoding.EncodeToString(km.Key) + "\n" + base64.StdEncoding.EncodeToString(km.IV) + "\n"

	// 先写完临时文件再硬链接到目标路径，读者不会看到半写入的密钥文件
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return KeyMaterial{}, false, fmt.Errorf("写入密钥文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return KeyMaterial{}, false, fmt.Errorf("写入密钥文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return KeyMaterial{}, false, fmt.Errorf("写入密钥文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return KeyMaterial{}, false, fmt.Errorf("写入密钥文件失败: %w", err)
	}

	// Link 不覆盖已有文件：并发首启时以先链接者为准
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return LoadOrCreateKeyFile(path)
		}
		return KeyMaterial{}, false, fmt.Errorf("写入密钥文件失败: %w", err)
	}
	return km, true, nil
}
