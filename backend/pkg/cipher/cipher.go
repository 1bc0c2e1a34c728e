package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Scheme 密文布局，随文档记录持久化，读取时按记录解密
type Scheme string

const (
	// SchemeFixedIV 全局固定 IV，文件内只有密文（历史布局）
	SchemeFixedIV Scheme = "aes-256-cbc"
	// SchemeRandomIV 每个文件随机 IV，写在文件前 16 字节
	SchemeRandomIV Scheme = "aes-256-cbc-riv"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize
)

var (
	ErrInvalidKey     = errors.New("密钥长度必须为 32 字节")
	ErrInvalidIV      = errors.New("IV 长度必须为 16 字节")
	ErrUnknownScheme  = errors.New("未知的加密方案")
	ErrMalformedInput = errors.New("密文格式无效")
)

// Valid 判断是否为已知方案
func (s Scheme) Valid() bool {
	return s == SchemeFixedIV || s == SchemeRandomIV
}

// Cipher AES-256-CBC + PKCS#7
// 实例只读，可被多个 goroutine 共享
type Cipher struct {
	block stdcipher.Block
	iv    []byte
	rand  io.Reader
}

// New 使用启动时构建的密钥材料创建加解密器
func New(km KeyMaterial) (*Cipher, error) {
	if len(km.Key) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(km.IV) != IVSize {
		return nil, ErrInvalidIV
	}
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AES 失败: %w", err)
	}
	iv := make([]byte, IVSize)
	copy(iv, km.IV)
	return &Cipher{block: block, iv: iv, rand: rand.Reader}, nil
}

// Encrypt 按方案加密；空输入同样会得到一个完整的填充块
func (c *Cipher) Encrypt(scheme Scheme, plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, aes.BlockSize)

	switch scheme {
	case SchemeFixedIV:
		out := make([]byte, len(padded))
		stdcipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
		return out, nil
	case SchemeRandomIV:
		out := make([]byte, IVSize+len(padded))
		iv := out[:IVSize]
		if _, err := io.ReadFull(c.rand, iv); err != nil {
			return nil, fmt.Errorf("生成随机 IV 失败: %w", err)
		}
		stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[IVSize:], padded)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// Decrypt 按方案解密并去除填充
func (c *Cipher) Decrypt(scheme Scheme, data []byte) ([]byte, error) {
	var iv, body []byte

	switch scheme {
	case SchemeFixedIV:
		iv, body = c.iv, data
	case SchemeRandomIV:
		if len(data) < IVSize {
			return nil, ErrMalformedInput
		}
		iv, body = data[:IVSize], data[IVSize:]
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, ErrMalformedInput
	}

	out := make([]byte, len(body))
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, body)
	return pkcs7Unpad(out, aes.BlockSize)
}

// ── PKCS#7 ──

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrMalformedInput
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrMalformedInput
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrMalformedInput
		}
	}
	return data[:len(data)-n], nil
}
