// Package storage 文档字节的持久化后端，路径一律为相对存储根的正斜杠路径
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrNotFound    = errors.New("对象不存在")
	ErrInvalidPath = errors.New("存储路径无效")
)

// Storage 字节存储接口
type Storage interface {
	// Write 写入（覆盖）path 处的内容，必要时创建目录
	Write(ctx context.Context, p string, data []byte) error
	// Read 读取 path 处的全部内容
	Read(ctx context.Context, p string) ([]byte, error)
	// Delete 删除 path；不存在时返回 nil
	Delete(ctx context.Context, p string) error
}

// CleanPath 规范化相对路径，拒绝绝对路径与越界的 ..
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
