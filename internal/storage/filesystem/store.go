// Package filesystem 提供附件内容的文件存储。
// 按 SHA-256 内容寻址：相同内容只存一份，路径由哈希派生，
// 台账只记录相对路径和哈希。
package filesystem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore 内容寻址的附件存储
type BlobStore struct {
	root string
}

// NewBlobStore 创建附件存储，确保根目录存在。
func NewBlobStore(root string) (*BlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// Save 写入内容，返回相对存储路径和 SHA-256 哈希（十六进制）。
// 相同内容重复写入是无操作，返回同一路径。
func (s *BlobStore) Save(content []byte) (path string, hash string, err error) {
	sum := sha256.Sum256(content)
	hash = hex.EncodeToString(sum[:])
	path = filepath.Join(hash[:2], hash[2:4], hash)

	full := filepath.Join(s.root, path)
	if _, err := os.Stat(full); err == nil {
		return path, hash, nil // 已存在，内容寻址保证一致
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", "", fmt.Errorf("create blob dir: %w", err)
	}

	// 先写临时文件再重命名，避免读到写了一半的内容
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("rename blob: %w", err)
	}
	return path, hash, nil
}

// Open 按相对路径读取内容。路径必须位于存储根目录内。
func (s *BlobStore) Open(path string) ([]byte, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid blob path: %q", path)
	}
	content, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return content, nil
}
