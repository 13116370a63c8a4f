package storageblock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest 封禁请求格式错误、过期或与键不符
	ErrInvalidRequest = errors.New("storageblock: invalid block request")

	// ErrInvalidSignature 签名校验失败
	ErrInvalidSignature = errors.New("storageblock: invalid signature")

	// ErrNotBlocked 键未被封禁
	ErrNotBlocked = errors.New("storageblock: key not blocked")
)

// BlockError 带操作上下文的错误
type BlockError struct {
	Op  string
	Key string
	Err error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("storageblock: %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap 实现 errors.Unwrap
func (e *BlockError) Unwrap() error { return e.Err }
