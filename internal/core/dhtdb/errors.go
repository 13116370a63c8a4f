package dhtdb

import (
	"errors"
	"fmt"
)

var (
	// ErrBlocked 键已被封禁
	ErrBlocked = errors.New("dhtdb: key blocked")

	// ErrInvalidBlockRequest 封禁请求格式错误或签名无效
	ErrInvalidBlockRequest = errors.New("dhtdb: invalid key block request")

	// ErrDestroyed 存储已销毁
	ErrDestroyed = errors.New("dhtdb: destroyed")

	// ErrRateLimited 来源 IP 存储过于频繁
	ErrRateLimited = errors.New("dhtdb: store rate limited")

	// ErrTooManyValues 来源 IP 持有的直接记录已达上限
	ErrTooManyValues = errors.New("dhtdb: too many values from address")

	// ErrInvalidValue 值为空键或超过长度上限
	ErrInvalidValue = errors.New("dhtdb: invalid value")
)

// DBError 带操作上下文的错误
type DBError struct {
	Op  string
	Key string
	Err error
}

func (e *DBError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("dhtdb: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dhtdb: %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap 实现 errors.Unwrap
func (e *DBError) Unwrap() error { return e.Err }

func opErr(op, key string, err error) error {
	return &DBError{Op: op, Key: key, Err: err}
}
