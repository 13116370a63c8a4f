package storage

import "github.com/dep2p/go-dhtdb/internal/core/storage/engine"

// 重导出 engine 错误
var (
	ErrNotFound      = engine.ErrNotFound
	ErrClosed        = engine.ErrClosed
	ErrInvalidConfig = engine.ErrInvalidConfig

	IsNotFound = engine.IsNotFound
)
