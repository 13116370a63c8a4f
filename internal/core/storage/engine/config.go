package engine

import (
	"os"
	"path/filepath"
	"time"
)

// Config 引擎配置
type Config struct {
	// Path 数据目录（必需）
	Path string

	// SyncWrites 同步写入
	SyncWrites bool

	// MemTableSize 内存表大小
	MemTableSize int64

	// BlockCacheSize 块缓存大小
	BlockCacheSize int64

	// GCInterval 值日志 GC 间隔（0 关闭）
	GCInterval time.Duration

	// GCDiscardRatio 值日志 GC 丢弃比例
	GCDiscardRatio float64
}

// DefaultConfig 默认配置
//
// 封禁记录与引导数据量很小，缓存按小规模设置。
func DefaultConfig(path string) *Config {
	return &Config{
		Path:           path,
		MemTableSize:   16 << 20,
		BlockCacheSize: 32 << 20,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Validate 校验
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrInvalidConfig
	}
	if c.MemTableSize < 1<<20 {
		return ErrInvalidConfig
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		c.GCDiscardRatio = 0.5
	}
	return nil
}

// EnsureDir 创建数据目录并将路径转为绝对路径
func (c *Config) EnsureDir() error {
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = abs
	return os.MkdirAll(c.Path, 0o755)
}
