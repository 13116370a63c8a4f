package traversal

import (
	"errors"

	"github.com/dep2p/go-dhtdb/config"
)

// Config 协调器配置
type Config struct {
	// Enabled 关闭时所有尝试以 Disabled 结束
	Enabled bool

	// Workers 工作协程数
	Workers int

	// QueueSize 等待队列容量
	QueueSize int
}

// DefaultConfig 默认配置：16 个工作协程，队列 128
func DefaultConfig() Config {
	return Config{Enabled: true, Workers: 16, QueueSize: 128}
}

// ConfigFromUnified 从统一配置读取
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Enabled:   cfg.Traversal.Enabled,
		Workers:   cfg.Traversal.Workers,
		QueueSize: cfg.Traversal.QueueSize,
	}
}

// Validate 校验
func (c *Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return errors.New("traversal: workers and queue size must be positive")
	}
	return nil
}
