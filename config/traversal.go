package config

import (
	"fmt"
	"time"
)

// TraversalConfig NAT 穿透配置
type TraversalConfig struct {
	// Enabled 是否启用打洞服务；关闭时所有尝试以 Disabled 结束
	Enabled bool `json:"enabled"`

	// Workers 并发执行的尝试数
	Workers int `json:"workers"`

	// QueueSize 等待队列容量
	QueueSize int `json:"queue_size"`

	// BindingTTL 会合节点保存绑定的时长
	BindingTTL Duration `json:"binding_ttl"`

	// MaxBindings 会合节点最多保存的绑定数
	MaxBindings int `json:"max_bindings"`

	// RebindInterval 目标节点重新绑定会合节点的间隔
	RebindInterval Duration `json:"rebind_interval"`
}

// DefaultTraversalConfig 默认配置
func DefaultTraversalConfig() TraversalConfig {
	return TraversalConfig{
		Enabled:        true,
		Workers:        16,
		QueueSize:      128,
		BindingTTL:     Duration(10 * time.Minute),
		MaxBindings:    4096,
		RebindInterval: Duration(5 * time.Minute),
	}
}

// Validate 校验
func (c *TraversalConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("traversal: workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("traversal: queue_size must be positive")
	}
	if c.BindingTTL.Duration() <= 0 || c.MaxBindings <= 0 {
		return fmt.Errorf("traversal: binding table must be bounded")
	}
	return nil
}
