package config

import (
	"fmt"
	"time"
)

// DBConfig DHT 键值存储配置
//
// 分散（diversification）阈值是本地策略常量，不是协议要求，
// 各节点可以独立调整。
type DBConfig struct {
	// ShardCount 记录表分片数（2 的幂）
	ShardCount int `json:"shard_count"`

	// MaxValueSize 单个值的最大字节数
	MaxValueSize int `json:"max_value_size"`

	// MaxLookupValues 未指定 max 时单次查询返回的最大值数
	MaxLookupValues int `json:"max_lookup_values"`

	// MaxReplyBytes 非优先查询的回复字节预算
	MaxReplyBytes int `json:"max_reply_bytes"`

	// FrequencyThreshold 窗口内存储次数超过该值即进入频率分散
	FrequencyThreshold int `json:"frequency_threshold"`

	// FrequencyWindow 存储频率滑动窗口
	FrequencyWindow Duration `json:"frequency_window"`

	// MaxIndirectValues 每个键的间接记录数上限
	MaxIndirectValues int `json:"max_indirect_values"`

	// MaxIndirectBytes 每个键的间接记录总字节上限
	MaxIndirectBytes int `json:"max_indirect_bytes"`

	// MaintenanceInterval 维护周期；分散状态至少保持一个周期
	MaintenanceInterval Duration `json:"maintenance_interval"`

	// MaxValueLifetime 远端存储的寿命上限
	MaxValueLifetime Duration `json:"max_value_lifetime"`

	// DefaultValueLifetime ttlHours 为 0 时使用的寿命
	DefaultValueLifetime Duration `json:"default_value_lifetime"`

	// MaxTotalSize 全部远端记录的总字节上限
	MaxTotalSize int64 `json:"max_total_size"`

	// StoreRatePerIP 每个来源 IP 每秒允许的远端存储次数（0 关闭限速）
	StoreRatePerIP float64 `json:"store_rate_per_ip"`

	// StoreBurstPerIP 每个来源 IP 的突发容量
	StoreBurstPerIP int `json:"store_burst_per_ip"`

	// MaxDirectValuesPerIP 每个来源 IP 可持有的直接记录数（0 不限）
	MaxDirectValuesPerIP int `json:"max_direct_values_per_ip"`

	// RepublishInterval 本地发布记录重新发布到近邻的周期
	RepublishInterval Duration `json:"republish_interval"`

	// SleepRepublishInterval 休眠期间的重新发布周期
	SleepRepublishInterval Duration `json:"sleep_republish_interval"`

	// ReplicationFactor 记录未指定复制因子时发布到的近邻数
	ReplicationFactor int `json:"replication_factor"`
}

// DefaultDBConfig 默认存储配置
func DefaultDBConfig() DBConfig {
	return DBConfig{
		ShardCount:           32,
		MaxValueSize:         512,
		MaxLookupValues:      64,
		MaxReplyBytes:        8 << 10,
		FrequencyThreshold:   1000,
		FrequencyWindow:      Duration(10 * time.Minute),
		MaxIndirectValues:    256,
		MaxIndirectBytes:     64 << 10,
		MaintenanceInterval:  Duration(10 * time.Minute),
		MaxValueLifetime:     Duration(72 * time.Hour),
		DefaultValueLifetime: Duration(8 * time.Hour),
		MaxTotalSize:         4 << 20,
		StoreRatePerIP:       0,
		StoreBurstPerIP:      64,
		MaxDirectValuesPerIP: 64,
		RepublishInterval:    Duration(time.Hour),
		ReplicationFactor:    4,

		SleepRepublishInterval: Duration(4 * time.Hour),
	}
}

// Validate 校验
func (c *DBConfig) Validate() error {
	if c.ShardCount <= 0 || c.ShardCount&(c.ShardCount-1) != 0 {
		return fmt.Errorf("db: shard_count must be a positive power of two, got %d", c.ShardCount)
	}
	if c.MaxValueSize <= 0 {
		return fmt.Errorf("db: max_value_size must be positive")
	}
	if c.FrequencyThreshold <= 0 {
		return fmt.Errorf("db: frequency_threshold must be positive")
	}
	if c.FrequencyWindow.Duration() <= 0 || c.MaintenanceInterval.Duration() <= 0 {
		return fmt.Errorf("db: frequency_window and maintenance_interval must be positive")
	}
	if c.MaxIndirectValues <= 0 || c.MaxIndirectBytes <= 0 {
		return fmt.Errorf("db: indirect caps must be positive")
	}
	if c.DefaultValueLifetime.Duration() > c.MaxValueLifetime.Duration() {
		return fmt.Errorf("db: default_value_lifetime exceeds max_value_lifetime")
	}
	if c.StoreRatePerIP < 0 {
		return fmt.Errorf("db: store_rate_per_ip cannot be negative")
	}
	if c.MaxDirectValuesPerIP < 0 {
		return fmt.Errorf("db: max_direct_values_per_ip cannot be negative")
	}
	if c.RepublishInterval.Duration() <= 0 || c.ReplicationFactor <= 0 {
		return fmt.Errorf("db: republish_interval and replication_factor must be positive")
	}
	if c.SleepRepublishInterval.Duration() <= 0 {
		return fmt.Errorf("db: sleep_republish_interval must be positive")
	}
	return nil
}
