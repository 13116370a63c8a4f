package dhtdb

import (
	"errors"
	"time"

	"github.com/dep2p/go-dhtdb/config"
)

// Config 存储配置
//
// 分散相关的阈值都是本地策略，不影响线路协议。
type Config struct {
	ShardCount      int
	MaxValueSize    int
	MaxLookupValues int
	MaxReplyBytes   int

	FrequencyThreshold int
	FrequencyWindow    time.Duration

	MaxIndirectValues int
	MaxIndirectBytes  int

	MaintenanceInterval time.Duration

	MaxValueLifetime     time.Duration
	DefaultValueLifetime time.Duration
	MaxTotalSize         int64

	// StoreRatePerIP 为 0 时不限速
	StoreRatePerIP  float64
	StoreBurstPerIP int

	// LimiterCacheSize 保留限速器的来源 IP 数
	LimiterCacheSize int

	// MaxDirectValuesPerIP 每个来源 IP 的直接记录上限，0 表示不限
	MaxDirectValuesPerIP int

	RepublishInterval      time.Duration
	SleepRepublishInterval time.Duration
	ReplicationFactor      int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return fromDB(config.DefaultDBConfig())
}

// ConfigFromUnified 从统一配置读取
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return fromDB(cfg.DB)
}

func fromDB(db config.DBConfig) Config {
	return Config{
		ShardCount:           db.ShardCount,
		MaxValueSize:         db.MaxValueSize,
		MaxLookupValues:      db.MaxLookupValues,
		MaxReplyBytes:        db.MaxReplyBytes,
		FrequencyThreshold:   db.FrequencyThreshold,
		FrequencyWindow:      db.FrequencyWindow.Duration(),
		MaxIndirectValues:    db.MaxIndirectValues,
		MaxIndirectBytes:     db.MaxIndirectBytes,
		MaintenanceInterval:  db.MaintenanceInterval.Duration(),
		MaxValueLifetime:     db.MaxValueLifetime.Duration(),
		DefaultValueLifetime: db.DefaultValueLifetime.Duration(),
		MaxTotalSize:         db.MaxTotalSize,
		StoreRatePerIP:       db.StoreRatePerIP,
		StoreBurstPerIP:      db.StoreBurstPerIP,
		LimiterCacheSize:     4096,
		MaxDirectValuesPerIP: db.MaxDirectValuesPerIP,
		RepublishInterval:    db.RepublishInterval.Duration(),
		ReplicationFactor:    db.ReplicationFactor,

		SleepRepublishInterval: db.SleepRepublishInterval.Duration(),
	}
}

// Validate 校验
func (c *Config) Validate() error {
	if c.ShardCount <= 0 || c.ShardCount&(c.ShardCount-1) != 0 {
		return errors.New("dhtdb: shard count must be a positive power of two")
	}
	if c.MaxValueSize <= 0 || c.MaxLookupValues <= 0 || c.MaxReplyBytes <= 0 {
		return errors.New("dhtdb: value and reply limits must be positive")
	}
	if c.FrequencyThreshold <= 0 || c.FrequencyWindow <= 0 {
		return errors.New("dhtdb: frequency policy must be positive")
	}
	if c.MaxIndirectValues <= 0 || c.MaxIndirectBytes <= 0 {
		return errors.New("dhtdb: indirect caps must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return errors.New("dhtdb: maintenance interval must be positive")
	}
	if c.DefaultValueLifetime <= 0 || c.DefaultValueLifetime > c.MaxValueLifetime {
		return errors.New("dhtdb: bad value lifetime")
	}
	if c.MaxTotalSize <= 0 {
		return errors.New("dhtdb: max total size must be positive")
	}
	if c.StoreRatePerIP < 0 || c.MaxDirectValuesPerIP < 0 {
		return errors.New("dhtdb: negative per-ip limit")
	}
	if c.RepublishInterval <= 0 || c.SleepRepublishInterval <= 0 || c.ReplicationFactor <= 0 {
		return errors.New("dhtdb: republish policy must be positive")
	}
	return nil
}

// lifetime 由寿命小时数计算有效寿命并截断到上限
func (c *Config) lifetime(hours byte) time.Duration {
	d := c.DefaultValueLifetime
	if hours > 0 {
		d = time.Duration(hours) * time.Hour
	}
	if d > c.MaxValueLifetime {
		d = c.MaxValueLifetime
	}
	return d
}
