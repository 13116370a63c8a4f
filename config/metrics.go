package config

import (
	"fmt"
	"net"
	"time"
)

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
	Namespace  string `json:"namespace"`

	// SnapshotInterval 周期性输出统计快照日志的间隔（0 关闭）
	SnapshotInterval Duration `json:"snapshot_interval"`
}

// DefaultMetricsConfig 默认配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    false,
		ListenAddr: "127.0.0.1:9464",
		Namespace:  "dhtdb",

		SnapshotInterval: Duration(time.Minute),
	}
}

// Validate 校验
func (c *MetricsConfig) Validate() error {
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("metrics: snapshot_interval cannot be negative")
	}
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("metrics: listen_addr: %w", err)
	}
	if c.Namespace == "" {
		return fmt.Errorf("metrics: namespace cannot be empty")
	}
	return nil
}
