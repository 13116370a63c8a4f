// Package config 提供 dhtdb 的统一配置
//
// 主 Config 聚合各组件的子配置，每个子配置位于独立文件：
//   - DB:        键值存储与分散策略（db.go）
//   - Blocks:    键封禁登记表（blocks.go）
//   - Transport: 联系人层与 QUIC 传输（transport.go）
//   - Traversal: NAT 穿透协调器（traversal.go）
//   - Storage:   BadgerDB 数据目录（storage.go）
//   - Metrics:   Prometheus 指标（metrics.go）
//   - Log:       日志级别与格式（log.go）
//
// 使用示例：
//
//	cfg, err := config.LoadFile("dhtdb.json")
//	if err != nil {
//	    return err
//	}
//	cfg.Transport.ListenAddr = "0.0.0.0:6881"
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 完整配置
type Config struct {
	DB        DBConfig        `json:"db"`
	Blocks    BlocksConfig    `json:"blocks"`
	Transport TransportConfig `json:"transport"`
	Traversal TraversalConfig `json:"traversal"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		DB:        DefaultDBConfig(),
		Blocks:    DefaultBlocksConfig(),
		Transport: DefaultTransportConfig(),
		Traversal: DefaultTraversalConfig(),
		Storage:   DefaultStorageConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Validate 依次校验各子配置
func (c *Config) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.Blocks.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Traversal.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// FromJSON 在默认配置之上解析 JSON
//
// 未出现的字段保持默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadFile 读取并校验配置文件
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON 序列化为缩进 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
