package storage

import (
	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
)

// Config 存储模块配置
type Config struct {
	Path       string
	SyncWrites bool
	Engine     *engine.Config
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{Path: "./data/dhtdb.db"}
}

// ConfigFromUnified 从统一配置读取
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Path = cfg.Storage.DBPath()
	c.SyncWrites = cfg.Storage.SyncWrites
	c.Engine = engine.DefaultConfig(c.Path)
	c.Engine.SyncWrites = c.SyncWrites
	c.Engine.GCInterval = cfg.Storage.GCInterval.Duration()
	return c
}

// Validate 校验
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrInvalidConfig
	}
	return nil
}

// engineConfig 生成引擎配置
func (c *Config) engineConfig() *engine.Config {
	if c.Engine != nil {
		ec := *c.Engine
		ec.Path = c.Path
		return &ec
	}
	ec := engine.DefaultConfig(c.Path)
	ec.SyncWrites = c.SyncWrites
	return ec
}
