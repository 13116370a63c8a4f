package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// StorageConfig 持久化配置
//
// 目前只有键封禁记录落盘，值记录仅在内存中。
//
//	${DataDir}/
//	└── dhtdb.db/    # BadgerDB
type StorageConfig struct {
	// DataDir 数据目录
	DataDir string `json:"data_dir"`

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool `json:"sync_writes"`

	// GCInterval 值日志 GC 间隔（0 关闭）
	GCInterval Duration `json:"gc_interval"`
}

// DefaultStorageConfig 默认配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:    "./data",
		GCInterval: Duration(10 * time.Minute),
	}
}

// Validate 校验
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("storage: data_dir cannot be empty")
	}
	return nil
}

// DBPath BadgerDB 目录
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "dhtdb.db")
}
