package config

import (
	"fmt"
	"strings"
)

// LogConfig 日志配置
//
// 环境变量 DHTDB_LOG_LEVEL / DHTDB_LOG_FORMAT 优先于此处的值。
type LogConfig struct {
	// Level 级别规格，如 "info" 或 "dhtdb=debug,info"
	Level string `json:"level"`

	// Format text 或 json
	Format string `json:"format"`
}

// DefaultLogConfig 默认配置
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}

// Validate 校验
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("log: unknown format %q", c.Format)
	}
}
