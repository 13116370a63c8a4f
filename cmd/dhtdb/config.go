package main

import (
	"os"
	"strings"

	"github.com/dep2p/go-dhtdb/config"
)

// 环境变量前缀
const envPrefix = "DHTDB_"

// applyEnvOverrides 应用环境变量覆盖配置
//
// 支持的环境变量：
//   - DHTDB_LISTEN_ADDR: 监听地址
//   - DHTDB_ADVERTISE_ADDR: 公布地址
//   - DHTDB_BOOTSTRAP: 引导节点（逗号分隔）
//   - DHTDB_DATA_DIR: 数据目录
//   - DHTDB_ENABLE_TRAVERSAL: 启用 NAT 穿透
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + "LISTEN_ADDR"); v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v := os.Getenv(envPrefix + "ADVERTISE_ADDR"); v != "" {
		cfg.Transport.AdvertiseAddr = v
	}
	if v := os.Getenv(envPrefix + "BOOTSTRAP"); v != "" {
		cfg.Transport.Bootstrap = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(envPrefix + "ENABLE_TRAVERSAL"); v != "" {
		cfg.Traversal.Enabled = parseBool(v)
	}
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
