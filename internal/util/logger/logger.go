// Package logger 提供 dhtdb 的统一日志系统
//
// 基于标准库 log/slog，支持按子系统配置日志级别：
//
//	var logger = logger.Logger("dhtdb")
//
//	logger.Info("key diversified", "key", key, "type", div)
//
// 环境变量:
//
//	# 所有模块 info，dhtdb 模块 debug
//	DHTDB_LOG_LEVEL=dhtdb=debug,info
//
//	# JSON 输出
//	DHTDB_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	mu       sync.Mutex
	loggers  = make(map[string]*slog.Logger)
	handlers = make(map[string]*subsystemHandler)
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用返回相同实例。
func Logger(subsystem string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[subsystem]; ok {
		return l
	}

	cfg := ConfigFromEnv()
	h := newHandler(subsystem, cfg.LevelForSubsystem(subsystem), cfg)
	l := slog.New(h)
	loggers[subsystem] = l
	handlers[subsystem] = h
	return l
}

// Apply 应用日志配置
//
// 级别立即作用于已创建的 Logger；格式只影响之后新建的 Logger。
func Apply(cfg *Config) {
	configMu.Lock()
	configCache = cfg
	configMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	for name, h := range handlers {
		h.level.Set(cfg.LevelForSubsystem(name))
	}
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	if h, ok := handlers[subsystem]; ok {
		h.level.Set(level)
	}
}

// SetOutput 设置全局日志输出目标
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}

// Discard 返回丢弃所有日志的 Logger，用于测试
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}
