// Package storage 提供 BadgerDB 持久化与按前缀隔离的 KV 视图
package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
	"github.com/dep2p/go-dhtdb/internal/core/storage/engine/badger"
	"github.com/dep2p/go-dhtdb/internal/core/storage/kv"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
)

var log = logger.Logger("storage")

// Params 依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 输出
type Result struct {
	fx.Out

	Engine engine.Engine
}

// Module 存储 Fx 模块
//
// 提供 engine.Engine；OnStart 启动 GC，OnStop 关闭数据库。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 打开存储引擎
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Engine: eng}, nil
}

func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				log.Error("存储引擎启动失败", "error", err)
				return err
			}
			log.Info("存储引擎已启动")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				log.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			log.Info("存储引擎已关闭")
			return nil
		},
	})
}

// NewEngine 按配置创建 badger 引擎
func NewEngine(cfg Config) (engine.Engine, error) {
	log.Debug("打开存储引擎", "path", cfg.Path)
	eng, err := badger.New(cfg.engineConfig())
	if err != nil {
		log.Error("打开存储引擎失败", "path", cfg.Path, "error", err)
		return nil, err
	}
	return eng, nil
}

// New 在 path 打开默认配置的引擎
func New(path string) (engine.Engine, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return NewEngine(cfg)
}

// NewKVStore 创建前缀视图
func NewKVStore(eng engine.Engine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}
