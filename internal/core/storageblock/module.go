package storageblock

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
	"github.com/dep2p/go-dhtdb/internal/core/storage/kv"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// Params 依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config               `optional:"true"`
	Engine     engine.Engine                `optional:"true"`
	Verifier   interfaces.SignatureVerifier `optional:"true"`
	Clock      clock.Clock                  `optional:"true"`
}

// Module 登记表 Fx 模块
//
// 宿主提供的 SignatureVerifier 优先于配置中的公钥。
func Module() fx.Option {
	return fx.Module("storageblock",
		fx.Provide(ProvideRegistry),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideRegistry 创建登记表
func ProvideRegistry(p Params) (*Registry, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	verifier := p.Verifier
	if verifier == nil {
		verifier = cfg.Verifier()
	}
	if verifier == nil {
		log.Warn("未配置签名公钥，所有封禁请求将被拒绝")
	}
	var store *kv.Store
	if p.Engine != nil {
		store = kv.New(p.Engine, []byte("b/"))
	}
	return New(cfg, verifier, store, p.Clock), nil
}

func registerLifecycle(lc fx.Lifecycle, r *Registry) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return r.Load()
		},
	})
}
