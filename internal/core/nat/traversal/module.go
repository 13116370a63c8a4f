package traversal

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
)

// Params 协调器依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
}

// Module 穿透协调器 Fx 模块
//
// 打洞器由 puncher 模块通过 SetResolver 提供。
func Module() fx.Option {
	return fx.Module("nat.traversal",
		fx.Provide(ProvideCoordinator),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideCoordinator 创建协调器
func ProvideCoordinator(p Params) (*Coordinator, error) {
	return New(ConfigFromUnified(p.UnifiedCfg), nil, p.Clock)
}

func registerLifecycle(lc fx.Lifecycle, c *Coordinator) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			return c.Close()
		},
	})
}
