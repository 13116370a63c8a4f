package puncher

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// ConfigFromUnified 从统一配置读取
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.BindingTTL = cfg.Traversal.BindingTTL.Duration()
	c.MaxBindings = cfg.Traversal.MaxBindings
	c.RebindInterval = cfg.Traversal.RebindInterval.Duration()
	return c
}

// Params 打洞器依赖
type Params struct {
	fx.In

	UnifiedCfg  *config.Config `optional:"true"`
	Transport   transport.Transport
	Importer    *transport.Importer
	DB          *dhtdb.DB
	Replicator  *dhtdb.Replicator
	Coordinator *traversal.Coordinator
	Clock       clock.Clock `optional:"true"`
}

// Module 打洞器 Fx 模块
func Module() fx.Option {
	return fx.Module("nat.puncher",
		fx.Provide(ProvidePuncher),
		fx.Invoke(registerLifecycle),
	)
}

// ProvidePuncher 创建打洞器，目标侧载荷交给穿透协调器
func ProvidePuncher(p Params) *Puncher {
	return New(ConfigFromUnified(p.UnifiedCfg), p.Transport, p.Importer, p.DB, p.Replicator, p.Coordinator, p.Clock)
}

type lifecycleParams struct {
	fx.In

	LC          fx.Lifecycle
	Puncher     *Puncher
	Coordinator *traversal.Coordinator
	Dispatcher  *transport.Dispatcher
}

func registerLifecycle(p lifecycleParams) {
	p.Puncher.RegisterHandlers(p.Dispatcher)
	p.Coordinator.SetResolver(p.Puncher.Resolve)

	ctx, cancel := context.WithCancel(context.Background())
	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			p.Puncher.SetReady(true)
			go p.Puncher.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			p.Puncher.SetReady(false)
			cancel()
			return nil
		},
	})
}
