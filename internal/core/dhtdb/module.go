package dhtdb

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/storageblock"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// Params 存储模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Local      transport.Contact
	Blocks     *storageblock.Registry `optional:"true"`
	Clock      clock.Clock            `optional:"true"`
	Filter     interfaces.IPFilter    `optional:"true"`
}

// Module 存储 Fx 模块
func Module() fx.Option {
	return fx.Module("dhtdb",
		fx.Provide(ProvideDB, ProvideReplicator),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideDB 创建存储
func ProvideDB(p Params) (*DB, error) {
	db, err := New(ConfigFromUnified(p.UnifiedCfg), p.Local, p.Blocks, p.Clock)
	if err != nil {
		return nil, err
	}
	db.SetIPFilter(p.Filter)
	return db, nil
}

// ProvideReplicator 以导入器的联系人历史作为近邻集合
func ProvideReplicator(db *DB, t transport.Transport, im *transport.Importer) *Replicator {
	return NewReplicator(db, t, im)
}

type lifecycleParams struct {
	fx.In

	LC         fx.Lifecycle
	DB         *DB
	Replicator *Replicator
	Dispatcher *transport.Dispatcher
}

func registerLifecycle(p lifecycleParams) {
	// 处理器在传输层开始服务之前注册
	p.DB.RegisterHandlers(p.Dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			p.DB.Start(ctx)
			go p.Replicator.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return p.DB.Destroy()
		},
	})
}
