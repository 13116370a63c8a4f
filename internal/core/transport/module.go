package transport

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
	"github.com/dep2p/go-dhtdb/internal/core/storage/kv"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// Config 传输模块配置
type Config struct {
	Importer       ImporterConfig
	AdvertiseAddr  string
	RequestTimeout time.Duration
	Bootstrap      []string
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Importer:       DefaultImporterConfig(),
		RequestTimeout: 10 * time.Second,
	}
}

// ConfigFromUnified 从统一配置读取
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Importer.MinVersion = ProtocolVersion(cfg.Transport.MinProtocolVersion)
	c.Importer.HistorySize = cfg.Transport.ContactHistorySize
	c.AdvertiseAddr = cfg.Transport.AdvertiseAddr
	c.RequestTimeout = cfg.Transport.RequestTimeout.Duration()
	c.Bootstrap = cfg.Transport.Bootstrap
	return c
}

// Params 传输模块依赖
//
// Endpoint 由宿主提供（quic 或 memnet）。
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Endpoint   Endpoint
	Engine     engine.Engine               `optional:"true"`
	Filter     interfaces.IPFilter         `optional:"true"`
	Classifier interfaces.AltNetClassifier `optional:"true"`
	Identity   interfaces.LocalIdentity    `optional:"true"`
}

// Result 传输模块输出
type Result struct {
	fx.Out

	Importer     *Importer
	Dispatcher   *Dispatcher
	Transport    Transport
	Local        Contact
	Bootstrapper *Bootstrapper
}

// Module 传输 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransport),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideTransport 构造导入器、分发器与客户端
func ProvideTransport(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)

	im, err := NewImporter(cfg.Importer, p.Filter, p.Classifier)
	if err != nil {
		return Result{}, err
	}
	// 公布地址：配置 > 宿主身份 > 端点实际监听地址
	addr := cfg.AdvertiseAddr
	if addr == "" && p.Identity != nil {
		addr = p.Identity.Address()
	}
	if addr == "" {
		addr = p.Endpoint.LocalAddr()
	}
	if addr, err = ResolveAdvertise(addr); err != nil {
		return Result{}, err
	}
	local, err := im.Local(addr)
	if err != nil {
		return Result{}, err
	}

	var store *kv.Store
	if p.Engine != nil {
		store = kv.New(p.Engine, []byte("c/"))
	}
	client := NewClient(p.Endpoint, im, local, cfg.RequestTimeout)

	log.Info("传输层就绪", "local", local.String(), "min_version", im.MinVersion().String())
	return Result{
		Importer:     im,
		Dispatcher:   NewDispatcher(im, local),
		Transport:    client,
		Local:        local,
		Bootstrapper: NewBootstrapper(client, im, store, cfg.Bootstrap),
	}, nil
}

type lifecycleParams struct {
	fx.In

	LC           fx.Lifecycle
	Endpoint     Endpoint
	Dispatcher   *Dispatcher
	Bootstrapper *Bootstrapper
}

func registerLifecycle(p lifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Endpoint.Serve(p.Dispatcher)
			// 引导在后台进行，不阻塞启动
			go p.Bootstrapper.Run(context.WithoutCancel(ctx))
			return nil
		},
		OnStop: func(_ context.Context) error {
			return p.Endpoint.Close()
		},
	})
}
