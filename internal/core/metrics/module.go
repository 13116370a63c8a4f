package metrics

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
)

// Config 指标配置
type Config struct {
	// Enabled 是否启动 HTTP 端点；统计本身总是收集
	Enabled bool

	ListenAddr string
	Namespace  string

	// SnapshotInterval 快照日志间隔（0 关闭）
	SnapshotInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	d := config.DefaultMetricsConfig()
	return fromMetrics(d)
}

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return fromMetrics(cfg.Metrics)
}

func fromMetrics(m config.MetricsConfig) Config {
	return Config{
		Enabled:          m.Enabled,
		ListenAddr:       m.ListenAddr,
		Namespace:        m.Namespace,
		SnapshotInterval: m.SnapshotInterval.Duration(),
	}
}

// ReporterParams 带宽计数器依赖
type ReporterParams struct {
	fx.In

	Clock clock.Clock `optional:"true"`
}

// Params 注册表依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config         `optional:"true"`
	Clock      clock.Clock            `optional:"true"`
	Reporter   Reporter
	DB         *dhtdb.DB              `optional:"true"`
	Traversal  *traversal.Coordinator `optional:"true"`
}

// Result 注册表与快照收集器
type Result struct {
	fx.Out

	Registry    *prometheus.Registry
	Snapshotter *Snapshotter
}

// Module 是 metrics 的 Fx 模块
//
// Reporter 只依赖时钟，端点装饰器可以使用它而不形成依赖环。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideReporter, Provide),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideReporter 创建带宽计数器
func ProvideReporter(p ReporterParams) Reporter {
	return NewBandwidthCounter(p.Clock)
}

// Provide 创建注册表与快照收集器
func Provide(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	src := Sources{DB: p.DB, Traversal: p.Traversal, Bandwidth: p.Reporter}

	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewCollector(cfg.Namespace, src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return Result{}, err
		}
	}
	return Result{Registry: reg, Snapshotter: NewSnapshotter(src, p.Clock)}, nil
}

type lifecycleParams struct {
	fx.In

	LC          fx.Lifecycle
	UnifiedCfg  *config.Config `optional:"true"`
	Registry    *prometheus.Registry
	Snapshotter *Snapshotter
	Reporter    Reporter
	Clock       clock.Clock `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	var srv *Server
	if cfg.Enabled {
		srv = NewServer(cfg.ListenAddr, p.Registry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			p.Snapshotter.Start(cfg.SnapshotInterval)
			go trimLoop(ctx, clk, p.Reporter)
			if srv != nil {
				return srv.Start()
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			p.Snapshotter.Stop()
			if srv != nil {
				return srv.Stop(stopCtx)
			}
			return nil
		},
	})
}

// trimLoop 定期清理 10 分钟没有流量的对端统计
func trimLoop(ctx context.Context, clk clock.Clock, r Reporter) {
	ticker := clk.Ticker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.TrimIdle(clk.Now().Add(-10 * time.Minute))
		}
	}
}
