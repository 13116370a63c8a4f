package dhtdb

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-dhtdb/config"
	store "github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/metrics"
	"github.com/dep2p/go-dhtdb/internal/core/nat/puncher"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/core/storage"
	"github.com/dep2p/go-dhtdb/internal/core/storageblock"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/core/transport/quic"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 模块装配顺序：
//
//	storage → storageblock → transport → dhtdb → nat.traversal → nat.puncher → metrics
func buildFxApp(cfg *nodeConfig, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	applyLogConfig(cfg.config.Log)

	// ════════════════════════════════════════════════════════════════════════
	// 2. 宿主提供的组件
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(cfg.config),
	}
	if cfg.endpoint != nil {
		modules = append(modules, fx.Supply(fx.Annotate(cfg.endpoint, fx.As(new(transport.Endpoint)))))
	} else {
		modules = append(modules, fx.Provide(newQUICEndpoint))
	}
	if cfg.clock != nil {
		modules = append(modules, fx.Supply(fx.Annotate(cfg.clock, fx.As(new(clock.Clock)))))
	}
	if cfg.verifier != nil {
		modules = append(modules, fx.Supply(fx.Annotate(cfg.verifier, fx.As(new(interfaces.SignatureVerifier)))))
	}
	if cfg.filter != nil {
		modules = append(modules, fx.Supply(fx.Annotate(cfg.filter, fx.As(new(interfaces.IPFilter)))))
	}
	if cfg.classifier != nil {
		modules = append(modules, fx.Supply(fx.Annotate(cfg.classifier, fx.As(new(interfaces.AltNetClassifier)))))
	}
	if cfg.identity != nil {
		modules = append(modules, fx.Supply(fx.Annotate(cfg.identity, fx.As(new(interfaces.LocalIdentity)))))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 核心模块
	// ════════════════════════════════════════════════════════════════════════
	if !cfg.inMemory {
		modules = append(modules, storage.Module())
	}
	modules = append(modules,
		storageblock.Module(),
		transport.Module(),
		store.Module(),
		traversal.Module(),
		puncher.Module(),
		metrics.Module(),

		// 端点装饰必须在根作用域
		fx.Decorate(metrics.DecorateEndpoint),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 填充 Node
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Populate(
			&node.db,
			&node.repl,
			&node.blocks,
			&node.transport,
			&node.importer,
			&node.local,
			&node.bootstrapper,
			&node.coordinator,
			&node.puncher,
			&node.reporter,
		),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	return fx.New(modules...), nil
}

// newQUICEndpoint 按统一配置打开 QUIC 端点
func newQUICEndpoint(cfg *config.Config) (transport.Endpoint, error) {
	return quic.New(quic.Config{
		ListenAddr:     cfg.Transport.ListenAddr,
		MaxIdleTimeout: cfg.Transport.MaxIdleTimeout.Duration(),
		MaxMessageSize: cfg.Transport.MaxMessageSize,
	})
}

// applyLogConfig 应用配置中的日志级别；环境变量优先
func applyLogConfig(c config.LogConfig) {
	if os.Getenv(logger.EnvLevel) != "" || os.Getenv(logger.EnvFormat) != "" {
		return
	}
	lc := &logger.Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          logger.ParseFormat(c.Format),
	}
	logger.ParseLevelSpec(lc, c.Level)
	logger.Apply(lc)
}
