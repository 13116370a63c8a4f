package dhtdb

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*nodeConfig) error

// nodeConfig 内部选项结构
type nodeConfig struct {
	config *config.Config

	// 宿主提供的组件；为 nil 时使用默认实现
	endpoint   transport.Endpoint
	clock      clock.Clock
	verifier   interfaces.SignatureVerifier
	filter     interfaces.IPFilter
	classifier interfaces.AltNetClassifier
	identity   interfaces.LocalIdentity

	// inMemory 不打开 BadgerDB，封禁记录只在内存中
	inMemory bool
}

func newNodeConfig(opts []Option) (*nodeConfig, error) {
	cfg := &nodeConfig{config: config.NewConfig()}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithConfig 使用完整配置
func WithConfig(c *config.Config) Option {
	return func(n *nodeConfig) error {
		if c == nil {
			return fmt.Errorf("dhtdb: nil config")
		}
		n.config = c
		return nil
	}
}

// WithConfigFile 从 JSON 文件读取配置
func WithConfigFile(path string) Option {
	return func(n *nodeConfig) error {
		c, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		n.config = c
		return nil
	}
}

// WithListenAddr 设置 QUIC 监听地址
func WithListenAddr(addr string) Option {
	return func(n *nodeConfig) error {
		n.config.Transport.ListenAddr = addr
		return nil
	}
}

// WithAdvertiseAddr 设置对外公布的地址
func WithAdvertiseAddr(addr string) Option {
	return func(n *nodeConfig) error {
		n.config.Transport.AdvertiseAddr = addr
		return nil
	}
}

// WithBootstrap 设置引导节点
func WithBootstrap(addrs ...string) Option {
	return func(n *nodeConfig) error {
		n.config.Transport.Bootstrap = append([]string(nil), addrs...)
		return nil
	}
}

// WithDataDir 设置数据目录
func WithDataDir(dir string) Option {
	return func(n *nodeConfig) error {
		n.config.Storage.DataDir = dir
		return nil
	}
}

// WithInMemory 不使用持久化存储
func WithInMemory() Option {
	return func(n *nodeConfig) error {
		n.inMemory = true
		return nil
	}
}

// WithMetrics 启用指标端点
func WithMetrics(addr string) Option {
	return func(n *nodeConfig) error {
		n.config.Metrics.Enabled = true
		n.config.Metrics.ListenAddr = addr
		return nil
	}
}

// WithEndpoint 使用宿主提供的端点代替 QUIC
func WithEndpoint(ep transport.Endpoint) Option {
	return func(n *nodeConfig) error {
		n.endpoint = ep
		return nil
	}
}

// WithClock 注入时钟，用于测试
func WithClock(clk clock.Clock) Option {
	return func(n *nodeConfig) error {
		n.clock = clk
		return nil
	}
}

// WithVerifier 设置封禁请求签名校验器
func WithVerifier(v interfaces.SignatureVerifier) Option {
	return func(n *nodeConfig) error {
		n.verifier = v
		return nil
	}
}

// WithIPFilter 设置地址过滤器
func WithIPFilter(f interfaces.IPFilter) Option {
	return func(n *nodeConfig) error {
		n.filter = f
		return nil
	}
}

// WithClassifier 设置替代网络分类器
func WithClassifier(c interfaces.AltNetClassifier) Option {
	return func(n *nodeConfig) error {
		n.classifier = c
		return nil
	}
}

// WithIdentity 设置本节点身份；其地址作为公布地址
func WithIdentity(id interfaces.LocalIdentity) Option {
	return func(n *nodeConfig) error {
		n.identity = id
		return nil
	}
}
