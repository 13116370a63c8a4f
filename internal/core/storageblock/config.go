package storageblock

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// Config 登记表配置
type Config struct {
	// ShardCount 分片数（2 的幂）
	ShardCount int

	// MaxRequestAge 请求签发后的最长有效期（0 不检查）
	MaxRequestAge time.Duration

	// Persist 是否持久化
	Persist bool

	// PublicKey 签名公钥（Ed25519）
	PublicKey ed25519.PublicKey
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ShardCount:    16,
		MaxRequestAge: 7 * 24 * time.Hour,
		Persist:       true,
	}
}

// ConfigFromUnified 从统一配置读取
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.ShardCount = cfg.Blocks.ShardCount
	c.MaxRequestAge = cfg.Blocks.MaxRequestAge.Duration()
	c.Persist = cfg.Blocks.Persist
	if key, err := cfg.Blocks.PublicKey(); err == nil && key != nil {
		c.PublicKey = ed25519.PublicKey(key)
	}
	return c
}

// Validate 校验
func (c *Config) Validate() error {
	if c.ShardCount <= 0 || c.ShardCount&(c.ShardCount-1) != 0 {
		return errors.New("storageblock: shard count must be a positive power of two")
	}
	if c.PublicKey != nil && len(c.PublicKey) != ed25519.PublicKeySize {
		return errors.New("storageblock: bad public key size")
	}
	return nil
}

// Verifier 由公钥构造默认校验器；没有公钥时返回 nil
func (c *Config) Verifier() interfaces.SignatureVerifier {
	if c.PublicKey == nil {
		return nil
	}
	return interfaces.Ed25519Verifier{PublicKey: c.PublicKey}
}
