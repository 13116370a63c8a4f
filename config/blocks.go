package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// BlocksConfig 键封禁登记表配置
type BlocksConfig struct {
	// ShardCount 分片数（2 的幂）
	ShardCount int `json:"shard_count"`

	// VerifierPublicKey 封禁请求签名公钥（Ed25519，hex）
	//
	// 为空时拒绝所有封禁请求。
	VerifierPublicKey string `json:"verifier_public_key"`

	// MaxRequestAge 封禁请求允许的最大时钟偏差（0 不检查）
	MaxRequestAge Duration `json:"max_request_age"`

	// Persist 是否持久化封禁记录
	Persist bool `json:"persist"`
}

// DefaultBlocksConfig 默认配置
func DefaultBlocksConfig() BlocksConfig {
	return BlocksConfig{
		ShardCount:    16,
		MaxRequestAge: Duration(7 * 24 * time.Hour),
		Persist:       true,
	}
}

// Validate 校验
func (c *BlocksConfig) Validate() error {
	if c.ShardCount <= 0 || c.ShardCount&(c.ShardCount-1) != 0 {
		return fmt.Errorf("blocks: shard_count must be a positive power of two")
	}
	if c.VerifierPublicKey != "" {
		if _, err := c.PublicKey(); err != nil {
			return err
		}
	}
	return nil
}

// PublicKey 解码签名公钥
func (c *BlocksConfig) PublicKey() ([]byte, error) {
	if c.VerifierPublicKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.VerifierPublicKey)
	if err != nil {
		return nil, fmt.Errorf("blocks: verifier_public_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("blocks: verifier_public_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
