package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig 默认配置有效
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.DB.FrequencyThreshold)
	assert.Equal(t, 10*time.Minute, cfg.DB.MaintenanceInterval.Duration())
	assert.Equal(t, 72*time.Hour, cfg.DB.MaxValueLifetime.Duration())
	assert.Equal(t, 16, cfg.Traversal.Workers)
	assert.Equal(t, 128, cfg.Traversal.QueueSize)

	t.Log("✅ NewConfig 测试通过")
}

// TestFromJSON 部分字段覆盖默认值
func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"db": {"frequency_threshold": 50, "frequency_window": "1m"},
		"transport": {"listen_addr": "127.0.0.1:0", "min_protocol_version": 40}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.DB.FrequencyThreshold)
	assert.Equal(t, time.Minute, cfg.DB.FrequencyWindow.Duration())
	assert.Equal(t, uint8(40), cfg.Transport.MinProtocolVersion)
	// 未出现的字段保持默认
	assert.Equal(t, 256, cfg.DB.MaxIndirectValues)
	assert.NoError(t, cfg.Validate())

	_, err = FromJSON([]byte(`{"db": {"frequency_window": "soon"}}`))
	assert.Error(t, err)
}

// TestValidate_Rejects 各子配置的非法值
func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"shard count not power of two", func(c *Config) { c.DB.ShardCount = 12 }},
		{"default lifetime exceeds max", func(c *Config) { c.DB.DefaultValueLifetime = Duration(100 * time.Hour) }},
		{"bad verifier key", func(c *Config) { c.Blocks.VerifierPublicKey = "zz" }},
		{"short verifier key", func(c *Config) { c.Blocks.VerifierPublicKey = "abcd" }},
		{"bad listen addr", func(c *Config) { c.Transport.ListenAddr = "nope" }},
		{"no workers", func(c *Config) { c.Traversal.Workers = 0 }},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestLoadFile 读取文件并校验
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhtdb.json")

	src := NewConfig()
	src.Storage.DataDir = dir
	src.Metrics.Enabled = true
	data, err := src.ToJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Storage.DataDir)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, filepath.Join(dir, "dhtdb.db"), cfg.Storage.DBPath())

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// TestBlocksPublicKey 公钥解码
func TestBlocksPublicKey(t *testing.T) {
	c := DefaultBlocksConfig()
	key, err := c.PublicKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	c.VerifierPublicKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	key, err = c.PublicKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
