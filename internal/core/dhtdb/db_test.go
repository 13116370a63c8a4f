package dhtdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// TestStoreLocal_GetAndExpire 本地存储后可读，寿命到期后不可读
func TestStoreLocal_GetAndExpire(t *testing.T) {
	f := newFixture(t, nil)
	k1 := types.HashKey([]byte("K1"))

	rec, err := f.db.StoreLocal(k1, []byte("hello"), types.FlagSingleValue, 24, types.RepControlDefault)
	require.NoError(t, err)
	assert.Equal(t, OriginOwned, rec.Origin)

	got := f.db.Get(k1)
	require.NotNil(t, got)
	assert.Equal(t, []byte("hello"), got.Payload)

	f.clk.Add(25 * time.Hour)
	assert.Nil(t, f.db.Get(k1))

	f.db.Maintain()
	assert.False(t, f.db.HasKey(k1))
	t.Log("✅ 25 小时后记录过期")
}

// TestStoreLocal_ReStoreRearmsTTL 重新存储重置寿命
func TestStoreLocal_ReStoreRearmsTTL(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("rearm"))

	_, err := f.db.StoreLocal(key, []byte("v"), 0, 1, types.RepControlDefault)
	require.NoError(t, err)
	f.clk.Add(50 * time.Minute)
	_, err = f.db.StoreLocal(key, []byte("v"), 0, 1, types.RepControlDefault)
	require.NoError(t, err)
	f.clk.Add(50 * time.Minute)

	require.NotNil(t, f.db.Get(key))
	f.clk.Add(11 * time.Minute)
	assert.Nil(t, f.db.Get(key))
}

// TestStoreLocal_Invalid 超长值与空键
func TestStoreLocal_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.db.StoreLocal(types.HashKey([]byte("big")), make([]byte, 513), 0, 0, types.RepControlDefault)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = f.db.StoreLocal(types.EmptyKey, []byte("x"), 0, 0, types.RepControlDefault)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

// TestStoreLocal_PutAndForget 不在本地保留
func TestStoreLocal_PutAndForget(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("forget"))

	rec, err := f.db.StoreLocal(key, []byte("x"), types.FlagPutAndForget, 0, types.RepControlDefault)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, f.db.HasKey(key))
}

// TestStoreLocal_VersionMonotonic 版本单调递增
func TestStoreLocal_VersionMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("ver"))

	a, err := f.db.StoreLocal(key, []byte("1"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	b, err := f.db.StoreLocal(key, []byte("2"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	assert.Greater(t, b.Version, a.Version)
}

// TestBlockedKey 封禁的键拒绝存储与查询，解除后恢复
func TestBlockedKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := types.HashKey([]byte("abused"))
	a := f.peer(t, 1)

	_, err := f.db.StoreRemote(ctx, a, key, []*Record{f.value(a, "spam")})
	require.NoError(t, err)
	require.True(t, f.db.HasKey(key))

	req, sig := f.blockRequest(key)
	b, err := f.db.KeyBlockRequest(nil, req, sig)
	require.NoError(t, err)
	assert.True(t, b.Direct)
	assert.True(t, f.db.IsKeyBlocked(key))
	assert.False(t, f.db.HasKey(key), "blocking purges stored records")
	assert.Len(t, f.db.DirectKeyBlocks(), 1)
	assert.NotNil(t, f.db.KeyBlockDetails(key))

	_, err = f.db.StoreLocal(key, []byte("x"), 0, 0, types.RepControlDefault)
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = f.db.StoreRemote(ctx, a, key, []*Record{f.value(a, "spam")})
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = f.db.Lookup(a, key, 0, 0, true)
	assert.ErrorIs(t, err, ErrBlocked)

	require.NoError(t, f.db.Blocks().Unblock(key))
	_, err = f.db.StoreLocal(key, []byte("x"), 0, 0, types.RepControlDefault)
	assert.NoError(t, err)
}

// TestKeyBlockRequest_Rejects 签名错误、格式错误与旧版本发送者
func TestKeyBlockRequest_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("k"))
	req, sig := f.blockRequest(key)

	bad := append([]byte(nil), sig...)
	bad[0] ^= 0xff
	_, err := f.db.KeyBlockRequest(nil, req, bad)
	assert.ErrorIs(t, err, ErrInvalidBlockRequest)

	_, err = f.db.KeyBlockRequest(nil, req[:10], sig)
	assert.ErrorIs(t, err, ErrInvalidBlockRequest)

	// 版本 10 的描述符：早于封禁特性
	desc := append([]byte{10, 0, 8}, "10.2.0.1"...)
	desc = append(desc, 0x1a, 0xe1)
	old, err := transport.DecodeDescriptor(desc)
	require.NoError(t, err)
	require.False(t, old.Supports(transport.FeatureBlockKeys))
	_, err = f.db.KeyBlockRequest(&old, req, sig)
	assert.ErrorIs(t, err, ErrInvalidBlockRequest)

	peer := f.peer(t, 1)
	b, err := f.db.KeyBlockRequest(&peer, req, sig)
	require.NoError(t, err)
	assert.False(t, b.Direct)
	assert.Empty(t, f.db.DirectKeyBlocks())
}

// TestDestroy 销毁后所有操作失败
func TestDestroy(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("k"))
	_, err := f.db.StoreLocal(key, []byte("v"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)

	require.NoError(t, f.db.Destroy())
	assert.ErrorIs(t, f.db.Destroy(), ErrDestroyed)

	_, err = f.db.StoreLocal(key, []byte("v"), 0, 0, types.RepControlDefault)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = f.db.StoreRemote(context.Background(), f.peer(t, 1), key, nil)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = f.db.Lookup(f.peer(t, 1), key, 0, 0, false)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = f.db.Remove(f.peer(t, 1), key, 0)
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.Empty(t, f.db.Keys())
}

// TestStart_MaintenanceLoop 维护循环按周期清理
func TestStart_MaintenanceLoop(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("loop"))
	_, err := f.db.StoreLocal(key, []byte("v"), 0, 1, types.RepControlDefault)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.db.Start(ctx)

	f.clk.Add(2 * time.Hour)
	assert.Eventually(t, func() bool { return !f.db.HasKey(key) }, time.Second, 10*time.Millisecond)
	f.db.Stop()
}
