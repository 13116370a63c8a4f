package dhtdb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// fill 让 n 个发布者各自直接存入一个值
func fill(t *testing.T, f *fixture, key types.Key, n, size int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		p := f.peer(t, i)
		payload := fmt.Sprintf("%02d", i) + strings.Repeat("x", size-2)
		_, err := f.db.StoreRemote(context.Background(), p, key, []*Record{f.value(p, payload)})
		require.NoError(t, err)
	}
}

// TestLookup_Bounds 条数上限、穷尽与字节预算
func TestLookup_Bounds(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.MaxLookupValues = 5
		c.MaxReplyBytes = 50
	})
	key := types.HashKey([]byte("many"))
	fill(t, f, key, 10, 20)
	reader := f.peer(t, 200)

	tests := []struct {
		name  string
		max   int
		flags types.LookupFlags
		want  int
	}{
		{"explicit max", 3, types.LookupPriority, 3},
		{"default max", 0, types.LookupPriority, 5},
		{"exhaustive", 0, types.LookupExhaustive | types.LookupPriority, 10},
		{"byte budget", 0, types.LookupExhaustive, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.db.Lookup(reader, key, tt.max, tt.flags, false)
			require.NoError(t, err)
			assert.Len(t, res.Values, tt.want)
		})
	}
}

// TestLookup_Rotation 连续受限查询轮转返回全部值
func TestLookup_Rotation(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("rotate"))
	fill(t, f, key, 10, 4)
	reader := f.peer(t, 200)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		res, err := f.db.Lookup(reader, key, 3, 0, true)
		require.NoError(t, err)
		require.Len(t, res.Values, 3)
		for _, r := range res.Values {
			seen[string(r.Payload)]++
		}
	}
	assert.Len(t, seen, 10, "every value is served within four rounds")
}

// TestLookup_Missing 没有键组时返回 nil
func TestLookup_Missing(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.db.Lookup(f.peer(t, 1), types.HashKey([]byte("none")), 0, 0, true)
	require.NoError(t, err)
	assert.Nil(t, res)
}

// TestLookup_Stats 统计查询返回一条合成记录
func TestLookup_Stats(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("stats"))
	fill(t, f, key, 3, 4)
	reader := f.peer(t, 200)

	_, err := f.db.Lookup(reader, key, 0, 0, true)
	require.NoError(t, err)
	res, err := f.db.Lookup(reader, key, 0, types.LookupStats, true)
	require.NoError(t, err)
	require.Len(t, res.Values, 1)
	assert.True(t, res.Values[0].Flags.Has(types.FlagStats))

	st, err := DecodeGroupStats(res.Values[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Direct)
	assert.Equal(t, 0, st.Indirect)
	assert.Equal(t, 2, st.Hits)
	assert.Equal(t, 3, st.Rate)
	assert.Equal(t, types.DivNone, st.Div)

	_, err = DecodeGroupStats(res.Values[0].Payload[:2])
	assert.Error(t, err)
}

// TestGetAll_OrderAndDedup 本地优先，载荷去重
func TestGetAll_OrderAndDedup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := types.HashKey([]byte("order"))
	a, b, cache := f.peer(t, 1), f.peer(t, 2), f.peer(t, 3)

	_, err := f.db.StoreRemote(ctx, cache, key, []*Record{f.value(b, "indirect")})
	require.NoError(t, err)
	_, err = f.db.StoreRemote(ctx, a, key, []*Record{f.value(a, "same"), f.value(a, "same")})
	require.NoError(t, err)
	_, err = f.db.StoreRemote(ctx, cache, key, []*Record{f.value(f.peer(t, 4), "same")})
	require.NoError(t, err)
	_, err = f.db.StoreLocal(key, []byte("mine"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)

	all := f.db.GetAll(key)
	require.Len(t, all, 3)
	assert.Equal(t, OriginOwned, all[0].Origin)
	assert.Equal(t, OriginDirect, all[1].Origin)
	assert.Equal(t, OriginIndirect, all[2].Origin)
	assert.Equal(t, "mine", string(f.db.GetAny(key).Payload))
}

// TestDirectReplacesIndirect 发布者直接存入时删除其间接副本
func TestDirectReplacesIndirect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := types.HashKey([]byte("k"))
	a, cache := f.peer(t, 1), f.peer(t, 2)

	_, err := f.db.StoreRemote(ctx, cache, key, []*Record{f.value(a, "old")})
	require.NoError(t, err)
	v := f.value(a, "new")
	v.Version = 2
	_, err = f.db.StoreRemote(ctx, a, key, []*Record{v})
	require.NoError(t, err)

	all := f.db.GetAll(key)
	require.Len(t, all, 1)
	assert.Equal(t, "new", string(all[0].Payload))

	// 直接副本存在时忽略转发
	_, err = f.db.StoreRemote(ctx, cache, key, []*Record{f.value(a, "stale")})
	require.NoError(t, err)
	assert.Len(t, f.db.GetAll(key), 1)
}

// TestForwardNeverExtendsTTL 缓存转发取较早的到期时间
func TestForwardNeverExtendsTTL(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := types.HashKey([]byte("ttl"))
	a := f.peer(t, 1)
	start := f.clk.Now()

	v := f.value(a, "v")
	v.LifeHours = 2
	_, err := f.db.StoreRemote(ctx, f.peer(t, 2), key, []*Record{v})
	require.NoError(t, err)

	f.clk.Add(time.Hour)
	v = f.value(a, "v")
	v.LifeHours = 2
	_, err = f.db.StoreRemote(ctx, f.peer(t, 3), key, []*Record{v})
	require.NoError(t, err)

	all := f.db.GetAll(key)
	require.Len(t, all, 1)
	assert.Equal(t, start.Add(2*time.Hour), all[0].Expires)

	f.clk.Add(time.Hour)
	assert.Empty(t, f.db.GetAll(key))
}

// TestNonOwnerCannotTouchOwned 远端转发本节点的值不影响本地记录
func TestNonOwnerCannotTouchOwned(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := types.HashKey([]byte("owned"))

	rec, err := f.db.StoreLocal(key, []byte("mine"), 0, 1, types.RepControlDefault)
	require.NoError(t, err)

	f.clk.Add(30 * time.Minute)
	forged := f.value(f.local, "forged")
	forged.LifeHours = 10
	_, err = f.db.StoreRemote(ctx, f.peer(t, 1), key, []*Record{forged})
	require.NoError(t, err)

	got := f.db.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, "mine", string(got.Payload))
	assert.Equal(t, rec.Expires, got.Expires)
	assert.Len(t, f.db.GetAll(key), 1)
}

// TestRemove 删除返回墓碑，墓碑不出现在读取结果中
func TestRemove(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := types.HashKey([]byte("rm"))
	a, b := f.peer(t, 1), f.peer(t, 2)

	_, err := f.db.StoreRemote(ctx, a, key, []*Record{f.value(a, "a")})
	require.NoError(t, err)
	_, err = f.db.StoreRemote(ctx, b, key, []*Record{f.value(b, "b")})
	require.NoError(t, err)

	ts, err := f.db.Remove(a, key, 0)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.IsTombstone())
	assert.EqualValues(t, 2, ts.Version)

	all := f.db.GetAll(key)
	require.Len(t, all, 1)
	assert.Equal(t, "b", string(all[0].Payload))

	// 旧版本的转发被墓碑压住
	_, err = f.db.StoreRemote(ctx, f.peer(t, 3), key, []*Record{f.value(a, "a")})
	require.NoError(t, err)
	assert.Len(t, f.db.GetAll(key), 1)

	ts, err = f.db.Remove(f.peer(t, 9), key, 0)
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = f.db.Remove(f.peer(t, 9), key, types.FlagPutAndForget)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.IsTombstone())
}

// TestRemove_Local 删除本地发布的值
func TestRemove_Local(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("mine"))
	rec, err := f.db.StoreLocal(key, []byte("v"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)

	ts, err := f.db.Remove(f.local, key, 0)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.IsTombstone())
	assert.Greater(t, ts.Version, rec.Version)
	assert.Nil(t, f.db.Get(key))
}

// TestStats 统计快照
func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	key := types.HashKey([]byte("s"))
	fill(t, f, key, 2, 4)
	_, err := f.db.StoreLocal(types.HashKey([]byte("s2")), []byte("v"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)

	st := f.db.Stats()
	assert.Equal(t, 2, st.Keys)
	assert.Equal(t, 1, st.OwnedValues)
	assert.Equal(t, 2, st.DirectValues)
	assert.EqualValues(t, 8, st.TotalSize)
	assert.EqualValues(t, 2, st.TotalValues)
	assert.EqualValues(t, 2, st.Stores)
	assert.ElementsMatch(t, []types.Key{key, types.HashKey([]byte("s2"))}, f.db.Keys())
}
