package dhtdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/core/transport/memnet"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

func newMock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	return clk
}

type netNode struct {
	db     *DB
	im     *transport.Importer
	client *transport.Client
	repl   *Replicator
}

func newNetNode(t *testing.T, n *memnet.Network, clk clock.Clock) *netNode {
	t.Helper()
	return newNetNodeOn(t, n.NewEndpoint(), clk)
}

func newNetNodeOn(t *testing.T, ep *memnet.Endpoint, clk clock.Clock) *netNode {
	t.Helper()
	im, err := transport.NewImporter(transport.DefaultImporterConfig(), nil, nil)
	require.NoError(t, err)
	local, err := im.Local(ep.LocalAddr())
	require.NoError(t, err)

	db, err := New(DefaultConfig(), local, nil, clk)
	require.NoError(t, err)
	disp := transport.NewDispatcher(im, local)
	db.RegisterHandlers(disp)
	ep.Serve(disp)
	t.Cleanup(func() {
		_ = ep.Close()
		_ = db.Destroy()
	})

	client := transport.NewClient(ep, im, local, time.Second)
	return &netNode{db: db, im: im, client: client, repl: NewReplicator(db, client, im)}
}

// TestHandlers_StoreLookupRemove 经由传输层存储、查询与删除
func TestHandlers_StoreLookupRemove(t *testing.T) {
	n := memnet.New()
	clk := newMock()
	a, b := newNetNode(t, n, clk), newNetNode(t, n, clk)
	ctx := context.Background()
	key := types.HashKey([]byte("wire"))

	rec, err := a.db.StoreLocal(key, []byte("hello"), 0, 24, types.RepControlDefault)
	require.NoError(t, err)

	div, err := a.client.Store(ctx, b.client.Local(), key, []transport.Value{rec.Value()})
	require.NoError(t, err)
	assert.Equal(t, types.DivNone, div)

	stored := b.db.GetAll(key)
	require.Len(t, stored, 1)
	assert.Equal(t, OriginDirect, stored[0].Origin)
	assert.Equal(t, a.client.Local().ID(), stored[0].Originator.ID())

	reply, err := a.client.Lookup(ctx, b.client.Local(), key, 0, 0)
	require.NoError(t, err)
	require.Len(t, reply.Values, 1)
	assert.Equal(t, []byte("hello"), reply.Values[0].Payload)

	ts, err := a.client.Remove(ctx, b.client.Local(), key, 0)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Empty(t, ts.Payload)
	assert.Empty(t, b.db.GetAll(key))
}

// TestHandlers_TranslatedPublisher 地址转换之后的发布者按直接记录保存，
// 可以重置寿命并删除自己的值
func TestHandlers_TranslatedPublisher(t *testing.T) {
	const public = "198.51.100.9:40002"
	n := memnet.New()
	clk := newMock()
	a := newNetNodeOn(t, n.NewTranslatedEndpoint(public), clk)
	b := newNetNode(t, n, clk)
	ctx := context.Background()
	key := types.HashKey([]byte("translated"))

	rec, err := a.db.StoreLocal(key, []byte("v"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	_, err = a.client.Store(ctx, b.client.Local(), key, []transport.Value{rec.Value()})
	require.NoError(t, err)

	stored := b.db.GetAll(key)
	require.Len(t, stored, 1)
	assert.Equal(t, OriginDirect, stored[0].Origin)
	assert.Equal(t, public, stored[0].Originator.Address())
	firstExpiry := stored[0].Expires

	// 重新存储重置寿命
	clk.Add(time.Hour)
	_, err = a.client.Store(ctx, b.client.Local(), key, []transport.Value{rec.Value()})
	require.NoError(t, err)
	stored = b.db.GetAll(key)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Expires.After(firstExpiry), "re-store should re-arm the lifetime")

	ts, err := a.client.Remove(ctx, b.client.Local(), key, 0)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Empty(t, b.db.GetAll(key))
}

// TestHandlers_BlockedKeyRejected 封禁键的存储被拒绝
func TestHandlers_BlockedKeyRejected(t *testing.T) {
	f := newFixture(t, nil)
	n := memnet.New()
	a := newNetNode(t, n, f.clk)

	ep := n.NewEndpoint()
	local, err := f.im.Local(ep.LocalAddr())
	require.NoError(t, err)
	db, err := New(DefaultConfig(), local, f.db.Blocks(), f.clk)
	require.NoError(t, err)
	disp := transport.NewDispatcher(f.im, local)
	db.RegisterHandlers(disp)
	ep.Serve(disp)
	t.Cleanup(func() { _ = ep.Close() })

	key := types.HashKey([]byte("abused"))
	req, sig := f.blockRequest(key)

	// 经由线路提交封禁
	require.NoError(t, a.client.KeyBlock(context.Background(), local, req, sig))
	assert.True(t, db.IsKeyBlocked(key))

	rec, err := a.db.StoreLocal(key, []byte("x"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	_, err = a.client.Store(context.Background(), local, key, []transport.Value{rec.Value()})
	var re *transport.RemoteError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Rejected())

	err = a.client.KeyBlock(context.Background(), local, req, sig[:10])
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Rejected())
}

// TestReplicator_Publish 发布到最近的近邻并扩散本地封禁
func TestReplicator_Publish(t *testing.T) {
	n := memnet.New()
	clk := newMock()
	a := newNetNode(t, n, clk)
	peers := []*netNode{newNetNode(t, n, clk), newNetNode(t, n, clk), newNetNode(t, n, clk)}
	ctx := context.Background()
	for _, p := range peers {
		_, err := a.client.Ping(ctx, p.client.Local())
		require.NoError(t, err)
	}

	key := types.HashKey([]byte("publish"))
	rec, err := a.db.StoreLocal(key, []byte("v"), 0, 0, types.NewReplicationControl(2, 1))
	require.NoError(t, err)

	closest := a.repl.Closest(key, 2)
	require.Len(t, closest, 2)
	assert.LessOrEqual(t, key.CompareDistance(closest[0].ID(), closest[1].ID()), 0)

	res := a.repl.Publish(ctx, rec)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, types.DivNone, res.Div)

	held := 0
	for _, p := range peers {
		if p.db.HasKey(key) {
			held++
		}
	}
	assert.Equal(t, 2, held)

	// 默认复制因子覆盖全部三个近邻
	other := types.HashKey([]byte("other"))
	_, err = a.db.StoreLocal(other, []byte("w"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	a.repl.RepublishOnce(ctx)
	for _, p := range peers {
		assert.True(t, p.db.HasKey(other))
	}
}

// TestReplicator_PublishCollectsRejections 近邻的拒绝带回发布结果
func TestReplicator_PublishCollectsRejections(t *testing.T) {
	n := memnet.New()
	clk := newMock()
	a := newNetNode(t, n, clk)
	ok, gone := newNetNode(t, n, clk), newNetNode(t, n, clk)
	ctx := context.Background()
	for _, p := range []*netNode{ok, gone} {
		_, err := a.client.Ping(ctx, p.client.Local())
		require.NoError(t, err)
	}

	key := types.HashKey([]byte("partly"))
	require.NoError(t, gone.db.Destroy())

	rec, err := a.db.StoreLocal(key, []byte("v"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	res := a.repl.Publish(ctx, rec)
	assert.Equal(t, 1, res.Stored)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, gone.client.Local().ID(), res.Rejected[0].Peer.ID())
	var re *transport.RemoteError
	assert.ErrorAs(t, res.Err(), &re)
	assert.ErrorAs(t, res.Rejected[0], &re)
}

// TestReplicator_SuspendSleepResume 挂起时不发布，休眠时降频，恢复后立即发布
func TestReplicator_SuspendSleepResume(t *testing.T) {
	n := memnet.New()
	clk := newMock()
	a, peer := newNetNode(t, n, clk), newNetNode(t, n, clk)
	ctx := context.Background()
	_, err := a.client.Ping(ctx, peer.client.Local())
	require.NoError(t, err)

	k1 := types.HashKey([]byte("suspended"))
	_, err = a.db.StoreLocal(k1, []byte("v"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)

	a.db.SetSuspended(true)
	assert.False(t, a.repl.RepublishOnce(ctx))
	assert.False(t, peer.db.HasKey(k1))

	// 恢复通知被 Run 消费后立即发布
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.repl.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	a.db.SetSuspended(false)
	require.Eventually(t, func() bool { return peer.db.HasKey(k1) }, time.Second, 5*time.Millisecond)

	// 休眠期间距上次发布不足 SleepRepublishInterval 时跳过
	cancel()
	<-done
	a.db.SetSleeping(true)
	k2 := types.HashKey([]byte("sleeping"))
	_, err = a.db.StoreLocal(k2, []byte("w"), 0, 0, types.RepControlDefault)
	require.NoError(t, err)
	assert.False(t, a.repl.RepublishOnce(ctx))
	assert.False(t, peer.db.HasKey(k2))

	clk.Add(a.db.cfg.RepublishInterval)
	assert.False(t, a.repl.RepublishOnce(ctx), "sleeping republish is throttled")

	clk.Add(a.db.cfg.SleepRepublishInterval)
	assert.True(t, a.repl.RepublishOnce(ctx))
	assert.True(t, peer.db.HasKey(k2))
}
