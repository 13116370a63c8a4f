package puncher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/core/transport/memnet"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

type node struct {
	ep      *memnet.Endpoint
	im      *transport.Importer
	client  *transport.Client
	db      *dhtdb.DB
	coord   *traversal.Coordinator
	puncher *Puncher
}

func newNode(t *testing.T, n *memnet.Network) *node {
	t.Helper()
	return newNodeOn(t, n.NewEndpoint())
}

func newNodeOn(t *testing.T, ep *memnet.Endpoint) *node {
	t.Helper()
	im, err := transport.NewImporter(transport.DefaultImporterConfig(), nil, nil)
	require.NoError(t, err)
	local, err := im.Local(ep.LocalAddr())
	require.NoError(t, err)

	db, err := dhtdb.New(dhtdb.DefaultConfig(), local, nil, nil)
	require.NoError(t, err)
	client := transport.NewClient(ep, im, local, time.Second)
	repl := dhtdb.NewReplicator(db, client, im)

	coord, err := traversal.New(traversal.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	p := New(DefaultConfig(), client, im, db, repl, coord, nil)

	disp := transport.NewDispatcher(im, local)
	db.RegisterHandlers(disp)
	p.RegisterHandlers(disp)
	coord.SetResolver(p.Resolve)
	ep.Serve(disp)
	p.SetReady(true)
	coord.Start()

	t.Cleanup(func() {
		_ = coord.Close()
		_ = ep.Close()
		_ = db.Destroy()
	})
	return &node{ep: ep, im: im, client: client, db: db, coord: coord, puncher: p}
}

func (nd *node) addr() string { return nd.client.Local().Address() }

type greeter struct{}

func (greeter) Reason() types.Reason { return types.ReasonPeerData }
func (greeter) Name() string         { return "greeter" }
func (greeter) Process(originator transport.Contact, payload map[string]any) (map[string]any, error) {
	return map[string]any{"hello": payload["name"], "seen": originator.Address()}, nil
}

// TestPunch_ThroughRendezvous NAT 后的目标经会合节点收到载荷并打开映射
func TestPunch_ThroughRendezvous(t *testing.T) {
	n := memnet.New()
	rv, target, origin := newNode(t, n), newNode(t, n), newNode(t, n)
	ctx := context.Background()
	require.NoError(t, target.coord.RegisterHandler(greeter{}))

	// 目标登记后进入 NAT
	require.NoError(t, target.puncher.Bind(ctx, rv.client.Local()))
	target.ep.SetReachable(false)
	assert.Equal(t, 1, rv.puncher.Bindings())
	cur, ok := target.puncher.Current()
	require.True(t, ok)
	assert.Equal(t, rv.addr(), cur.Address())

	// 会合记录已发布到会合节点
	recs := rv.db.GetAll(RendezvousKey(target.addr()))
	require.Len(t, recs, 1)
	assert.Equal(t, target.addr(), recs[0].Originator.Address())

	// 发起者只认识会合节点
	_, err := origin.client.Ping(ctx, rv.client.Local())
	require.NoError(t, err)
	targetContact, err := origin.im.ImportContact(target.addr(), transport.VersionCurrent, false)
	require.NoError(t, err)
	_, err = origin.client.Ping(ctx, targetContact)
	require.Error(t, err, "target is behind NAT")

	h := origin.coord.AttemptTraversal(greeter{}, target.addr(), map[string]any{"name": "origin"}, true, nil)
	require.Equal(t, traversal.StateSucceeded, h.State(), "err: %v", h.Err())
	gotRV, reply := h.Result()
	assert.Equal(t, rv.addr(), gotRV.Address())
	assert.Equal(t, "origin", reply["hello"])
	assert.Equal(t, origin.addr(), reply["seen"])

	// 目标主动 PING 之后发起者可以直接联系
	assert.Eventually(t, func() bool {
		_, err := origin.client.Ping(ctx, targetContact)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	t.Log("✅ 经会合节点打洞成功")
}

// TestPunch_TranslatedTarget 地址转换之后的目标以公网地址发布会合记录，
// 发起者按公网地址打洞
func TestPunch_TranslatedTarget(t *testing.T) {
	const public = "198.51.100.7:40001"
	n := memnet.New()
	rv, origin := newNode(t, n), newNode(t, n)
	target := newNodeOn(t, n.NewTranslatedEndpoint(public))
	ctx := context.Background()
	require.NoError(t, target.coord.RegisterHandler(greeter{}))
	require.NotEqual(t, public, target.addr())

	require.NoError(t, target.puncher.Bind(ctx, rv.client.Local()))
	target.ep.SetReachable(false)

	// 记录在公网地址之下，且按直接发布者保存
	assert.Empty(t, rv.db.GetAll(RendezvousKey(target.addr())))
	recs := rv.db.GetAll(RendezvousKey(public))
	require.Len(t, recs, 1)
	assert.Equal(t, public, recs[0].Originator.Address())
	assert.Equal(t, dhtdb.OriginDirect, recs[0].Origin)

	_, err := origin.client.Ping(ctx, rv.client.Local())
	require.NoError(t, err)

	h := origin.coord.AttemptTraversal(greeter{}, public, map[string]any{"name": "origin"}, true, nil)
	require.Equal(t, traversal.StateSucceeded, h.State(), "err: %v", h.Err())
	_, reply := h.Result()
	assert.Equal(t, "origin", reply["hello"])

	targetContact, err := origin.im.ImportContact(public, transport.VersionCurrent, false)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := origin.client.Ping(ctx, targetContact)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// TestPunch_NoRendezvous 没有会合记录
func TestPunch_NoRendezvous(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n), newNode(t, n)
	_, err := a.client.Ping(context.Background(), b.client.Local())
	require.NoError(t, err)

	h := a.coord.AttemptTraversal(greeter{}, "10.9.9.9:6881", nil, true, nil)
	assert.Equal(t, traversal.StateFailed, h.State())
	assert.ErrorIs(t, h.Err(), traversal.ErrNoRendezvous)
}

// TestPunch_NotBound 会合节点上没有绑定时回复 NotFound
func TestPunch_NotBound(t *testing.T) {
	n := memnet.New()
	a, rv := newNode(t, n), newNode(t, n)

	_, err := a.client.Punch(context.Background(), rv.client.Local(), "10.9.9.9:6881", nil)
	var re *transport.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, transport.StatusNotFound, re.Status)
}

// TestPunch_IgnoresForeignRecords 只接受目标自己发布的会合记录
func TestPunch_IgnoresForeignRecords(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n), newNode(t, n)
	target := "10.9.9.9:6881"

	// a 冒充发布 target 的会合记录
	_, err := a.db.StoreLocal(RendezvousKey(target), transport.ExportDescriptor(b.client.Local()), 0, 1, types.RepControlDefault)
	require.NoError(t, err)

	assert.Empty(t, a.puncher.findRendezvous(context.Background(), target))
}

// TestRebind 没有登记时从已知联系人中选择会合节点
func TestRebind(t *testing.T) {
	n := memnet.New()
	target, rv := newNode(t, n), newNode(t, n)
	ctx := context.Background()

	target.puncher.rebind(ctx)
	_, ok := target.puncher.Current()
	assert.False(t, ok, "no known contacts yet")

	_, err := target.client.Ping(ctx, rv.client.Local())
	require.NoError(t, err)
	target.puncher.rebind(ctx)
	cur, ok := target.puncher.Current()
	require.True(t, ok)
	assert.Equal(t, rv.addr(), cur.Address())
	assert.Equal(t, 1, rv.puncher.Bindings())
}

// TestResolve 传输层未就绪时解析失败
func TestResolve(t *testing.T) {
	nd := newNode(t, memnet.New())
	nd.puncher.SetReady(false)
	_, err := nd.puncher.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	nd.puncher.SetReady(true)
	p, err := nd.puncher.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, nd.puncher, p)
}

// TestSendMessage 经已知会合节点发送
func TestSendMessage(t *testing.T) {
	n := memnet.New()
	rv, target, origin := newNode(t, n), newNode(t, n), newNode(t, n)
	ctx := context.Background()
	require.NoError(t, target.coord.RegisterHandler(greeter{}))
	require.NoError(t, target.puncher.Bind(ctx, rv.client.Local()))

	reply, err := origin.coord.SendMessage(ctx, greeter{}, rv.client.Local(), target.addr(), map[string]any{"name": "direct"})
	require.NoError(t, err)
	assert.Equal(t, "direct", reply["hello"])

	_, err = origin.coord.SendMessage(ctx, greeter{}, rv.client.Local(), "10.9.9.9:6881", nil)
	assert.ErrorIs(t, err, traversal.ErrSendFailed)
}
