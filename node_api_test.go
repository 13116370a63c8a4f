package dhtdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/core/transport/memnet"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

type pingHandler struct{}

func (pingHandler) Reason() types.Reason { return types.ReasonGenericMessaging }
func (pingHandler) Name() string         { return "ping" }
func (pingHandler) Process(transport.Contact, map[string]any) (map[string]any, error) {
	return map[string]any{"pong": true}, nil
}

func startNode(t *testing.T, n *memnet.Network, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithEndpoint(n.NewEndpoint()), WithInMemory()}, opts...)
	node, err := Start(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func TestNode_Lifecycle(t *testing.T) {
	n := memnet.New()
	node, err := New(context.Background(), WithEndpoint(n.NewEndpoint()), WithInMemory())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, node.State())

	_, err = node.Put(context.Background(), []byte("k"), []byte("v"), 1)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(context.Background()))
	assert.Equal(t, StateRunning, node.State())
	assert.ErrorIs(t, node.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, node.Close())
	assert.Equal(t, StateStopped, node.State())
	assert.ErrorIs(t, node.Start(context.Background()), ErrNodeClosed)

	_, err = node.Get(context.Background(), []byte("k"))
	assert.ErrorIs(t, err, ErrNodeClosed)
	t.Log("✅ 节点生命周期状态正确")
}

func TestNode_PutGetAcrossNodes(t *testing.T) {
	n := memnet.New()
	a := startNode(t, n)
	b := startNode(t, n)

	ctx := context.Background()
	_, err := b.Connect(ctx, a.Local().Address())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(a.repl.Closest(types.HashKey([]byte("x")), 1)) == 1
	}, time.Second, 10*time.Millisecond)

	res, err := a.Put(ctx, []byte("greeting"), []byte("hello"), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)

	// b 从本地副本读取
	vals, err := b.Get(ctx, []byte("greeting"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello")}, vals)

	_, err = a.Get(ctx, []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	t.Log("✅ 值被复制到近邻")
}

func TestNode_GetFromNeighbour(t *testing.T) {
	n := memnet.New()
	a := startNode(t, n)
	b := startNode(t, n)

	ctx := context.Background()
	_, err := a.Connect(ctx, b.Local().Address())
	require.NoError(t, err)

	// 只存在 b 本地，a 需要远程查询
	_, err = b.DB().StoreLocal(types.HashKey([]byte("only-b")), []byte("v1"), 0, 1, types.RepControlDefault)
	require.NoError(t, err)

	vals, err := a.Get(ctx, []byte("only-b"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("v1")}, vals)
}

func TestNode_Delete(t *testing.T) {
	n := memnet.New()
	a := startNode(t, n)
	b := startNode(t, n)

	ctx := context.Background()
	_, err := b.Connect(ctx, a.Local().Address())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(a.repl.Closest(types.HashKey([]byte("x")), 1)) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = a.Put(ctx, []byte("gone"), []byte("soon"), 1)
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, []byte("gone")))

	assert.Empty(t, a.DB().GetAll(types.HashKey([]byte("gone"))))
	assert.Empty(t, b.DB().GetAll(types.HashKey([]byte("gone"))))
}

func TestNode_GetOnlyTombstones(t *testing.T) {
	n := memnet.New()
	a := startNode(t, n)

	// 近邻只持有该键的墓碑
	ep := n.NewEndpoint()
	im, err := transport.NewImporter(transport.DefaultImporterConfig(), nil, nil)
	require.NoError(t, err)
	local, err := im.Local(ep.LocalAddr())
	require.NoError(t, err)
	disp := transport.NewDispatcher(im, local)
	disp.HandleFunc(transport.MsgLookup, func(_ context.Context, _ transport.Contact, req *transport.Message) (*transport.Message, error) {
		ts := transport.Value{Version: 2, Created: time.Now(), Originator: local}
		return &transport.Message{Key: req.Key, Values: []transport.Value{ts}}, nil
	})
	ep.Serve(disp)
	t.Cleanup(func() { _ = ep.Close() })

	ctx := context.Background()
	_, err = a.Connect(ctx, ep.LocalAddr())
	require.NoError(t, err)

	vals, err := a.Get(ctx, []byte("deleted"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, vals)
}

func TestNode_StatsAndBandwidth(t *testing.T) {
	n := memnet.New()
	a := startNode(t, n)
	b := startNode(t, n)

	_, err := b.Connect(context.Background(), a.Local().Address())
	require.NoError(t, err)

	assert.Positive(t, b.Bandwidth().TotalOut)
	assert.Positive(t, a.Bandwidth().TotalIn)
	assert.Equal(t, 0, a.Stats().Keys)
}

func TestNode_TraversalDisabledWithoutPeers(t *testing.T) {
	n := memnet.New()
	a := startNode(t, n)

	h := a.Traverse(pingHandler{}, "10.9.9.9:6881", nil, true, nil)
	require.NotNil(t, h)
	assert.ErrorIs(t, h.Err(), traversal.ErrNoRendezvous)
}

func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)
}
