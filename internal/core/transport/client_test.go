package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/core/transport/memnet"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

type node struct {
	ep     *memnet.Endpoint
	im     *transport.Importer
	disp   *transport.Dispatcher
	client *transport.Client
}

func newNode(t *testing.T, n *memnet.Network, min transport.ProtocolVersion) *node {
	t.Helper()
	ep := n.NewEndpoint()
	return newNodeOn(t, ep, min, ep.LocalAddr())
}

// newNodeOn 在给定端点上创建节点，declared 为节点对外声明的地址
func newNodeOn(t *testing.T, ep *memnet.Endpoint, min transport.ProtocolVersion, declared string) *node {
	t.Helper()
	im, err := transport.NewImporter(transport.ImporterConfig{MinVersion: min, HistorySize: 64}, nil, nil)
	require.NoError(t, err)
	local, err := im.Local(declared)
	require.NoError(t, err)
	disp := transport.NewDispatcher(im, local)
	ep.Serve(disp)
	t.Cleanup(func() { _ = ep.Close() })
	return &node{ep: ep, im: im, disp: disp, client: transport.NewClient(ep, im, local, time.Second)}
}

// TestClient_Ping 双方导入对方
func TestClient_Ping(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n, 0), newNode(t, n, 0)

	got, err := a.client.Ping(context.Background(), b.client.Local())
	require.NoError(t, err)
	assert.Equal(t, b.client.Local().Address(), got.Address())
	assert.Equal(t, transport.VersionCurrent, got.Version())

	_, ok := b.im.Lookup(a.client.Local().ID())
	assert.True(t, ok, "receiver should have imported the sender")
}

// TestClient_StoreAndLookup 处理器收到导入后的发送者与值
func TestClient_StoreAndLookup(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n, 0), newNode(t, n, 0)
	key := types.HashKey([]byte("k"))

	var stored []transport.Value
	b.disp.HandleFunc(transport.MsgStore, func(_ context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
		assert.Equal(t, a.client.Local().Address(), from.Address())
		stored = append(stored, req.Values...)
		return &transport.Message{Div: types.DivFrequency}, nil
	})
	b.disp.HandleFunc(transport.MsgLookup, func(_ context.Context, _ transport.Contact, req *transport.Message) (*transport.Message, error) {
		assert.Equal(t, uint16(5), req.MaxValues)
		return &transport.Message{Values: stored, Div: types.DivNone}, nil
	})

	div, err := a.client.Store(context.Background(), b.client.Local(), key, []transport.Value{{
		Payload: []byte("v"), Originator: a.client.Local(), LifeHours: 1, RepControl: types.RepControlDefault,
	}})
	require.NoError(t, err)
	assert.Equal(t, types.DivFrequency, div)

	reply, err := a.client.Lookup(context.Background(), b.client.Local(), key, 5, types.LookupNone)
	require.NoError(t, err)
	require.Len(t, reply.Values, 1)
	assert.Equal(t, []byte("v"), reply.Values[0].Payload)
	assert.Equal(t, types.DivNone, reply.Div)
}

// TestDispatcher_RejectsOldSender 低版本发送者在处理器之前被拒绝
func TestDispatcher_RejectsOldSender(t *testing.T) {
	n := memnet.New()
	strict := newNode(t, n, transport.VersionCurrent+1)
	a := newNode(t, n, 0)

	called := false
	strict.disp.HandleFunc(transport.MsgStore, func(context.Context, transport.Contact, *transport.Message) (*transport.Message, error) {
		called = true
		return nil, nil
	})

	_, err := a.client.Store(context.Background(), strict.client.Local(), types.HashKey([]byte("k")), nil)
	require.Error(t, err)
	var re *transport.RemoteError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Rejected())
	assert.False(t, called)
}

// TestDispatcher_ErrorMapping 处理器错误映射为回复状态
func TestDispatcher_ErrorMapping(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n, 0), newNode(t, n, 0)

	b.disp.HandleFunc(transport.MsgPunch, func(context.Context, transport.Contact, *transport.Message) (*transport.Message, error) {
		return nil, transport.ErrNoData
	})
	_, err := a.client.Punch(context.Background(), b.client.Local(), "10.9.9.9:1", nil)
	var re *transport.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, transport.StatusNotFound, re.Status)

	// 未注册的类型
	_, err = a.client.Bind(context.Background(), b.client.Local())
	require.ErrorAs(t, err, &re)
	assert.Equal(t, transport.StatusError, re.Status)
}

// TestClient_Unreachable 不可达对端从近邻中移除
func TestClient_Unreachable(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n, 0), newNode(t, n, 0)
	target := b.client.Local()
	_, err := a.client.Ping(context.Background(), target)
	require.NoError(t, err)
	_, ok := a.im.Lookup(target.ID())
	require.True(t, ok)

	require.NoError(t, b.ep.Close())
	_, err = a.client.Ping(context.Background(), target)
	assert.ErrorIs(t, err, transport.ErrUnreachable)
	_, ok = a.im.Lookup(target.ID())
	assert.False(t, ok)
}

// TestMemnet_NAT 不可达端点只接受已联系过的对端
func TestMemnet_NAT(t *testing.T) {
	n := memnet.New()
	a, b := newNode(t, n, 0), newNode(t, n, 0)
	b.ep.SetReachable(false)

	_, err := a.client.Ping(context.Background(), b.client.Local())
	assert.ErrorIs(t, err, transport.ErrUnreachable)

	_, err = b.client.Ping(context.Background(), a.client.Local())
	require.NoError(t, err)
	_, err = a.client.Ping(context.Background(), b.client.Local())
	assert.NoError(t, err)
}

// TestDispatcher_UnspecifiedSender 声明 0.0.0.0 的发送者按观察地址导入，
// 其发布的值归属到观察联系人
func TestDispatcher_UnspecifiedSender(t *testing.T) {
	n := memnet.New()
	recv := newNode(t, n, 0)
	a1 := newNodeOn(t, n.NewEndpoint(), 0, "0.0.0.0:6881")
	a2 := newNodeOn(t, n.NewEndpoint(), 0, "0.0.0.0:6881")
	require.Equal(t, a1.client.Local().ID(), a2.client.Local().ID())

	type stored struct {
		from       transport.Contact
		originator transport.Contact
	}
	var got []stored
	recv.disp.HandleFunc(transport.MsgStore, func(_ context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
		for _, v := range req.Values {
			got = append(got, stored{from: from, originator: v.Originator})
		}
		return &transport.Message{Key: req.Key}, nil
	})

	key := types.HashKey([]byte("unspecified"))
	for _, a := range []*node{a1, a2} {
		v := transport.Value{Payload: []byte(a.ep.LocalAddr()), Originator: a.client.Local(), Created: time.Now()}
		_, err := a.client.Store(context.Background(), recv.client.Local(), key, []transport.Value{v})
		require.NoError(t, err)
	}

	require.Len(t, got, 2)
	assert.Equal(t, a1.ep.LocalAddr(), got[0].from.Address())
	assert.Equal(t, a2.ep.LocalAddr(), got[1].from.Address())
	assert.NotEqual(t, got[0].from.ID(), got[1].from.ID())
	for _, g := range got {
		assert.Equal(t, g.from.ID(), g.originator.ID(), "value should be attributed to the observed sender")
	}

	_, ok := recv.im.Lookup(types.HashKey([]byte(a1.ep.LocalAddr())))
	assert.True(t, ok)
}

// TestClient_BindEchoesObservedAddress 地址转换之后的节点从 BIND 回复得知公网地址
func TestClient_BindEchoesObservedAddress(t *testing.T) {
	n := memnet.New()
	rv := newNode(t, n, 0)
	rv.disp.HandleFunc(transport.MsgBind, func(context.Context, transport.Contact, *transport.Message) (*transport.Message, error) {
		return &transport.Message{}, nil
	})

	ep := n.NewTranslatedEndpoint("198.51.100.7:40001")
	natted := newNodeOn(t, ep, 0, ep.LocalAddr())
	require.NotEqual(t, ep.PublicAddr(), natted.client.Local().Address())

	observed, err := natted.client.Bind(context.Background(), rv.client.Local())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7:40001", observed.Address())

	// 会合节点按公网地址认识它
	_, ok := rv.im.Lookup(observed.ID())
	assert.True(t, ok)
}
