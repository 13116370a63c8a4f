package dhtdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	store "github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/metrics"
	"github.com/dep2p/go-dhtdb/internal/core/nat/puncher"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/core/storageblock"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

var log = logger.Logger("dhtdb.node")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node DHT 存储节点
type Node struct {
	mu     sync.Mutex
	config *nodeConfig
	app    *fx.App
	state  NodeState
	closed bool

	// 由 Fx 填充
	db           *store.DB
	repl         *store.Replicator
	blocks       *storageblock.Registry
	transport    transport.Transport
	importer     *transport.Importer
	local        transport.Contact
	bootstrapper *transport.Bootstrapper
	coordinator  *traversal.Coordinator
	puncher      *puncher.Puncher
	reporter     metrics.Reporter
}

// New 创建节点，不启动
func New(_ context.Context, opts ...Option) (*Node, error) {
	cfg, err := newNodeConfig(opts)
	if err != nil {
		return nil, err
	}
	n := &Node{config: cfg}
	app, err := buildFxApp(cfg, n)
	if err != nil {
		return nil, err
	}
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("dhtdb: assemble: %w", err)
	}
	n.app = app
	return n, nil
}

// Start 创建并启动节点
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	n, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// State 当前状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Local 本节点联系人
func (n *Node) Local() transport.Contact { return n.local }

// DB 键值存储
func (n *Node) DB() *store.DB { return n.db }

// Blocks 键封禁登记表
func (n *Node) Blocks() *storageblock.Registry { return n.blocks }

// Traversal 穿透协调器
func (n *Node) Traversal() *traversal.Coordinator { return n.coordinator }

// Puncher 打洞器
func (n *Node) Puncher() *puncher.Puncher { return n.puncher }

// Stats 存储统计快照
func (n *Node) Stats() store.Snapshot { return n.db.Stats() }

// Bandwidth 传输流量统计
func (n *Node) Bandwidth() metrics.Stats { return n.reporter.Totals() }

// Connect Ping 一个地址，成功后该节点成为近邻候选
func (n *Node) Connect(ctx context.Context, addr string) (transport.Contact, error) {
	if err := n.checkRunning(); err != nil {
		return transport.Contact{}, err
	}
	c, err := n.importer.ImportContact(addr, n.importer.MinVersion(), false)
	if err != nil {
		return transport.Contact{}, err
	}
	return n.transport.Ping(ctx, c)
}

// ════════════════════════════════════════════════════════════════════════════
//                              键值操作
// ════════════════════════════════════════════════════════════════════════════

// Put 本地存储并发布到最近的近邻
func (n *Node) Put(ctx context.Context, key, value []byte, ttlHours byte) (store.PublishResult, error) {
	if err := n.checkRunning(); err != nil {
		return store.PublishResult{}, err
	}
	rec, err := n.db.StoreLocal(types.HashKey(key), value, 0, ttlHours, types.RepControlDefault)
	if err != nil {
		return store.PublishResult{}, err
	}
	res := n.repl.Publish(ctx, rec)
	if res.Stored == 0 && len(res.Rejected) > 0 {
		return res, fmt.Errorf("dhtdb: publish: %w", res.Err())
	}
	return res, nil
}

// Get 返回键的全部值：本地有值时直接返回，否则并发查询最近的近邻
func (n *Node) Get(ctx context.Context, key []byte) ([][]byte, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	k := types.HashKey(key)
	if recs := n.db.GetAll(k); len(recs) > 0 {
		return payloads(recs), nil
	}

	var (
		mu    sync.Mutex
		found []*store.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range n.repl.Closest(k, n.db.Config().ReplicationFactor) {
		g.Go(func() error {
			reply, err := n.transport.Lookup(gctx, peer, k, 0, types.LookupNone)
			if err != nil {
				log.Debug("近邻查询失败", "peer", peer.Address(), "error", err)
				return nil
			}
			mu.Lock()
			for _, v := range reply.Values {
				found = append(found, store.FromValue(k, v))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Created.Before(found[j].Created) })
	// 近邻只返回墓碑时值已被删除
	out := payloads(found)
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Delete 删除本地记录并通知最近的近邻
func (n *Node) Delete(ctx context.Context, key []byte) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	k := types.HashKey(key)
	if _, err := n.db.Remove(n.local, k, 0); err != nil {
		return err
	}

	var errs []error
	for _, peer := range n.repl.Closest(k, n.db.Config().ReplicationFactor) {
		if _, err := n.transport.Remove(ctx, peer, k, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		log.Debug("部分近邻删除失败", "key", k.ShortString(), "failed", len(errs))
	}
	return nil
}

// BlockKey 处理本地签发的封禁请求；近邻在下次重新发布时收到
func (n *Node) BlockKey(request, signature []byte) (*storageblock.Block, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.db.KeyBlockRequest(nil, request, signature)
}

// Traverse 请求 NAT 穿透到 target
func (n *Node) Traverse(h traversal.Handler, target string, payload map[string]any, synchronous bool, l traversal.Listener) *traversal.Handle {
	return n.coordinator.AttemptTraversal(h, target, payload, synchronous, l)
}

func (n *Node) checkRunning() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}
}

func payloads(recs []*store.Record) [][]byte {
	seen := make(map[string]struct{}, len(recs))
	out := make([][]byte, 0, len(recs))
	for _, r := range recs {
		if r.IsTombstone() {
			continue
		}
		if _, dup := seen[string(r.Payload)]; dup {
			continue
		}
		seen[string(r.Payload)] = struct{}{}
		out = append(out, r.Payload)
	}
	return out
}

