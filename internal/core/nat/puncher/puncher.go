// Package puncher 经 DHT 会合节点转交穿透载荷
//
// 目标节点向会合节点登记（BIND），并把会合节点描述符发布到
// hash("punch-rendezvous:" + 目标地址) 之下。发起者先查本地存储，
// 再向近邻 LOOKUP，找到会合节点后发送 PUNCH；会合节点以 TUNNEL
// 转交给已绑定的目标，目标回复后主动 PING 发起者以打开 NAT 映射。
package puncher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// 包级别日志实例
var log = logger.Logger("nat.puncher")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrNotReady 传输层尚未开始服务
	ErrNotReady = errors.New("puncher: not ready")

	// ErrNotBound 目标未在本会合节点登记
	ErrNotBound = errors.New("puncher: target not bound")
)

// ============================================================================
//                              配置
// ============================================================================

// Config 打洞器配置
type Config struct {
	// BindingTTL 会合节点保存绑定的时长
	BindingTTL time.Duration

	// MaxBindings 会合节点最多保存的绑定数
	MaxBindings int

	// RebindInterval 目标节点重新登记的间隔
	RebindInterval time.Duration

	// MaxCandidates 一次打洞最多尝试的会合节点数
	MaxCandidates int

	// RecordLifeHours 会合记录的寿命（小时）
	RecordLifeHours byte
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BindingTTL:      10 * time.Minute,
		MaxBindings:     4096,
		RebindInterval:  5 * time.Minute,
		MaxCandidates:   4,
		RecordLifeHours: 1,
	}
}

// Validate 验证配置，非法值回退为默认值
func (c *Config) Validate() {
	d := DefaultConfig()
	if c.BindingTTL <= 0 {
		c.BindingTTL = d.BindingTTL
	}
	if c.MaxBindings <= 0 {
		c.MaxBindings = d.MaxBindings
	}
	if c.RebindInterval <= 0 {
		c.RebindInterval = d.RebindInterval
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.RecordLifeHours == 0 {
		c.RecordLifeHours = d.RecordLifeHours
	}
}

// pingTimeout 目标打开映射时 PING 的超时
const pingTimeout = 5 * time.Second

// RendezvousKey 目标会合记录的键
func RendezvousKey(target string) types.Key {
	return types.HashKey([]byte("punch-rendezvous:" + target))
}

// ============================================================================
//                              Puncher 结构
// ============================================================================

// Inbound 目标侧处理转交来的载荷
type Inbound interface {
	HandleInbound(originator transport.Contact, data []byte) []byte
}

// Puncher 基于 DHT 的打洞器
type Puncher struct {
	cfg   Config
	clock clock.Clock

	t       transport.Transport
	im      *transport.Importer
	db      *dhtdb.DB
	repl    *dhtdb.Replicator
	inbound Inbound

	// 会合节点侧：目标地址 -> 目标联系人
	bindings *expirable.LRU[string, transport.Contact]

	// 目标侧：当前登记的会合节点
	mu      sync.Mutex
	current transport.Contact

	ready atomic.Bool
}

// 确保实现接口
var _ traversal.Puncher = (*Puncher)(nil)

// New 创建打洞器
func New(cfg Config, t transport.Transport, im *transport.Importer, db *dhtdb.DB, repl *dhtdb.Replicator, inbound Inbound, clk clock.Clock) *Puncher {
	cfg.Validate()
	if clk == nil {
		clk = clock.New()
	}
	return &Puncher{
		cfg:      cfg,
		clock:    clk,
		t:        t,
		im:       im,
		db:       db,
		repl:     repl,
		inbound:  inbound,
		bindings: expirable.NewLRU[string, transport.Contact](cfg.MaxBindings, nil, cfg.BindingTTL),
	}
}

// SetReady 标记传输层已开始服务
func (p *Puncher) SetReady(v bool) { p.ready.Store(v) }

// Resolve 供协调器延迟解析；传输层未就绪时返回 ErrNotReady
func (p *Puncher) Resolve(context.Context) (traversal.Puncher, error) {
	if !p.ready.Load() {
		return nil, ErrNotReady
	}
	return p, nil
}

// Current 当前登记的会合节点
func (p *Puncher) Current() (transport.Contact, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, !p.current.IsZero()
}

// Bindings 会合节点侧保存的绑定数
func (p *Puncher) Bindings() int { return p.bindings.Len() }

// ============================================================================
//                              目标侧
// ============================================================================

// Bind 向会合节点登记并发布会合记录
//
// 会合节点按观察到的地址保存绑定，发起者也只知道这个地址，
// 因此记录发布在会合节点回显的公网地址之下，而不是本地声明的地址。
func (p *Puncher) Bind(ctx context.Context, rendezvous transport.Contact) error {
	public, err := p.t.Bind(ctx, rendezvous)
	if err != nil {
		return fmt.Errorf("puncher: bind %s: %w", rendezvous.Address(), err)
	}

	key := RendezvousKey(public.Address())
	rec, err := p.db.StoreLocal(key, transport.ExportDescriptor(rendezvous), 0, p.cfg.RecordLifeHours, types.RepControlDefault)
	if err != nil {
		return fmt.Errorf("puncher: publish rendezvous: %w", err)
	}
	res := p.repl.Publish(ctx, rec)

	p.mu.Lock()
	p.current = rendezvous
	p.mu.Unlock()

	log.Info("已登记会合节点", "rendezvous", rendezvous.Address(), "public", public.Address(), "published", res.Stored)
	return nil
}

// rebind 刷新当前登记；没有登记时依次尝试已知联系人
func (p *Puncher) rebind(ctx context.Context) {
	local := p.t.Local().ID()
	var candidates []transport.Contact
	if c, ok := p.Current(); ok {
		candidates = append(candidates, c)
	}
	candidates = append(candidates, p.im.Recent()...)

	for _, c := range candidates {
		if c.ID() == local {
			continue
		}
		if err := p.Bind(ctx, c); err != nil {
			log.Debug("登记会合节点失败", "rendezvous", c.Address(), "error", err)
			continue
		}
		return
	}
}

// Run 周期性重新登记，直到 ctx 取消
func (p *Puncher) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.cfg.RebindInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.rebind(ctx)
		}
	}
}

// ============================================================================
//                              发起侧
// ============================================================================

// Punch 实现 traversal.Puncher
func (p *Puncher) Punch(ctx context.Context, target string, payload []byte) (transport.Contact, []byte, error) {
	candidates := p.findRendezvous(ctx, target)
	if len(candidates) == 0 {
		return transport.Contact{}, nil, traversal.ErrNoRendezvous
	}

	var lastErr error
	for _, rv := range candidates {
		if err := ctx.Err(); err != nil {
			return transport.Contact{}, nil, err
		}
		reply, err := p.t.Punch(ctx, rv, target, payload)
		if err == nil {
			log.Debug("经会合节点转交成功", "target", target, "rendezvous", rv.Address())
			return rv, reply, nil
		}
		log.Debug("会合节点转交失败", "target", target, "rendezvous", rv.Address(), "error", err)
		lastErr = err
	}
	return transport.Contact{}, nil, lastErr
}

// SendMessage 实现 traversal.Puncher
func (p *Puncher) SendMessage(ctx context.Context, rendezvous transport.Contact, target string, payload []byte) ([]byte, error) {
	return p.t.Punch(ctx, rendezvous, target, payload)
}

// findRendezvous 先查本地存储，再向近邻查询
func (p *Puncher) findRendezvous(ctx context.Context, target string) []transport.Contact {
	key := RendezvousKey(target)
	seen := make(map[string]struct{})
	var out []transport.Contact

	add := func(originator transport.Contact, descriptor []byte) {
		// 只接受目标自己发布的记录
		if originator.Address() != target || len(out) >= p.cfg.MaxCandidates {
			return
		}
		c, err := p.im.ImportDescriptor(descriptor)
		if err != nil {
			return
		}
		if _, dup := seen[c.Address()]; dup {
			return
		}
		seen[c.Address()] = struct{}{}
		out = append(out, c)
	}

	for _, rec := range p.db.GetAll(key) {
		add(rec.Originator, rec.Payload)
	}
	if len(out) > 0 {
		return out
	}

	for _, peer := range p.repl.Closest(key, p.db.Config().ReplicationFactor) {
		reply, err := p.t.Lookup(ctx, peer, key, 0, types.LookupNone)
		if err != nil {
			log.Debug("查询会合记录失败", "peer", peer.Address(), "error", err)
			continue
		}
		for _, v := range reply.Values {
			add(v.Originator, v.Payload)
		}
	}
	return out
}
