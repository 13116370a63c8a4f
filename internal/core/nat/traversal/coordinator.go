// Package traversal 协调 NAT 穿透尝试
//
// 功能模块（如对等数据连接、通用消息、配对隧道）以原因码注册处理器，
// 然后请求穿透到某个目标。协调器把载荷打上原因码，交给打洞器经会合节点
// 转交给目标；目标侧的协调器按原因码把载荷分发给本地处理器并返回回复。
//
// 打洞器延迟解析：第一次需要时解析，成功后缓存，失败不缓存。
package traversal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

var log = logger.Logger("nat.traversal")

// Puncher 经会合节点打洞的子服务
type Puncher interface {
	// Punch 找到目标的会合节点并转交载荷，返回成功的会合节点与目标回复。
	// 目标没有任何会合节点时返回 ErrNoRendezvous。
	Punch(ctx context.Context, target string, payload []byte) (transport.Contact, []byte, error)

	// SendMessage 经指定会合节点向目标发送载荷
	SendMessage(ctx context.Context, rendezvous transport.Contact, target string, payload []byte) ([]byte, error)
}

// Resolver 解析打洞器；返回 nil 表示当前不可用
type Resolver func(ctx context.Context) (Puncher, error)

// Stats 协调器统计
type Stats struct {
	Attempts  uint64
	Succeeded uint64
	Failed    uint64
	Disabled  uint64
	Cancelled uint64
	QueueFull uint64
	Pending   int
	Running   int
}

type puncherBox struct{ p Puncher }

// Coordinator NAT 穿透协调器
type Coordinator struct {
	cfg   Config
	clock clock.Clock

	mu       sync.RWMutex
	handlers map[types.Reason]Handler

	resolver atomic.Pointer[Resolver]
	puncher  atomic.Pointer[puncherBox]
	sf       singleflight.Group

	pool   *pool
	closed atomic.Bool

	attempts, succeeded, failed, disabled, cancelled, queueFull atomic.Uint64
}

// New 创建协调器；resolver 可以稍后通过 SetResolver 提供
func New(cfg Config, resolver Resolver, clk clock.Clock) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	c := &Coordinator{
		cfg:      cfg,
		clock:    clk,
		handlers: make(map[types.Reason]Handler),
	}
	if resolver != nil {
		c.resolver.Store(&resolver)
	}
	c.pool = newPool(cfg.Workers, cfg.QueueSize, c.execute)
	return c, nil
}

// Start 启动工作协程
func (c *Coordinator) Start() {
	c.pool.start()
	log.Info("穿透协调器已启动", "workers", c.cfg.Workers, "queue", c.cfg.QueueSize, "enabled", c.cfg.Enabled)
}

// Close 停止工作协程，运行中与排队中的尝试以 Cancelled 结束
func (c *Coordinator) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.pool.stop()
	return nil
}

// SetResolver 设置打洞器解析函数
func (c *Coordinator) SetResolver(r Resolver) {
	c.resolver.Store(&r)
}

// ============================================================================
//                              处理器
// ============================================================================

// RegisterHandler 注册处理器，每个原因码只允许一个
func (c *Coordinator) RegisterHandler(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[h.Reason()]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, h.Reason())
	}
	c.handlers[h.Reason()] = h
	log.Debug("注册穿透处理器", "reason", h.Reason().String(), "name", h.Name())
	return nil
}

// UnregisterHandler 注销处理器
func (c *Coordinator) UnregisterHandler(reason types.Reason) {
	c.mu.Lock()
	delete(c.handlers, reason)
	c.mu.Unlock()
}

func (c *Coordinator) handler(reason types.Reason) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[reason]
}

// ============================================================================
//                              发起
// ============================================================================

// AttemptTraversal 请求穿透到 target
//
// 异步尝试进入有界队列后立即返回；队列已满时以 ErrQueueFull 结束且不占用队列。
// 同步尝试在调用者协程中执行，返回时已结束。结果只通过 listener 与 Handle 传递。
func (c *Coordinator) AttemptTraversal(h Handler, target string, payload map[string]any, synchronous bool, l Listener) *Handle {
	c.attempts.Add(1)
	initial := StateQueued
	if synchronous {
		initial = StateRunning
	}
	hd := newHandle(target, h.Reason(), payload, l, initial, c.clock.Now())

	switch {
	case c.closed.Load():
		c.failed.Add(1)
		hd.resolve(StateFailed, ErrClosed, transport.Contact{}, nil)
	case synchronous:
		if !c.pool.enter(hd) {
			c.failed.Add(1)
			hd.resolve(StateFailed, ErrClosed, transport.Contact{}, nil)
			break
		}
		c.execute(hd)
		c.pool.leave(hd)
	case !c.pool.submit(hd):
		c.queueFull.Add(1)
		log.Debug("穿透队列已满", "target", target, "reason", hd.reason.String())
		hd.resolve(StateFailed, ErrQueueFull, transport.Contact{}, nil)
	}
	return hd
}

// execute 执行一次尝试；异步尝试由工作协程调用
func (c *Coordinator) execute(h *Handle) {
	if !h.begin() {
		c.cancelled.Add(1)
		return
	}
	if !c.cfg.Enabled {
		c.disabled.Add(1)
		h.resolve(StateDisabled, ErrDisabled, transport.Contact{}, nil)
		return
	}

	p := c.resolvePuncher(h.ctx)
	if p == nil {
		c.disabled.Add(1)
		h.resolve(StateDisabled, ErrDisabled, transport.Contact{}, nil)
		return
	}

	data, err := EncodePayload(h.reason, h.payload)
	if err != nil {
		c.failed.Add(1)
		h.resolve(StateFailed, &TraversalError{Target: h.target, Cause: err}, transport.Contact{}, nil)
		return
	}

	rendezvous, reply, err := p.Punch(h.ctx, h.target, data)
	switch {
	case err == nil:
		var out map[string]any
		if len(reply) > 0 {
			if _, m, _, derr := DecodePayload(reply); derr == nil {
				out = m
			} else {
				log.Debug("无法解析目标回复", "target", h.target, "error", derr)
			}
		}
		if h.resolve(StateSucceeded, nil, rendezvous, out) {
			c.succeeded.Add(1)
			log.Debug("穿透成功", "target", h.target, "rendezvous", rendezvous.Address(), "reason", h.reason.String())
		}
	case h.ctx.Err() != nil:
		c.cancelled.Add(1)
		h.resolve(StateCancelled, ErrCancelled, transport.Contact{}, nil)
	case errors.Is(err, ErrNoRendezvous):
		c.failed.Add(1)
		h.resolve(StateFailed, ErrNoRendezvous, transport.Contact{}, nil)
	default:
		c.failed.Add(1)
		h.resolve(StateFailed, &TraversalError{Target: h.target, Cause: err}, transport.Contact{}, nil)
	}
}

// resolvePuncher 延迟解析打洞器；并发调用合并为一次，只缓存成功结果
func (c *Coordinator) resolvePuncher(ctx context.Context) Puncher {
	if b := c.puncher.Load(); b != nil {
		return b.p
	}
	rp := c.resolver.Load()
	if rp == nil {
		return nil
	}
	v, err, _ := c.sf.Do("puncher", func() (any, error) {
		if b := c.puncher.Load(); b != nil {
			return b.p, nil
		}
		p, err := (*rp)(ctx)
		if err != nil || p == nil {
			return nil, err
		}
		c.puncher.Store(&puncherBox{p: p})
		log.Info("打洞器已就绪")
		return p, nil
	})
	if err != nil {
		log.Debug("打洞器不可用", "error", err)
		return nil
	}
	p, _ := v.(Puncher)
	return p
}

// ============================================================================
//                              发送
// ============================================================================

// SendMessage 经已知会合节点向目标发送消息并等待回复
func (c *Coordinator) SendMessage(ctx context.Context, h Handler, rendezvous transport.Contact, target string, message map[string]any) (map[string]any, error) {
	p := c.resolvePuncher(ctx)
	if p == nil || !c.cfg.Enabled {
		return nil, ErrPuncherUnavailable
	}
	data, err := EncodePayload(h.Reason(), message)
	if err != nil {
		return nil, err
	}
	reply, err := p.SendMessage(ctx, rendezvous, target, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if len(reply) == 0 {
		return nil, nil
	}
	_, out, _, err := DecodePayload(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return out, nil
}

// ============================================================================
//                              目标侧
// ============================================================================

// ClientData 按载荷中的原因码分发给本地处理器
//
// 未注册的原因码或处理器出错时返回 nil，不报告错误。
func (c *Coordinator) ClientData(originator transport.Contact, payload map[string]any) map[string]any {
	raw, ok := payload[ReasonField]
	if !ok {
		return nil
	}
	reason, ok := reasonOf(raw)
	if !ok {
		log.Debug("无法识别的原因码类型", "value", raw, "originator", originator.Address())
		return nil
	}
	h := c.handler(reason)
	if h == nil {
		log.Debug("未注册的穿透原因码", "reason", reason.String(), "originator", originator.Address())
		return nil
	}
	body := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != ReasonField {
			body[k] = v
		}
	}
	reply, err := h.Process(originator, body)
	if err != nil {
		log.Debug("穿透处理器出错", "handler", h.Name(), "error", err)
		return nil
	}
	return reply
}

// HandleInbound 解码入站载荷、分发并编码回复；无回复时返回 nil
func (c *Coordinator) HandleInbound(originator transport.Contact, data []byte) []byte {
	reason, payload, ok, err := DecodePayload(data)
	if err != nil || !ok {
		return nil
	}
	payload[ReasonField] = float64(reason)
	reply := c.ClientData(originator, payload)
	if reply == nil {
		return nil
	}
	out, err := EncodePayload(reason, reply)
	if err != nil {
		log.Debug("编码回复失败", "reason", reason.String(), "error", err)
		return nil
	}
	return out
}

// Stats 返回统计
func (c *Coordinator) Stats() Stats {
	return Stats{
		Attempts:  c.attempts.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Disabled:  c.disabled.Load(),
		Cancelled: c.cancelled.Load(),
		QueueFull: c.queueFull.Load(),
		Pending:   c.pool.pending(),
		Running:   int(c.pool.running.Load()),
	}
}

// reasonOf 从载荷字段取原因码
//
// 解码后的载荷中数值为 float64；本地构造的载荷可能直接使用整数或 types.Reason。
func reasonOf(v any) (types.Reason, bool) {
	var n int64
	switch x := v.(type) {
	case types.Reason:
		return x, true
	case float64:
		if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		n = int64(x)
	case float32:
		return reasonOf(float64(x))
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint:
		if uint64(x) > math.MaxInt32 {
			return 0, false
		}
		n = int64(x)
	case uint64:
		if x > math.MaxInt32 {
			return 0, false
		}
		n = int64(x)
	default:
		return 0, false
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return types.Reason(n), true
}
