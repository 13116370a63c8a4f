package traversal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// ============================================================================
//                              状态
// ============================================================================

// State 尝试状态
type State int32

const (
	StateQueued State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateDisabled
	StateCancelled
)

// String 返回状态名
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateDisabled:
		return "disabled"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal 是否为终态
func (s State) Terminal() bool { return s >= StateSucceeded }

// ============================================================================
//                              回调
// ============================================================================

// Handler 某个原因码的入站处理器
type Handler interface {
	Reason() types.Reason
	Name() string

	// Process 处理发起者经会合节点送来的载荷，返回的 map 作为回复；nil 表示不回复
	Process(originator transport.Contact, payload map[string]any) (map[string]any, error)
}

// Listener 接收尝试结果，每个尝试恰好回调一次
type Listener interface {
	OnSucceeded(rendezvous transport.Contact, target string, reply map[string]any)
	OnFailed(err error)
	OnDisabled()
}

// ListenerFuncs 以函数实现 Listener，nil 字段忽略
type ListenerFuncs struct {
	Succeeded func(rendezvous transport.Contact, target string, reply map[string]any)
	Failed    func(err error)
	Disabled  func()
}

func (l ListenerFuncs) OnSucceeded(rendezvous transport.Contact, target string, reply map[string]any) {
	if l.Succeeded != nil {
		l.Succeeded(rendezvous, target, reply)
	}
}

func (l ListenerFuncs) OnFailed(err error) {
	if l.Failed != nil {
		l.Failed(err)
	}
}

func (l ListenerFuncs) OnDisabled() {
	if l.Disabled != nil {
		l.Disabled()
	}
}

// ============================================================================
//                              Handle
// ============================================================================

// Handle 一次穿透尝试
//
// 尝试不会自动重试。取消是协作式的：排队中的尝试直接以 Cancelled 结束，
// 运行中的尝试其上下文被取消，结果以先到者为准。
type Handle struct {
	id       uuid.UUID
	target   string
	reason   types.Reason
	payload  map[string]any
	listener Listener
	created  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	err        error
	rendezvous transport.Contact
	reply      map[string]any
	done       chan struct{}
}

func newHandle(target string, reason types.Reason, payload map[string]any, l Listener, state State, now time.Time) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		id:       uuid.New(),
		target:   target,
		reason:   reason,
		payload:  payload,
		listener: l,
		created:  now,
		ctx:      ctx,
		cancel:   cancel,
		state:    state,
		done:     make(chan struct{}),
	}
}

// ID 尝试标识
func (h *Handle) ID() uuid.UUID { return h.id }

// Target 目标地址
func (h *Handle) Target() string { return h.target }

// Reason 原因码
func (h *Handle) Reason() types.Reason { return h.reason }

// Created 发起时间
func (h *Handle) Created() time.Time { return h.created }

// State 当前状态
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err 结束原因；成功或未结束时为 nil
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Result 成功时的会合节点与回复
func (h *Handle) Result() (transport.Contact, map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rendezvous, h.reply
}

// Done 结束时关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait 等待结束
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel 取消尝试；已结束的尝试不受影响
func (h *Handle) Cancel() {
	h.resolve(StateCancelled, ErrCancelled, transport.Contact{}, nil)
}

// begin 排队中的尝试进入运行；已取消时返回 false
func (h *Handle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateQueued && h.state != StateRunning {
		return false
	}
	h.state = StateRunning
	return true
}

// resolve 进入终态并通知监听者，重复调用无效
func (h *Handle) resolve(st State, err error, rendezvous transport.Contact, reply map[string]any) bool {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.state, h.err, h.rendezvous, h.reply = st, err, rendezvous, reply
	close(h.done)
	h.mu.Unlock()
	h.cancel()

	if h.listener == nil {
		return true
	}
	switch st {
	case StateSucceeded:
		h.listener.OnSucceeded(rendezvous, h.target, reply)
	case StateDisabled:
		h.listener.OnDisabled()
	default:
		h.listener.OnFailed(err)
	}
	return true
}
