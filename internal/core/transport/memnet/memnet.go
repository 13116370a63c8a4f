// Package memnet 进程内网络，用于测试与单进程模拟
//
// 每个端点以 "10.0.x.y:port" 形式的地址注册到 Network；
// RoundTrip 直接调用目标端点的处理器，观察地址为发送端点的地址。
// NAT 可以通过 SetReachable 模拟：不可达的端点只能回复它主动联系过的对端。
// 地址转换由 NewTranslatedEndpoint 模拟：端点只知道自己的内网地址，
// 对端看到并拨号的是它的公网地址。
package memnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// ErrNoRoute 目标不存在或不可达
var ErrNoRoute = errors.New("memnet: no route to host")

// Network 进程内网络
type Network struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	next      atomic.Uint32
}

// New 创建网络
func New() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// NewEndpoint 分配地址并注册端点
func (n *Network) NewEndpoint() *Endpoint {
	i := n.next.Add(1)
	addr := fmt.Sprintf("10.0.%d.%d:%d", (i>>8)&0xFF, i&0xFF, 6881)
	return n.Attach(addr)
}

// Attach 以指定地址注册端点
func (n *Network) Attach(addr string) *Endpoint {
	return n.attach(addr, addr)
}

// NewTranslatedEndpoint 创建位于地址转换之后的端点
//
// LocalAddr 返回分配的内网地址；端点以 public 注册，
// 它发出的请求在对端看来来自 public。
func (n *Network) NewTranslatedEndpoint(public string) *Endpoint {
	i := n.next.Add(1)
	private := fmt.Sprintf("10.0.%d.%d:%d", (i>>8)&0xFF, i&0xFF, 6881)
	return n.attach(private, public)
}

func (n *Network) attach(addr, public string) *Endpoint {
	ep := &Endpoint{net: n, addr: addr, public: public, reachable: true, contacted: make(map[string]struct{})}
	n.mu.Lock()
	n.endpoints[public] = ep
	n.mu.Unlock()
	return ep
}

func (n *Network) lookup(addr string) *Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.endpoints[addr]
}

func (n *Network) remove(addr string) {
	n.mu.Lock()
	delete(n.endpoints, addr)
	n.mu.Unlock()
}

// Endpoint 进程内端点
type Endpoint struct {
	net    *Network
	addr   string
	public string

	mu        sync.RWMutex
	handler   transport.RequestHandler
	reachable bool
	contacted map[string]struct{}
	closed    bool

	requests atomic.Int64
}

// LocalAddr 实现 transport.Endpoint
func (e *Endpoint) LocalAddr() string { return e.addr }

// Serve 实现 transport.Endpoint
func (e *Endpoint) Serve(h transport.RequestHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// SetReachable 模拟 NAT：false 时只接受已联系过的对端的请求
func (e *Endpoint) SetReachable(ok bool) {
	e.mu.Lock()
	e.reachable = ok
	e.mu.Unlock()
}

// PublicAddr 对端看到的地址
func (e *Endpoint) PublicAddr() string { return e.public }

// Requests 已处理的请求数
func (e *Endpoint) Requests() int64 { return e.requests.Load() }

func (e *Endpoint) accepts(from string) (transport.RequestHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || e.handler == nil {
		return nil, false
	}
	if !e.reachable {
		if _, ok := e.contacted[from]; !ok {
			return nil, false
		}
	}
	return e.handler, true
}

// RoundTrip 实现 transport.Endpoint
func (e *Endpoint) RoundTrip(ctx context.Context, to string, req []byte) ([]byte, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, transport.ErrClosed
	}
	// 主动联系即打开本端的“NAT 映射”
	e.contacted[to] = struct{}{}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := e.net.lookup(to)
	if dst == nil {
		return nil, ErrNoRoute
	}
	h, ok := dst.accepts(e.public)
	if !ok {
		return nil, ErrNoRoute
	}
	dst.requests.Add(1)

	resp := h.HandleRequest(ctx, e.public, append([]byte(nil), req...))
	if resp == nil {
		return nil, fmt.Errorf("memnet: %s dropped request", to)
	}
	return resp, nil
}

// Close 实现 transport.Endpoint
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.net.remove(e.public)
	return nil
}

var _ transport.Endpoint = (*Endpoint)(nil)
