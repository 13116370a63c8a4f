package puncher

import (
	"context"
	"fmt"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// RegisterHandlers 注册 BIND、PUNCH 与 TUNNEL 处理器
func (p *Puncher) RegisterHandlers(d *transport.Dispatcher) {
	d.HandleFunc(transport.MsgBind, p.handleBind)
	d.HandleFunc(transport.MsgPunch, p.handlePunch)
	d.HandleFunc(transport.MsgTunnel, p.handleTunnel)
}

// handleBind 会合节点记录目标；from 为观察到的地址，即目标的 NAT 映射
func (p *Puncher) handleBind(_ context.Context, from transport.Contact, _ *transport.Message) (*transport.Message, error) {
	p.bindings.Add(from.Address(), from)
	log.Debug("目标已绑定", "target", from.Address())
	return &transport.Message{}, nil
}

// handlePunch 会合节点把发起者的载荷转交给已绑定的目标
func (p *Puncher) handlePunch(ctx context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
	target, ok := p.bindings.Get(req.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", transport.ErrNoData, ErrNotBound, req.Target)
	}
	reply, err := p.t.Tunnel(ctx, target, from, req.Payload)
	if err != nil {
		p.bindings.Remove(req.Target)
		return nil, fmt.Errorf("puncher: tunnel to %s: %w", req.Target, err)
	}
	return &transport.Message{Payload: reply}, nil
}

// handleTunnel 目标处理转交来的载荷，并主动联系发起者
func (p *Puncher) handleTunnel(_ context.Context, _ transport.Contact, req *transport.Message) (*transport.Message, error) {
	originator, err := p.im.ImportDescriptor(req.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrRejected, err)
	}

	var reply []byte
	if p.inbound != nil {
		reply = p.inbound.HandleInbound(originator, req.Payload)
	}
	go p.openMapping(originator)
	return &transport.Message{Payload: reply}, nil
}

// openMapping 向发起者发送 PING，使其此后可以直接联系本节点
func (p *Puncher) openMapping(originator transport.Contact) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := p.t.Ping(ctx, originator); err != nil {
		log.Debug("打开映射失败", "originator", originator.Address(), "error", err)
	}
}
