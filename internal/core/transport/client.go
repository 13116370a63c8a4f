package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// Client 基于 Endpoint 的 Transport 实现
type Client struct {
	ep       Endpoint
	importer *Importer
	local    Contact
	timeout  time.Duration
}

// NewClient 创建客户端
//
// local 为本节点对外公布的联系人。
func NewClient(ep Endpoint, importer *Importer, local Contact, timeout time.Duration) *Client {
	return &Client{ep: ep, importer: importer, local: local, timeout: timeout}
}

// Local 实现 Transport
func (c *Client) Local() Contact { return c.local }

// roundTrip 发送请求并解析回复
//
// 回复的发送者描述符同样经过导入，因此版本过低的对端在此被拒绝。
func (c *Client) roundTrip(ctx context.Context, to Contact, req *Message) (*Message, Contact, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req.Response = false
	req.Version = VersionCurrent
	req.Sender = ExportDescriptor(c.local)

	data, err := req.Encode()
	if err != nil {
		return nil, Contact{}, err
	}
	raw, err := c.ep.RoundTrip(ctx, to.Address(), data)
	if err != nil {
		c.importer.Forget(to.ID())
		return nil, Contact{}, fmt.Errorf("%w: %s: %v", ErrUnreachable, to.Address(), err)
	}
	resp, err := DecodeMessage(raw)
	if err != nil {
		return nil, Contact{}, err
	}
	if !resp.Response || resp.Type != req.Type {
		return nil, Contact{}, ErrUnexpectedReply
	}
	if resp.Status != StatusOK {
		return resp, Contact{}, &RemoteError{Type: resp.Type, Status: resp.Status, Message: resp.Error}
	}
	// 对端就在拨号地址上，声明地址仅用于版本与网络类别
	from, err := c.importer.ImportObserved(resp.Sender, to.Address())
	if err != nil {
		return nil, Contact{}, err
	}
	return resp, from, nil
}

// Ping 实现 Transport
func (c *Client) Ping(ctx context.Context, to Contact) (Contact, error) {
	_, from, err := c.roundTrip(ctx, to, &Message{Type: MsgPing})
	return from, err
}

// Store 实现 Transport
func (c *Client) Store(ctx context.Context, to Contact, key types.Key, values []Value) (types.DiversificationType, error) {
	resp, _, err := c.roundTrip(ctx, to, &Message{Type: MsgStore, Key: key, Values: values})
	if err != nil {
		return 0, err
	}
	if !resp.Div.Valid() {
		return types.DivNone, nil
	}
	return resp.Div, nil
}

// Lookup 实现 Transport
func (c *Client) Lookup(ctx context.Context, to Contact, key types.Key, maxValues uint16, flags types.LookupFlags) (*LookupReply, error) {
	resp, _, err := c.roundTrip(ctx, to, &Message{Type: MsgLookup, Key: key, MaxValues: maxValues, LookupFlags: flags})
	if err != nil {
		return nil, err
	}
	div := resp.Div
	if !div.Valid() {
		div = types.DivNone
	}
	return &LookupReply{Values: resp.Values, Div: div}, nil
}

// Remove 实现 Transport
func (c *Client) Remove(ctx context.Context, to Contact, key types.Key, flags types.Flags) (*Value, error) {
	resp, _, err := c.roundTrip(ctx, to, &Message{Type: MsgRemove, Key: key, Flags: flags})
	if err != nil {
		return nil, err
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	v := resp.Values[0]
	return &v, nil
}

// KeyBlock 实现 Transport
func (c *Client) KeyBlock(ctx context.Context, to Contact, request, signature []byte) error {
	_, _, err := c.roundTrip(ctx, to, &Message{Type: MsgKeyBlock, Payload: request, Signature: signature})
	return err
}

// Bind 实现 Transport
func (c *Client) Bind(ctx context.Context, rendezvous Contact) (Contact, error) {
	resp, _, err := c.roundTrip(ctx, rendezvous, &Message{Type: MsgBind})
	if err != nil {
		return Contact{}, err
	}
	observed, err := DecodeDescriptor(resp.Subject)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: missing observed address", ErrUnexpectedReply)
	}
	return observed, nil
}

// Punch 实现 Transport
func (c *Client) Punch(ctx context.Context, rendezvous Contact, target string, payload []byte) ([]byte, error) {
	resp, _, err := c.roundTrip(ctx, rendezvous, &Message{Type: MsgPunch, Target: target, Payload: payload})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Tunnel 实现 Transport
func (c *Client) Tunnel(ctx context.Context, target Contact, originator Contact, payload []byte) ([]byte, error) {
	resp, _, err := c.roundTrip(ctx, target, &Message{Type: MsgTunnel, Subject: ExportDescriptor(originator), Payload: payload})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

var _ Transport = (*Client)(nil)
