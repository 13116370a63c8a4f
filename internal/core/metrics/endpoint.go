package metrics

import (
	"context"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// CountingEndpoint 把经过端点的请求与回复计入 Reporter
type CountingEndpoint struct {
	transport.Endpoint
	r Reporter
}

// WrapEndpoint 包装端点；r 为 nil 时原样返回
func WrapEndpoint(ep transport.Endpoint, r Reporter) transport.Endpoint {
	if r == nil {
		return ep
	}
	return &CountingEndpoint{Endpoint: ep, r: r}
}

// DecorateEndpoint Fx 装饰器
func DecorateEndpoint(ep transport.Endpoint, r Reporter) transport.Endpoint {
	return WrapEndpoint(ep, r)
}

// messageType 编码消息的首字节即消息类型
func messageType(b []byte) transport.MessageType {
	if len(b) == 0 {
		return 0
	}
	return transport.MessageType(b[0])
}

// RoundTrip 实现 transport.Endpoint
func (e *CountingEndpoint) RoundTrip(ctx context.Context, to string, req []byte) ([]byte, error) {
	e.r.LogSent(messageType(req), to, int64(len(req)))
	resp, err := e.Endpoint.RoundTrip(ctx, to, req)
	if err == nil {
		e.r.LogRecv(messageType(resp), to, int64(len(resp)))
	}
	return resp, err
}

// Serve 实现 transport.Endpoint
func (e *CountingEndpoint) Serve(h transport.RequestHandler) {
	e.Endpoint.Serve(&countingHandler{h: h, r: e.r})
}

type countingHandler struct {
	h transport.RequestHandler
	r Reporter
}

func (c *countingHandler) HandleRequest(ctx context.Context, observed string, req []byte) []byte {
	c.r.LogRecv(messageType(req), observed, int64(len(req)))
	resp := c.h.HandleRequest(ctx, observed, req)
	if resp != nil {
		c.r.LogSent(messageType(resp), observed, int64(len(resp)))
	}
	return resp
}

var _ transport.Endpoint = (*CountingEndpoint)(nil)
