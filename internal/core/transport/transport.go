// Package transport 实现联系人层与请求/回复传输
//
// 组成：
//   - ProtocolVersion 与特性表（version.go）
//   - Contact 与 Importer（contact.go、importer.go）
//   - 线路编码（wire.go、descriptor.go）
//   - Client 发送请求，Dispatcher 分发收到的请求
//   - 端点实现：transport/quic（生产）与 transport/memnet（进程内）
package transport

import (
	"context"

	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

var log = logger.Logger("transport")

// RequestHandler 处理收到的原始请求
//
// observed 为观察到的来源地址（host:port）。
type RequestHandler interface {
	HandleRequest(ctx context.Context, observed string, req []byte) []byte
}

// Endpoint 请求/回复端点
type Endpoint interface {
	// LocalAddr 实际监听地址
	LocalAddr() string

	// RoundTrip 发送请求并等待回复
	RoundTrip(ctx context.Context, to string, req []byte) ([]byte, error)

	// Serve 设置请求处理器；设置前收到的请求被丢弃
	Serve(h RequestHandler)

	Close() error
}

// LookupReply 查询回复
type LookupReply struct {
	Values []Value
	Div    types.DiversificationType
}

// Transport DHT 线路原语
type Transport interface {
	// Local 本节点联系人
	Local() Contact

	// Ping 探测对端并返回其最新联系人
	Ping(ctx context.Context, to Contact) (Contact, error)

	// Store 存储值，返回对端的分散信号
	Store(ctx context.Context, to Contact, key types.Key, values []Value) (types.DiversificationType, error)

	// Lookup 查询值
	Lookup(ctx context.Context, to Contact, key types.Key, maxValues uint16, flags types.LookupFlags) (*LookupReply, error)

	// Remove 删除本节点在对端的副本，返回对端生成的墓碑（可能为 nil）
	Remove(ctx context.Context, to Contact, key types.Key, flags types.Flags) (*Value, error)

	// KeyBlock 转发签名封禁请求
	KeyBlock(ctx context.Context, to Contact, request, signature []byte) error

	// Bind 向会合节点登记自己为可打洞目标，返回会合节点观察到的本节点联系人
	Bind(ctx context.Context, rendezvous Contact) (Contact, error)

	// Punch 请求会合节点把载荷转交给 target，返回目标的回复
	Punch(ctx context.Context, rendezvous Contact, target string, payload []byte) ([]byte, error)

	// Tunnel 会合节点把发起者的载荷转交给已绑定的目标
	Tunnel(ctx context.Context, target Contact, originator Contact, payload []byte) ([]byte, error)
}
