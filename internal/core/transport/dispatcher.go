package transport

import (
	"context"
	"errors"
	"sync"
)

// HandlerFunc 处理一类请求
//
// from 为已导入的发送者。返回的 *Message 只需填充业务字段，
// 类型、版本与发送者由 Dispatcher 填写。
type HandlerFunc func(ctx context.Context, from Contact, req *Message) (*Message, error)

// ErrRejected 处理器返回此错误（或包装它）时回复 StatusRejected
var ErrRejected = errors.New("transport: request rejected")

// ErrNoData 处理器返回此错误时回复 StatusNotFound
var ErrNoData = errors.New("transport: no data")

// Dispatcher 按消息类型分发请求
//
// 每个请求先导入发送者描述符，低于最低版本或被过滤的发送者
// 在任何存储或查询之前即被拒绝。PING 由 Dispatcher 直接回复。
type Dispatcher struct {
	importer *Importer
	local    Contact

	mu       sync.RWMutex
	handlers map[MessageType]HandlerFunc
}

// NewDispatcher 创建分发器
func NewDispatcher(importer *Importer, local Contact) *Dispatcher {
	return &Dispatcher{
		importer: importer,
		local:    local,
		handlers: make(map[MessageType]HandlerFunc),
	}
}

// HandleFunc 注册处理器；同类型重复注册会覆盖
func (d *Dispatcher) HandleFunc(t MessageType, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = fn
}

// HandleRequest 实现 RequestHandler
func (d *Dispatcher) HandleRequest(ctx context.Context, observed string, data []byte) []byte {
	req, err := DecodeMessage(data)
	if err != nil || req.Response {
		log.Debug("丢弃无法解析的请求", "from", observed, "error", err)
		return nil
	}

	reply := &Message{}
	from, err := d.importer.ImportObserved(req.Sender, observed)
	if err != nil {
		log.Debug("拒绝发送者", "from", observed, "type", req.Type, "error", err)
		return d.encodeReply(req, reply, StatusRejected, err)
	}

	// 回复中回显请求者的观察地址，NAT 后的节点以此得知自己的公网地址
	reply.Subject = ExportDescriptor(from)
	attributeValues(req, from)

	if req.Type == MsgPing {
		return d.encodeReply(req, reply, StatusOK, nil)
	}

	d.mu.RLock()
	fn, ok := d.handlers[req.Type]
	d.mu.RUnlock()
	if !ok {
		return d.encodeReply(req, reply, StatusError, ErrUnknownMessage)
	}

	out, err := fn(ctx, from, req)
	if out != nil {
		if out.Subject == nil {
			out.Subject = reply.Subject
		}
		reply = out
	}
	switch {
	case err == nil:
		return d.encodeReply(req, reply, StatusOK, nil)
	case errors.Is(err, ErrRejected):
		return d.encodeReply(req, reply, StatusRejected, err)
	case errors.Is(err, ErrNoData):
		return d.encodeReply(req, reply, StatusNotFound, err)
	default:
		return d.encodeReply(req, reply, StatusError, err)
	}
}

// attributeValues 把发送者自己发布的值归属到其观察联系人
//
// 值记录携带的发布者描述符是发送者的声明地址；不替换的话，NAT 后的
// 发布者在接收方看来既不是直接发布者，也无法删除自己的值。
func attributeValues(req *Message, from Contact) {
	if len(req.Values) == 0 {
		return
	}
	declared, err := DecodeDescriptor(req.Sender)
	if err != nil || declared.Address() == from.Address() {
		return
	}
	for i := range req.Values {
		if req.Values[i].Originator.Address() == declared.Address() {
			req.Values[i].Originator = from
		}
	}
}

// encodeReply 按双方都支持的版本编码回复
func (d *Dispatcher) encodeReply(req, reply *Message, status Status, err error) []byte {
	reply.Type = req.Type
	reply.Response = true
	reply.Version = MinVersion(VersionCurrent, req.Version)
	reply.Status = status
	reply.Sender = ExportDescriptor(d.local)
	if err != nil {
		reply.Error = err.Error()
	}
	if status != StatusOK {
		reply.Values = nil
	}
	data, encErr := reply.Encode()
	if encErr != nil {
		log.Warn("编码回复失败", "type", req.Type, "error", encErr)
		fallback := &Message{Type: req.Type, Response: true, Version: reply.Version,
			Status: StatusError, Sender: reply.Sender, Error: encErr.Error()}
		data, _ = fallback.Encode()
	}
	return data
}

var _ RequestHandler = (*Dispatcher)(nil)
