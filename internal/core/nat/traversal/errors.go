package traversal

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull 异步队列已满
	ErrQueueFull = errors.New("traversal: queue full")

	// ErrDisabled 没有可用的打洞器
	ErrDisabled = errors.New("traversal: disabled")

	// ErrNoRendezvous 目标没有可用的会合节点
	ErrNoRendezvous = errors.New("traversal: no rendezvous")

	// ErrCancelled 尝试被取消
	ErrCancelled = errors.New("traversal: cancelled")

	// ErrPuncherUnavailable 发送消息时打洞器不可用
	ErrPuncherUnavailable = errors.New("traversal: puncher unavailable")

	// ErrSendFailed 经会合节点发送消息失败
	ErrSendFailed = errors.New("traversal: send failed")

	// ErrHandlerExists 同一原因码重复注册
	ErrHandlerExists = errors.New("traversal: handler already registered")

	// ErrClosed 协调器已关闭
	ErrClosed = errors.New("traversal: closed")

	// ErrBadPayload 载荷无法编码或解码
	ErrBadPayload = errors.New("traversal: bad payload")
)

// TraversalError 打洞过程失败
type TraversalError struct {
	Target string
	Cause  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("traversal: punch %s failed: %v", e.Target, e.Cause)
}

// Unwrap 实现 errors.Unwrap
func (e *TraversalError) Unwrap() error { return e.Cause }
