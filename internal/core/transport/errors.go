package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrImport 联系人导入失败（版本过低、地址无效或被过滤）
	ErrImport = errors.New("transport: contact import failed")

	// ErrMalformed 无法解析的消息
	ErrMalformed = errors.New("transport: malformed message")

	// ErrMessageTooLarge 消息超过上限
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrValueTooLarge 值超过线路允许的长度
	ErrValueTooLarge = errors.New("transport: value too large")

	// ErrUnknownMessage 未注册的消息类型
	ErrUnknownMessage = errors.New("transport: unknown message type")

	// ErrUnreachable 对端不可达
	ErrUnreachable = errors.New("transport: peer unreachable")

	// ErrClosed 端点已关闭
	ErrClosed = errors.New("transport: endpoint closed")

	// ErrUnexpectedReply 回复类型与请求不符
	ErrUnexpectedReply = errors.New("transport: unexpected reply")
)

// ImportError 联系人导入错误
//
// errors.Is(err, ErrImport) 对所有 ImportError 成立。
type ImportError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: import %q: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("transport: import %q: %s", e.Address, e.Reason)
}

// Unwrap 实现 errors.Unwrap
func (e *ImportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrImport, e.Err}
	}
	return []error{ErrImport}
}

func importErr(address, reason string, err error) error {
	return &ImportError{Address: address, Reason: reason, Err: err}
}

// RemoteError 对端返回的错误
type RemoteError struct {
	Type    MessageType
	Status  Status
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("transport: remote %s %s: %s", e.Type, e.Status, e.Message)
}

// Rejected 对端是否拒绝了请求（导入失败、键被封禁等）
func (e *RemoteError) Rejected() bool {
	return e.Status == StatusRejected
}
