package config

import (
	"fmt"
	"net"
	"time"
)

// TransportConfig 联系人层与传输配置
type TransportConfig struct {
	// ListenAddr QUIC 监听地址
	ListenAddr string `json:"listen_addr"`

	// AdvertiseAddr 对外公布的地址（为空时使用监听地址）
	AdvertiseAddr string `json:"advertise_addr,omitempty"`

	// MinProtocolVersion 本地最低协议版本；只能提高编译期最低版本
	MinProtocolVersion uint8 `json:"min_protocol_version"`

	// RequestTimeout 单次请求超时
	RequestTimeout Duration `json:"request_timeout"`

	// MaxIdleTimeout QUIC 空闲超时
	MaxIdleTimeout Duration `json:"max_idle_timeout"`

	// MaxMessageSize 单条消息上限
	MaxMessageSize int `json:"max_message_size"`

	// ContactHistorySize 最近导入联系人缓存容量
	ContactHistorySize int `json:"contact_history_size"`

	// Bootstrap 引导节点地址（host:port）
	Bootstrap []string `json:"bootstrap,omitempty"`
}

// DefaultTransportConfig 默认配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddr:         "0.0.0.0:6881",
		RequestTimeout:     Duration(10 * time.Second),
		MaxIdleTimeout:     Duration(30 * time.Second),
		MaxMessageSize:     64 << 10,
		ContactHistorySize: 1024,
	}
}

// Validate 校验
func (c *TransportConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("transport: listen_addr: %w", err)
	}
	if c.AdvertiseAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdvertiseAddr); err != nil {
			return fmt.Errorf("transport: advertise_addr: %w", err)
		}
	}
	if c.RequestTimeout.Duration() <= 0 {
		return fmt.Errorf("transport: request_timeout must be positive")
	}
	if c.MaxMessageSize < 1024 {
		return fmt.Errorf("transport: max_message_size too small")
	}
	if c.ContactHistorySize <= 0 {
		return fmt.Errorf("transport: contact_history_size must be positive")
	}
	return nil
}
