package transport

import (
	"net"
	"net/netip"
	"strconv"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// Contact 远端节点：地址、协商版本与网络类别
//
// 导入后不可变。ID 由地址派生，用作发布者身份。
type Contact struct {
	address  string
	addrPort netip.AddrPort
	version  ProtocolVersion
	network  types.Network
	id       types.Key
}

func newContact(host string, port uint16, version ProtocolVersion, network types.Network) Contact {
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	c := Contact{
		address: address,
		version: version,
		network: network,
		id:      types.HashKey([]byte(address)),
	}
	if network == types.NetworkOrdinary {
		if ip, err := netip.ParseAddr(host); err == nil {
			c.addrPort = netip.AddrPortFrom(ip.Unmap(), port)
		}
	}
	return c
}

// Address host:port
func (c Contact) Address() string { return c.address }

// AddrPort 普通网络的 IP 地址；替代网络返回无效值
func (c Contact) AddrPort() netip.AddrPort { return c.addrPort }

// Version 协商版本
func (c Contact) Version() ProtocolVersion { return c.version }

// Network 网络类别
func (c Contact) Network() types.Network { return c.network }

// ID 由地址派生的 20 字节标识
func (c Contact) ID() types.Key { return c.id }

// IsZero 是否为空联系人
func (c Contact) IsZero() bool { return c.address == "" }

// Supports 对端是否支持特性
func (c Contact) Supports(f Feature) bool { return c.version.Supports(f) }

// Equal 地址与版本相同
func (c Contact) Equal(o Contact) bool {
	return c.address == o.address && c.version == o.version && c.network == o.network
}

// String 日志用表示
func (c Contact) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return c.address + "/" + c.version.String()
}
