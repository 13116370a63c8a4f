package transport

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// 描述符格式：
//
//	version(1) | network(1) | uvarint hostLen | host | port(2, BE)
const maxHostLen = 255

// ExportDescriptor 序列化联系人
func ExportDescriptor(c Contact) []byte {
	host, portStr, err := net.SplitHostPort(c.address)
	if err != nil {
		return nil
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)

	buf := make([]byte, 0, 2+varint.MaxLenUvarint63+len(host)+2)
	buf = append(buf, byte(c.version), byte(c.network))
	buf = append(buf, varint.ToUvarint(uint64(len(host)))...)
	buf = append(buf, host...)
	return binary.BigEndian.AppendUint16(buf, uint16(port))
}

// parseDescriptor 解析描述符，不做策略检查
func parseDescriptor(data []byte) (host string, port uint16, version ProtocolVersion, network types.Network, err error) {
	if len(data) < 2 {
		return "", 0, 0, 0, ErrMalformed
	}
	version = ProtocolVersion(data[0])
	network = types.Network(data[1])
	if network != types.NetworkOrdinary && network != types.NetworkAlternative {
		return "", 0, 0, 0, ErrMalformed
	}
	rest := data[2:]
	n, read, err := varint.FromUvarint(rest)
	if err != nil || n > maxHostLen {
		return "", 0, 0, 0, ErrMalformed
	}
	rest = rest[read:]
	if uint64(len(rest)) != n+2 {
		return "", 0, 0, 0, ErrMalformed
	}
	host = string(rest[:n])
	port = binary.BigEndian.Uint16(rest[n:])
	return host, port, version, network, nil
}

// DecodeDescriptor 仅解析描述符，不检查最低版本与过滤器
//
// 用于值记录中携带的发布者；请求发送者必须经过 Importer。
func DecodeDescriptor(data []byte) (Contact, error) {
	host, port, version, network, err := parseDescriptor(data)
	if err != nil {
		return Contact{}, err
	}
	if host == "" || port == 0 {
		return Contact{}, ErrMalformed
	}
	return newContact(host, port, version, network), nil
}
