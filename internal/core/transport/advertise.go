package transport

import (
	"fmt"
	"net"
	"net/netip"
)

// interfaceAddrs 本机接口地址；测试中替换
var interfaceAddrs = net.InterfaceAddrs

// ResolveAdvertise 把未指定主机（0.0.0.0 或 ::）替换为本机接口地址
//
// 联系人 ID 由地址派生，以未指定地址公布会让所有默认配置的节点共享同一个 ID。
// 优先选择全局单播 IPv4，其次全局单播 IPv6，最后回环地址；
// 没有可用地址时返回错误，调用方应配置 AdvertiseAddr。
func ResolveAdvertise(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("transport: advertise %q: %w", addr, err)
	}
	if host != "" {
		ip, err := netip.ParseAddr(host)
		if err != nil || !ip.IsUnspecified() {
			return addr, nil
		}
	}

	addrs, err := interfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("transport: list interfaces: %w", err)
	}
	var v4, v6, loop netip.Addr
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		switch {
		case ip.IsLoopback():
			if !loop.IsValid() {
				loop = ip
			}
		case !ip.IsGlobalUnicast():
		case ip.Is4():
			if !v4.IsValid() {
				v4 = ip
			}
		default:
			if !v6.IsValid() {
				v6 = ip
			}
		}
	}
	for _, ip := range []netip.Addr{v4, v6, loop} {
		if ip.IsValid() {
			resolved := net.JoinHostPort(ip.String(), port)
			log.Info("公布地址未指定，使用接口地址", "listen", addr, "advertise", resolved)
			return resolved, nil
		}
	}
	return "", fmt.Errorf("transport: advertise %q: no usable interface address", addr)
}
