package dhtdb

import (
	"net/netip"
	"sync"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
)

// ipValues 按来源 IP 统计直接记录数
//
// 一个 IP 持有的直接记录达到上限后，新的直接记录被拒绝，
// 该 IP 在回落到上限以下之前只报告一次。替代网络的联系人没有 IP，不计数。
type ipValues struct {
	limit int

	mu       sync.Mutex
	counts   map[netip.Addr]int
	reported map[netip.Addr]struct{}
	pending  []netip.Addr
}

func newIPValues(limit int) *ipValues {
	return &ipValues{
		limit:    limit,
		counts:   make(map[netip.Addr]int),
		reported: make(map[netip.Addr]struct{}),
	}
}

func senderIP(c transport.Contact) (netip.Addr, bool) {
	ap := c.AddrPort()
	if !ap.IsValid() {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}

// acquire 为 sender 计入一条直接记录；force 时不检查上限
func (v *ipValues) acquire(sender transport.Contact, force bool) bool {
	ip, ok := senderIP(sender)
	if !ok {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !force && v.limit > 0 && v.counts[ip] >= v.limit {
		if _, done := v.reported[ip]; !done {
			v.reported[ip] = struct{}{}
			v.pending = append(v.pending, ip)
		}
		return false
	}
	v.counts[ip]++
	return true
}

func (v *ipValues) release(sender transport.Contact) {
	ip, ok := senderIP(sender)
	if !ok {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	n := v.counts[ip] - 1
	if n <= 0 {
		delete(v.counts, ip)
	} else {
		v.counts[ip] = n
	}
	if n < v.limit {
		delete(v.reported, ip)
	}
}

// count 当前计数
func (v *ipValues) count(ip netip.Addr) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[ip.Unmap()]
}

// drain 取出待报告的 IP
func (v *ipValues) drain() []netip.Addr {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.pending
	v.pending = nil
	return out
}

// reportCapped 把超过上限的 IP 报告给过滤器；过滤器不接收报告时只记录日志
func (db *DB) reportCapped() {
	ips := db.ipValues.drain()
	if len(ips) == 0 {
		return
	}
	reporter, _ := db.filter.(interfaces.AbuseReporter)
	for _, ip := range ips {
		log.Warn("来源 IP 直接记录数达到上限", "ip", ip.String(), "limit", db.ipValues.limit)
		if reporter != nil {
			reporter.ReportAbuse(ip, "dht: too many values from one address")
		}
	}
}
