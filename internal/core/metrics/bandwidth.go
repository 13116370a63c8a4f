package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// flow 单向累计值与速率
type flow struct {
	in, out         atomic.Int64
	inRate, outRate *RateMeter
}

func newFlow(clk clock.Clock) *flow {
	return &flow{inRate: NewRateMeter(clk), outRate: NewRateMeter(clk)}
}

func (f *flow) recv(n int64) {
	f.in.Add(n)
	f.inRate.Add(n)
}

func (f *flow) sent(n int64) {
	f.out.Add(n)
	f.outRate.Add(n)
}

func (f *flow) stats() Stats {
	if f == nil {
		return Stats{}
	}
	return Stats{
		TotalIn:  f.in.Load(),
		TotalOut: f.out.Load(),
		RateIn:   f.inRate.Rate(),
		RateOut:  f.outRate.Rate(),
	}
}

func (f *flow) lastUpdate() time.Time {
	in, out := f.inRate.LastUpdate(), f.outRate.LastUpdate()
	if in.After(out) {
		return in
	}
	return out
}

// BandwidthCounter 带宽计数器
//
// 按消息类型与对端地址分别统计，读写并发安全。
type BandwidthCounter struct {
	clock clock.Clock

	mu    sync.RWMutex
	total *flow
	types map[transport.MessageType]*flow
	peers map[string]*flow
}

// NewBandwidthCounter 创建带宽计数器
func NewBandwidthCounter(clk clock.Clock) *BandwidthCounter {
	if clk == nil {
		clk = clock.New()
	}
	bwc := &BandwidthCounter{clock: clk}
	bwc.reset()
	return bwc
}

func (bwc *BandwidthCounter) reset() {
	bwc.total = newFlow(bwc.clock)
	bwc.types = make(map[transport.MessageType]*flow)
	bwc.peers = make(map[string]*flow)
}

// flows 取出（必要时创建）三个层级的计数器
func (bwc *BandwidthCounter) flows(t transport.MessageType, peer string) (*flow, *flow, *flow) {
	bwc.mu.RLock()
	total, tf, pf := bwc.total, bwc.types[t], bwc.peers[peer]
	bwc.mu.RUnlock()
	if tf != nil && pf != nil {
		return total, tf, pf
	}

	bwc.mu.Lock()
	defer bwc.mu.Unlock()
	if tf = bwc.types[t]; tf == nil {
		tf = newFlow(bwc.clock)
		bwc.types[t] = tf
	}
	if pf = bwc.peers[peer]; pf == nil {
		pf = newFlow(bwc.clock)
		bwc.peers[peer] = pf
	}
	return bwc.total, tf, pf
}

// LogSent 实现 Reporter
func (bwc *BandwidthCounter) LogSent(t transport.MessageType, peer string, size int64) {
	total, tf, pf := bwc.flows(t, peer)
	total.sent(size)
	tf.sent(size)
	pf.sent(size)
}

// LogRecv 实现 Reporter
func (bwc *BandwidthCounter) LogRecv(t transport.MessageType, peer string, size int64) {
	total, tf, pf := bwc.flows(t, peer)
	total.recv(size)
	tf.recv(size)
	pf.recv(size)
}

// Totals 实现 Reporter
func (bwc *BandwidthCounter) Totals() Stats {
	bwc.mu.RLock()
	total := bwc.total
	bwc.mu.RUnlock()
	return total.stats()
}

// ForType 实现 Reporter
func (bwc *BandwidthCounter) ForType(t transport.MessageType) Stats {
	bwc.mu.RLock()
	f := bwc.types[t]
	bwc.mu.RUnlock()
	return f.stats()
}

// ByType 实现 Reporter；只含累计值
func (bwc *BandwidthCounter) ByType() map[transport.MessageType]Stats {
	bwc.mu.RLock()
	defer bwc.mu.RUnlock()
	out := make(map[transport.MessageType]Stats, len(bwc.types))
	for t, f := range bwc.types {
		out[t] = Stats{TotalIn: f.in.Load(), TotalOut: f.out.Load()}
	}
	return out
}

// ForPeer 实现 Reporter
func (bwc *BandwidthCounter) ForPeer(peer string) Stats {
	bwc.mu.RLock()
	f := bwc.peers[peer]
	bwc.mu.RUnlock()
	return f.stats()
}

// Peers 有统计的对端数
func (bwc *BandwidthCounter) Peers() int {
	bwc.mu.RLock()
	defer bwc.mu.RUnlock()
	return len(bwc.peers)
}

// Reset 实现 Reporter
func (bwc *BandwidthCounter) Reset() {
	bwc.mu.Lock()
	bwc.reset()
	bwc.mu.Unlock()
}

// TrimIdle 实现 Reporter；消息类型数量有限，不做清理
func (bwc *BandwidthCounter) TrimIdle(since time.Time) {
	bwc.mu.Lock()
	defer bwc.mu.Unlock()
	for peer, f := range bwc.peers {
		if f.lastUpdate().Before(since) {
			delete(bwc.peers, peer)
		}
	}
}
