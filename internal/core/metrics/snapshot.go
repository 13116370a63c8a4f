package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
)

var log = logger.Logger("metrics")

// NodeSnapshot 节点统计快照
type NodeSnapshot struct {
	Timestamp     time.Time
	UptimeSeconds int64

	Store     dhtdb.Snapshot
	Traversal traversal.Stats
	Bandwidth Stats

	// 距上次快照的每分钟速率
	StoresPerMin  float64
	LookupsPerMin float64
}

// Snapshotter 周期性收集并输出快照日志
type Snapshotter struct {
	src   Sources
	clock clock.Clock
	start time.Time

	mu          sync.Mutex
	last        *NodeSnapshot
	lastStores  uint64
	lastLookups uint64
	lastTime    time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotter 创建快照收集器
func NewSnapshotter(src Sources, clk clock.Clock) *Snapshotter {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &Snapshotter{src: src, clock: clk, start: now, lastTime: now}
}

// Start 启动周期性快照；interval <= 0 时不启动
func (s *Snapshotter) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, interval)
	log.Info("统计快照已启动", "interval", interval)
}

// Stop 停止周期性快照
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Snapshotter) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log(s.Collect())
		}
	}
}

// Collect 立即收集一次快照
func (s *Snapshotter) Collect() *NodeSnapshot {
	now := s.clock.Now()
	snap := &NodeSnapshot{
		Timestamp:     now,
		UptimeSeconds: int64(now.Sub(s.start).Seconds()),
	}
	if s.src.DB != nil {
		snap.Store = s.src.DB.Stats()
	}
	if s.src.Traversal != nil {
		snap.Traversal = s.src.Traversal.Stats()
	}
	if s.src.Bandwidth != nil {
		snap.Bandwidth = s.src.Bandwidth.Totals()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mins := now.Sub(s.lastTime).Minutes(); mins > 0 {
		snap.StoresPerMin = float64(snap.Store.Stores-s.lastStores) / mins
		snap.LookupsPerMin = float64(snap.Store.Lookups-s.lastLookups) / mins
	}
	s.last = snap
	s.lastStores, s.lastLookups, s.lastTime = snap.Store.Stores, snap.Store.Lookups, now
	return snap
}

// Last 最近一次快照
func (s *Snapshotter) Last() *NodeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Snapshotter) log(n *NodeSnapshot) {
	log.Info("节点统计快照",
		"uptime", n.UptimeSeconds,
		// 存储
		"keys", n.Store.Keys,
		"values", n.Store.OwnedValues+n.Store.DirectValues+n.Store.IndirectValues,
		"sizeBytes", n.Store.TotalSize,
		"divFreq", n.Store.DivFrequencyKeys,
		"divSize", n.Store.DivSizeKeys,
		"blocks", n.Store.Blocks,
		"storesPerMin", n.StoresPerMin,
		"lookupsPerMin", n.LookupsPerMin,
		// 穿透
		"travSucceeded", n.Traversal.Succeeded,
		"travFailed", n.Traversal.Failed,
		"travPending", n.Traversal.Pending,
		// 带宽
		"bytesIn", n.Bandwidth.TotalIn,
		"bytesOut", n.Bandwidth.TotalOut,
	)
}
