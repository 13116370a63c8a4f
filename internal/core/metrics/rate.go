package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// RateMeter - 速率计算器
// ============================================================================

const rateBuckets = 60

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶计算最近 60 秒的平均速率；读取时也会推进窗口，
// 因此长时间无流量后速率归零。
type RateMeter struct {
	clock clock.Clock

	mu       sync.Mutex
	buckets  [rateBuckets]int64
	idx      int
	tick     time.Time // 当前桶的起始秒
	lastTime time.Time // 最后一次写入
}

// NewRateMeter 创建速率计算器；clk 为 nil 时使用系统时钟
func NewRateMeter(clk clock.Clock) *RateMeter {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &RateMeter{clock: clk, tick: now.Truncate(time.Second), lastTime: now}
}

// advance 把窗口推进到 now，清空经过的桶
func (r *RateMeter) advance(now time.Time) {
	sec := now.Truncate(time.Second)
	steps := int(sec.Sub(r.tick) / time.Second)
	if steps <= 0 {
		return
	}
	if steps >= rateBuckets {
		r.buckets = [rateBuckets]int64{}
	} else {
		for i := 0; i < steps; i++ {
			r.idx = (r.idx + 1) % rateBuckets
			r.buckets[r.idx] = 0
		}
	}
	r.tick = sec
}

// Add 把字节数计入当前桶
func (r *RateMeter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.advance(now)
	r.buckets[r.idx] += n
	r.lastTime = now
}

// Rate 最近 60 秒的平均速率（字节/秒）
func (r *RateMeter) Rate() float64 {
	return float64(r.Window()) / rateBuckets
}

// Window 最近 60 秒的总量
func (r *RateMeter) Window() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(r.clock.Now())
	var total int64
	for _, v := range r.buckets {
		total += v
	}
	return total
}

// LastUpdate 最后写入时间
func (r *RateMeter) LastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTime
}
