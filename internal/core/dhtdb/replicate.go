package dhtdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// Neighbours 提供候选近邻
type Neighbours interface {
	Recent() []transport.Contact
}

// PublishResult 一次发布的结果
type PublishResult struct {
	// Stored 接受存储的近邻数
	Stored int

	// Div 近邻返回的最强分散信号
	Div types.DiversificationType

	// Rejected 拒绝或未能存储的近邻及原因
	Rejected []PeerError
}

// PeerError 单个近邻的发布失败
type PeerError struct {
	Peer transport.Contact
	Err  error
}

func (e PeerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Peer.Address(), e.Err)
}

// Unwrap 实现 errors.Unwrap
func (e PeerError) Unwrap() error { return e.Err }

// Err 合并全部近邻错误；没有失败时返回 nil
func (r PublishResult) Err() error {
	var err error
	for _, pe := range r.Rejected {
		err = multierr.Append(err, pe)
	}
	return err
}

// Replicator 把本节点发布的记录与本地封禁扩散到近邻
//
// 存储挂起时不重新发布；休眠时重新发布周期放宽到 SleepRepublishInterval；
// 两者解除时立即重新发布一次。
type Replicator struct {
	db    *DB
	t     transport.Transport
	peers Neighbours

	mu   sync.Mutex
	last time.Time
}

// NewReplicator 创建复制驱动
func NewReplicator(db *DB, t transport.Transport, peers Neighbours) *Replicator {
	return &Replicator{db: db, t: t, peers: peers}
}

// Closest 按到 key 的 XOR 距离返回最近的 n 个近邻
func (r *Replicator) Closest(key types.Key, n int) []transport.Contact {
	local := r.t.Local().ID()
	var out []transport.Contact
	for _, c := range r.peers.Recent() {
		if c.ID() != local {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return key.CompareDistance(out[i].ID(), out[j].ID()) < 0
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (r *Replicator) factor(rec *Record) int {
	if f := rec.RepControl.Factor(); !rec.RepControl.IsDefault() && f > 0 {
		return int(f)
	}
	return r.db.cfg.ReplicationFactor
}

// Publish 把记录存储到最近的近邻
func (r *Replicator) Publish(ctx context.Context, rec *Record) PublishResult {
	peers := r.Closest(rec.Key, r.factor(rec))
	values := []transport.Value{rec.Value()}

	var (
		mu  sync.Mutex
		res = PublishResult{Div: types.DivNone}
		eg  errgroup.Group
	)
	// 单个近邻失败不影响其余近邻，错误收集到结果中
	for _, p := range peers {
		eg.Go(func() error {
			div, err := r.t.Store(ctx, p, rec.Key, values)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Debug("发布失败", "key", rec.Key.ShortString(), "peer", p.Address(), "error", err)
				res.Rejected = append(res.Rejected, PeerError{Peer: p, Err: err})
				return nil
			}
			res.Stored++
			if div > res.Div {
				res.Div = div
			}
			return nil
		})
	}
	_ = eg.Wait()

	if res.Div != types.DivNone {
		log.Info("近邻要求分散", "key", rec.Key.ShortString(), "div", res.Div.String())
	}
	return res
}

// RepublishOnce 重新发布全部本地记录并扩散本地封禁
//
// 挂起时跳过；休眠时距上次发布不足 SleepRepublishInterval 也跳过。
// 返回本次是否执行了发布。
func (r *Replicator) RepublishOnce(ctx context.Context) bool {
	if r.db.Suspended() {
		log.Debug("存储已挂起，跳过重新发布")
		return false
	}
	now := r.db.clock.Now()
	r.mu.Lock()
	if r.db.Sleeping() && !r.last.IsZero() && now.Sub(r.last) < r.db.cfg.SleepRepublishInterval {
		r.mu.Unlock()
		return false
	}
	r.last = now
	r.mu.Unlock()

	r.republish(ctx)
	return true
}

func (r *Replicator) republish(ctx context.Context) {
	var records []*Record
	r.db.RepublishOwned(func(rec *Record) { records = append(records, rec) })
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		r.Publish(ctx, rec)
	}

	for _, b := range r.db.DirectKeyBlocks() {
		for _, p := range r.Closest(b.Key, r.db.cfg.ReplicationFactor) {
			if err := r.t.KeyBlock(ctx, p, b.Request, b.Signature); err != nil {
				log.Debug("扩散封禁失败", "key", b.Key.ShortString(), "peer", p.Address(), "error", err)
			}
		}
	}
}

// Run 按 RepublishInterval 周期重新发布，直到 ctx 取消
func (r *Replicator) Run(ctx context.Context) {
	ticker := r.db.clock.Ticker(r.db.cfg.RepublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RepublishOnce(ctx)
		case <-r.db.Resumed():
			log.Info("存储恢复，立即重新发布")
			r.RepublishOnce(ctx)
		}
	}
}
