package dhtdb

import (
	"context"
)

// Start 启动后台维护循环，周期为 MaintenanceInterval
//
// 维护循环在 ctx 取消或 Destroy 时退出。
func (db *DB) Start(ctx context.Context) {
	if db.destroyed.Load() || !db.started.CompareAndSwap(false, true) {
		return
	}
	ticker := db.clock.Ticker(db.cfg.MaintenanceInterval)
	go func() {
		defer close(db.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-db.stop:
				return
			case <-ticker.C:
				db.Maintain()
			}
		}
	}()
	log.Info("存储维护已启动", "interval", db.cfg.MaintenanceInterval)
}

// Stop 停止维护循环（不丢弃记录）
func (db *DB) Stop() {
	db.stopOnce.Do(func() { close(db.stop) })
	if db.started.Load() {
		<-db.done
	}
}

// Maintain 执行一次维护：过期清理、分散状态复位、空键组回收
func (db *DB) Maintain() {
	if db.destroyed.Load() {
		return
	}
	now := db.clock.Now()
	expired, dropped := 0, 0
	for _, s := range db.shards {
		s.mu.Lock()
		for k, g := range s.groups {
			expired += g.maintain(now)
			if g.removable(now) {
				delete(s.groups, k)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	db.counters.expired.Add(uint64(expired))
	if expired > 0 || dropped > 0 {
		log.Debug("维护完成", "expired", expired, "dropped_keys", dropped)
	}
}

// RepublishOwned 把本节点发布的有效记录交给复制驱动
//
// fn 在锁外调用，可以发起网络请求。
func (db *DB) RepublishOwned(fn func(*Record)) {
	now := db.clock.Now()
	var owned []*Record
	for _, s := range db.shards {
		s.mu.RLock()
		for _, g := range s.groups {
			if g.owned != nil && !g.owned.Expired(now) && !g.owned.IsTombstone() {
				owned = append(owned, g.owned.Clone())
			}
		}
		s.mu.RUnlock()
	}
	for _, r := range owned {
		fn(r)
	}
}
