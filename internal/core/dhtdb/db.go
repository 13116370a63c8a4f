// Package dhtdb 实现 DHT 节点上的键值存储
//
// 每个键对应一个键组，包含本地发布的记录、发布者直接存入的记录
// 以及其他节点缓存转发的间接记录。存储对热点键与超大键返回
// 分散信号（DivFrequency / DivSize），提示发布者把后续写入分散到
// 更多节点；该信号只是建议，不是错误。
//
// 记录表按键的 murmur3 哈希分片，每片一把锁；存储从不发起网络调用。
package dhtdb

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaolacci/murmur3"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-dhtdb/internal/core/storageblock"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

var log = logger.Logger("dhtdb")

// versionEpoch 值版本的时间基准，保证重启后版本仍然递增
var versionEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type shard struct {
	mu     sync.RWMutex
	groups map[types.Key]*keyGroup
}

type counters struct {
	stores      atomic.Uint64
	lookups     atomic.Uint64
	removes     atomic.Uint64
	sizeRejects atomic.Uint64
	rateLimited atomic.Uint64
	evicted     atomic.Uint64
	expired     atomic.Uint64
	ipCapped    atomic.Uint64
}

// DB DHT 键值存储
type DB struct {
	cfg    Config
	local  transport.Contact
	blocks *storageblock.Registry
	clock  clock.Clock

	shards []*shard
	mask   uint32

	limiters *lru.Cache[string, *rate.Limiter]
	ipValues *ipValues
	filter   interfaces.IPFilter

	version     atomic.Int32
	totalSize   atomic.Int64
	totalValues atomic.Int64
	counters    counters

	sleeping  atomic.Bool
	suspended atomic.Bool
	destroyed atomic.Bool
	resumed   chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// New 创建存储
//
// blocks 为 nil 时使用一个不接受任何封禁请求的空登记表。
func New(cfg Config, local transport.Contact, blocks *storageblock.Registry, clk clock.Clock) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if blocks == nil {
		blocks = storageblock.New(storageblock.DefaultConfig(), nil, nil, clk)
	}
	limiterSize := cfg.LimiterCacheSize
	if limiterSize <= 0 {
		limiterSize = 4096
	}
	limiters, err := lru.New[string, *rate.Limiter](limiterSize)
	if err != nil {
		return nil, err
	}

	db := &DB{
		cfg:      cfg,
		local:    local,
		blocks:   blocks,
		clock:    clk,
		shards:   make([]*shard, cfg.ShardCount),
		mask:     uint32(cfg.ShardCount - 1),
		limiters: limiters,
		ipValues: newIPValues(cfg.MaxDirectValuesPerIP),
		filter:   interfaces.NoFilter{},
		resumed:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range db.shards {
		db.shards[i] = &shard{groups: make(map[types.Key]*keyGroup)}
	}
	db.version.Store(int32(clk.Now().Sub(versionEpoch) / time.Second))
	return db, nil
}

// SetIPFilter 设置接收滥用报告的过滤器；过滤器实现 interfaces.AbuseReporter 时生效
func (db *DB) SetIPFilter(f interfaces.IPFilter) {
	if f != nil {
		db.filter = f
	}
}

// Local 本节点联系人
func (db *DB) Local() transport.Contact { return db.local }

// Config 当前配置
func (db *DB) Config() Config { return db.cfg }

func (db *DB) shardFor(key types.Key) *shard {
	return db.shards[murmur3.Sum32(key[:])&db.mask]
}

// nextVersion 单调递增的值版本
func (db *DB) nextVersion() int32 {
	floor := int32(db.clock.Now().Sub(versionEpoch) / time.Second)
	for {
		cur := db.version.Load()
		next := cur + 1
		if floor > next {
			next = floor
		}
		if db.version.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (db *DB) accountAdd(size int) {
	db.totalSize.Add(int64(size))
	db.totalValues.Add(1)
}

func (db *DB) accountRemove(size int) {
	db.totalSize.Add(-int64(size))
	db.totalValues.Add(-1)
}

// overCapacity 全局容量检查；每个值额外计 4 字节开销，避免空值无限堆积
func (db *DB) overCapacity() bool {
	return db.totalSize.Load()+db.totalValues.Load()*4 > db.cfg.MaxTotalSize
}

// ============================================================================
//                              本地存储
// ============================================================================

// StoreLocal 存储本节点发布的值
//
// 重新存储同一键会重置寿命。带 FlagPutAndForget 的值不在本地保留，
// 只返回供发布使用的记录。
func (db *DB) StoreLocal(key types.Key, payload []byte, flags types.Flags, ttlHours byte, repControl types.ReplicationControl) (*Record, error) {
	if db.destroyed.Load() {
		return nil, opErr("store-local", key.ShortString(), ErrDestroyed)
	}
	if key.IsEmpty() || len(payload) > db.cfg.MaxValueSize {
		return nil, opErr("store-local", key.ShortString(), ErrInvalidValue)
	}
	if db.blocks.IsBlocked(key) {
		return nil, opErr("store-local", key.ShortString(), ErrBlocked)
	}

	now := db.clock.Now()
	r := &Record{
		Key:        key,
		Payload:    append([]byte(nil), payload...),
		Flags:      flags,
		LifeHours:  ttlHours,
		RepControl: repControl,
		Origin:     OriginOwned,
		Originator: db.local,
		Sender:     db.local,
		Version:    db.nextVersion(),
		Created:    now,
		Refreshed:  now,
		Expires:    now.Add(db.cfg.lifetime(ttlHours)),
	}
	if flags.Has(types.FlagPutAndForget) {
		return r, nil
	}

	s := db.shardFor(key)
	s.mu.Lock()
	g, ok := s.groups[key]
	if !ok {
		g = newKeyGroup(db, key, now)
		s.groups[key] = g
	}
	g.owned = r
	s.mu.Unlock()

	log.Debug("本地存储", "key", key.ShortString(), "size", len(payload), "ttl", r.Expires.Sub(now))
	return r.Clone(), nil
}

// ============================================================================
//                              远端存储
// ============================================================================

// StoreRemote 接受其他节点的存储请求
//
// 发送者即发布者时按直接记录存储，否则按缓存转发存储。
// 返回键组当前的分散信号。休眠或挂起时不存储并返回 DivNone；
// 全局容量已满时不存储并返回 DivSize。来源 IP 的直接记录达到
// MaxDirectValuesPerIP 时，新的直接记录被拒绝并返回 ErrTooManyValues。
func (db *DB) StoreRemote(ctx context.Context, sender transport.Contact, key types.Key, values []*Record) (types.DiversificationType, error) {
	if err := ctx.Err(); err != nil {
		return types.DivNone, err
	}
	if db.destroyed.Load() {
		return types.DivNone, opErr("store", key.ShortString(), ErrDestroyed)
	}
	if db.blocks.IsBlocked(key) {
		return types.DivNone, opErr("store", key.ShortString(), ErrBlocked)
	}
	if !db.allow(sender) {
		db.counters.rateLimited.Add(1)
		return types.DivNone, opErr("store", key.ShortString(), ErrRateLimited)
	}
	if db.overCapacity() {
		db.counters.sizeRejects.Add(1)
		log.Debug("存储容量已满，拒绝存储", "key", key.ShortString(), "total", db.totalSize.Load())
		return types.DivSize, nil
	}
	if db.sleeping.Load() || db.suspended.Load() {
		return types.DivNone, nil
	}

	db.counters.stores.Add(1)
	now := db.clock.Now()

	div, capped := db.storeRemote(key, sender, values, now)
	if capped > 0 {
		db.counters.ipCapped.Add(uint64(capped))
		db.reportCapped()
		return div, opErr("store", key.ShortString(), ErrTooManyValues)
	}
	return div, nil
}

func (db *DB) storeRemote(key types.Key, sender transport.Contact, values []*Record, now time.Time) (types.DiversificationType, int) {
	localID := db.local.ID()
	senderID := sender.ID()

	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[key]
	if !ok {
		g = newKeyGroup(db, key, now)
		s.groups[key] = g
	}
	g.recordStore(now)

	capped := 0
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == nil || len(v.Payload) > db.cfg.MaxValueSize {
			continue
		}
		if _, dup := seen[string(v.Payload)]; dup {
			continue
		}
		seen[string(v.Payload)] = struct{}{}

		if v.Originator.IsZero() || v.Originator.ID() == localID {
			continue
		}
		r := v.Clone()
		r.Key = key
		r.Sender = sender
		if r.Originator.ID() == senderID {
			if g.putDirect(r, now) == putCapped {
				capped++
			}
		} else {
			g.putIndirect(r, now)
		}
	}
	g.enforceSize(now)
	return g.div, capped
}

// allow 来源 IP 限速
func (db *DB) allow(sender transport.Contact) bool {
	if db.cfg.StoreRatePerIP <= 0 {
		return true
	}
	host := sender.Address()
	if ap := sender.AddrPort(); ap.IsValid() {
		host = ap.Addr().String()
	} else if addr, err := netip.ParseAddrPort(host); err == nil {
		host = addr.Addr().String()
	}
	lim, ok := db.limiters.Get(host)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(db.cfg.StoreRatePerIP), db.cfg.StoreBurstPerIP)
		db.limiters.Add(host, lim)
	}
	return lim.AllowN(db.clock.Now(), 1)
}

// ============================================================================
//                              读取
// ============================================================================

// Get 返回本节点发布的值
func (db *DB) Get(key types.Key) *Record {
	now := db.clock.Now()
	s := db.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	if !ok || g.owned == nil || g.owned.Expired(now) {
		return nil
	}
	return g.owned.Clone()
}

// GetAny 返回该键的任意一个值，本地优先，其次直接、间接
func (db *DB) GetAny(key types.Key) *Record {
	all := db.GetAll(key)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// GetAll 返回该键的全部值（跳过墓碑，按载荷去重）
func (db *DB) GetAll(key types.Key) []*Record {
	now := db.clock.Now()
	s := db.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	if !ok {
		return nil
	}
	live := g.live(now)
	out := make([]*Record, len(live))
	for i, r := range live {
		out[i] = r.Clone()
	}
	return out
}

// HasKey 是否持有该键的任何记录
func (db *DB) HasKey(key types.Key) bool {
	s := db.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	return ok && !g.empty()
}

// Keys 全部持有记录的键
func (db *DB) Keys() []types.Key {
	var out []types.Key
	for _, s := range db.shards {
		s.mu.RLock()
		for k, g := range s.groups {
			if !g.empty() {
				out = append(out, k)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// ============================================================================
//                              删除
// ============================================================================

// Remove 删除 sender 在本节点的副本
//
// sender 为本节点时删除本地发布的值。发送者持有副本时返回一个
// 新版本的墓碑；带 FlagPutAndForget 时即使没有副本也合成墓碑。
// 远端发布者的墓碑会留在直接记录中直到过期，以压住迟到的旧转发。
func (db *DB) Remove(sender transport.Contact, key types.Key, flags types.Flags) (*Record, error) {
	if db.destroyed.Load() {
		return nil, opErr("remove", key.ShortString(), ErrDestroyed)
	}
	db.counters.removes.Add(1)
	now := db.clock.Now()
	senderID := sender.ID()
	isLocal := senderID == db.local.ID()

	var found *Record
	s := db.shardFor(key)
	s.mu.Lock()
	if g, ok := s.groups[key]; ok {
		if isLocal {
			found, g.owned = g.owned, nil
		} else {
			if r, ok := g.direct[senderID]; ok && !r.IsTombstone() {
				found = r
			}
			for id, r := range g.indirect {
				if r.Originator.ID() == senderID {
					g.dropIndirect(id)
				}
			}
		}
		if found != nil && !isLocal {
			g.dropDirect(senderID)
			ts := tombstone(found, now, db.cfg.lifetime(found.LifeHours))
			g.admitDirect(senderID, ts, true)
			found = ts
		}
	}
	s.mu.Unlock()

	switch {
	case found != nil && isLocal:
		return tombstone(found, now, db.cfg.lifetime(found.LifeHours)), nil
	case found != nil:
		return found.Clone(), nil
	case flags.Has(types.FlagPutAndForget):
		return &Record{
			Key:        key,
			Flags:      flags,
			RepControl: types.RepControlDefault,
			Origin:     OriginOwned,
			Originator: sender,
			Sender:     sender,
			Version:    db.nextVersion(),
			Created:    now,
			Refreshed:  now,
			Expires:    now.Add(db.cfg.DefaultValueLifetime),
		}, nil
	default:
		return nil, nil
	}
}

func tombstone(r *Record, now time.Time, life time.Duration) *Record {
	return &Record{
		Key:        r.Key,
		Flags:      r.Flags,
		LifeHours:  r.LifeHours,
		RepControl: r.RepControl,
		Origin:     r.Origin,
		Originator: r.Originator,
		Sender:     r.Sender,
		Version:    r.Version + 1,
		Created:    now,
		Refreshed:  now,
		Expires:    now.Add(life),
	}
}

// ============================================================================
//                              状态
// ============================================================================

// SetSleeping 休眠时不接受远端存储，重新发布降频到 SleepRepublishInterval
func (db *DB) SetSleeping(v bool) {
	if db.sleeping.Swap(v) != v {
		log.Info("存储休眠状态变更", "sleeping", v)
		if !v {
			db.signalResumed()
		}
	}
}

// SetSuspended 挂起时不接受远端存储，也不重新发布
func (db *DB) SetSuspended(v bool) {
	if db.suspended.Swap(v) != v {
		log.Info("存储挂起状态变更", "suspended", v)
		if !v {
			db.signalResumed()
		}
	}
}

// Sleeping 是否休眠
func (db *DB) Sleeping() bool { return db.sleeping.Load() }

// Suspended 是否挂起
func (db *DB) Suspended() bool { return db.suspended.Load() }

// Resumed 休眠与挂起都解除时收到一次通知
func (db *DB) Resumed() <-chan struct{} { return db.resumed }

func (db *DB) signalResumed() {
	if db.sleeping.Load() || db.suspended.Load() {
		return
	}
	select {
	case db.resumed <- struct{}{}:
	default:
	}
}

// Destroy 停止维护并丢弃全部记录；之后的调用返回 ErrDestroyed
func (db *DB) Destroy() error {
	if db.destroyed.Swap(true) {
		return opErr("destroy", "", ErrDestroyed)
	}
	db.stopOnce.Do(func() { close(db.stop) })
	if db.started.Load() {
		<-db.done
	}
	for _, s := range db.shards {
		s.mu.Lock()
		for k, g := range s.groups {
			g.clear()
			delete(s.groups, k)
		}
		s.mu.Unlock()
	}
	log.Info("存储已销毁")
	return nil
}
