package dhtdb

import (
	"bytes"
	"sort"
	"time"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// keyGroup 一个键下的全部记录与分散状态
//
// 所有方法都在所属分片的锁内调用。
type keyGroup struct {
	key types.Key
	db  *DB

	owned    *Record
	direct   map[types.Key]*Record
	indirect map[types.Key]*Record

	indirectBytes int
	hits          int
	rate          rateWindow

	div          types.DiversificationType
	lastPressure time.Time

	// cursor 轮转查询结果的起点
	cursor int
}

func newKeyGroup(db *DB, key types.Key, now time.Time) *keyGroup {
	return &keyGroup{
		key:      key,
		db:       db,
		direct:   make(map[types.Key]*Record),
		indirect: make(map[types.Key]*Record),
		rate:     newRateWindow(db.cfg.FrequencyWindow, now),
		div:      types.DivNone,
	}
}

func (g *keyGroup) empty() bool {
	return g.owned == nil && len(g.direct) == 0 && len(g.indirect) == 0
}

// ============================================================================
//                              写入
// ============================================================================

// recordStore 计入一次远端存储，超过阈值时进入频率分散
func (g *keyGroup) recordStore(now time.Time) {
	if g.rate.add(now) > g.db.cfg.FrequencyThreshold {
		g.pressure(types.DivFrequency, now)
	}
}

// pressure 记录压力；容量分散优先于频率分散
func (g *keyGroup) pressure(div types.DiversificationType, now time.Time) {
	g.lastPressure = now
	if g.div == types.DivSize {
		return
	}
	if g.div != div {
		log.Debug("键进入分散状态", "key", g.key.ShortString(), "div", div.String())
	}
	g.div = div
}

// putResult 直接存储的结果
type putResult int

const (
	putStored putResult = iota
	putStale
	putCapped
)

// putDirect 存入发布者本人提交的记录
//
// 同一发布者的重新存储会重置寿命；旧版本被忽略。
// 新记录受来源 IP 直接记录上限约束，替换已有记录不受约束。
// 该发布者经由其他节点转发的间接副本一并删除。
func (g *keyGroup) putDirect(r *Record, now time.Time) putResult {
	id := entryID(r)
	existing, replacing := g.direct[id]
	if replacing {
		if r.Version < existing.Version {
			return putStale
		}
		g.dropDirect(id)
	}
	r.Origin = OriginDirect
	r.Created = now
	r.Refreshed = now
	r.Expires = now.Add(g.db.cfg.lifetime(r.LifeHours))
	if !g.admitDirect(id, r, replacing) {
		return putCapped
	}

	for iid, ir := range g.indirect {
		if ir.Originator.ID() == r.Originator.ID() {
			g.dropIndirect(iid)
		}
	}
	return putStored
}

// admitDirect 登记直接记录并计入来源 IP
func (g *keyGroup) admitDirect(id types.Key, r *Record, force bool) bool {
	if !g.db.ipValues.acquire(r.Sender, force) {
		return false
	}
	g.direct[id] = r
	g.db.accountAdd(len(r.Payload))
	return true
}

// putIndirect 存入缓存转发的记录
//
// 转发永不延长寿命：新到期时间取已有与转发值中较早者。
// 已有直接副本的发布者忽略转发；处于分散状态时不接纳新的发布者。
func (g *keyGroup) putIndirect(r *Record, now time.Time) bool {
	if _, ok := g.direct[r.Originator.ID()]; ok {
		return false
	}
	created := r.Created
	if created.IsZero() || created.After(now) {
		created = now
	}
	expires := created.Add(g.db.cfg.lifetime(r.LifeHours))
	if !now.Before(expires) {
		return false
	}

	id := entryID(r)
	existing, ok := g.indirect[id]
	switch {
	case ok:
		if r.Version < existing.Version {
			return false
		}
		if existing.Expires.Before(expires) {
			expires = existing.Expires
		}
		g.dropIndirect(id)
	case g.div != types.DivNone:
		return false
	}

	r.Origin = OriginIndirect
	r.Created = created
	r.Refreshed = now
	r.Expires = expires
	g.indirect[id] = r
	g.indirectBytes += len(r.Payload)
	g.db.accountAdd(len(r.Payload))
	return true
}

// enforceSize 淘汰最久未刷新的间接记录直到回到上限内
func (g *keyGroup) enforceSize(now time.Time) {
	cfg := &g.db.cfg
	if len(g.indirect) <= cfg.MaxIndirectValues && g.indirectBytes <= cfg.MaxIndirectBytes {
		return
	}
	ids := make([]types.Key, 0, len(g.indirect))
	for id := range g.indirect {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return g.indirect[ids[i]].Refreshed.Before(g.indirect[ids[j]].Refreshed)
	})
	evicted := 0
	for _, id := range ids {
		if len(g.indirect) <= cfg.MaxIndirectValues && g.indirectBytes <= cfg.MaxIndirectBytes {
			break
		}
		g.dropIndirect(id)
		evicted++
	}
	g.db.counters.evicted.Add(uint64(evicted))
	g.pressure(types.DivSize, now)
}

func (g *keyGroup) dropDirect(id types.Key) {
	if r, ok := g.direct[id]; ok {
		delete(g.direct, id)
		g.db.ipValues.release(r.Sender)
		g.db.accountRemove(len(r.Payload))
	}
}

func (g *keyGroup) dropIndirect(id types.Key) {
	if r, ok := g.indirect[id]; ok {
		delete(g.indirect, id)
		g.indirectBytes -= len(r.Payload)
		g.db.accountRemove(len(r.Payload))
	}
}

// clear 丢弃全部记录
func (g *keyGroup) clear() {
	for id := range g.direct {
		g.dropDirect(id)
	}
	for id := range g.indirect {
		g.dropIndirect(id)
	}
	g.owned = nil
}

// ============================================================================
//                              读取
// ============================================================================

// live 按 本地、直接、间接 的顺序返回未过期的非墓碑记录，按载荷去重
func (g *keyGroup) live(now time.Time) []*Record {
	out := make([]*Record, 0, 1+len(g.direct)+len(g.indirect))
	seen := make(map[string]struct{})
	add := func(r *Record) {
		if r == nil || r.IsTombstone() || r.Expired(now) {
			return
		}
		if _, dup := seen[string(r.Payload)]; dup {
			return
		}
		seen[string(r.Payload)] = struct{}{}
		out = append(out, r)
	}
	add(g.owned)
	for _, r := range sorted(g.direct) {
		add(r)
	}
	for _, r := range sorted(g.indirect) {
		add(r)
	}
	return out
}

// sorted 以稳定顺序返回映射中的记录
func sorted(m map[types.Key]*Record) []*Record {
	out := make([]*Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		a, b := entryID(out[i]), entryID(out[j])
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

// ============================================================================
//                              维护
// ============================================================================

// maintain 清理过期记录并在无压力满一个周期后复位分散状态
func (g *keyGroup) maintain(now time.Time) (expired int) {
	if g.owned != nil && g.owned.Expired(now) {
		g.owned = nil
		expired++
	}
	for id, r := range g.direct {
		if r.Expired(now) {
			g.dropDirect(id)
			expired++
		}
	}
	for id, r := range g.indirect {
		if r.Expired(now) {
			g.dropIndirect(id)
			expired++
		}
	}

	if g.rate.rate(now) > g.db.cfg.FrequencyThreshold {
		g.lastPressure = now
	}
	if g.div != types.DivNone && now.Sub(g.lastPressure) >= g.db.cfg.MaintenanceInterval {
		log.Debug("键恢复正常", "key", g.key.ShortString(), "was", g.div.String())
		g.div = types.DivNone
	}
	return expired
}

// removable 维护后可以丢弃整个键组
func (g *keyGroup) removable(now time.Time) bool {
	return g.empty() && g.div == types.DivNone && g.rate.idle(now)
}
