package dhtdb

import (
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// LookupResult 查询结果
type LookupResult struct {
	Values []*Record
	Div    types.DiversificationType
}

// Lookup 为 reader 查询键的值
//
// maxValues 为 0 时最多返回 MaxLookupValues 条，LookupExhaustive 取消该限制；
// LookupPriority 取消回复字节预算。连续的受限查询会轮转返回的值。
// external 为 true 时计入命中次数。键组不存在时返回 nil。
func (db *DB) Lookup(reader transport.Contact, key types.Key, maxValues int, flags types.LookupFlags, external bool) (*LookupResult, error) {
	if db.destroyed.Load() {
		return nil, opErr("lookup", key.ShortString(), ErrDestroyed)
	}
	if db.blocks.IsBlocked(key) {
		return nil, opErr("lookup", key.ShortString(), ErrBlocked)
	}
	db.counters.lookups.Add(1)
	now := db.clock.Now()

	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[key]
	if !ok {
		return nil, nil
	}
	if external {
		g.hits++
	}

	if flags.Has(types.LookupStats) {
		return &LookupResult{Values: []*Record{db.statsRecord(g, now)}, Div: g.div}, nil
	}

	limit := maxValues
	if limit <= 0 && !flags.Has(types.LookupExhaustive) {
		limit = db.cfg.MaxLookupValues
	}
	budget := -1
	if !flags.Has(types.LookupPriority) {
		budget = db.cfg.MaxReplyBytes
	}

	live := g.live(now)
	n := len(live)
	res := &LookupResult{Div: g.div}
	if n == 0 {
		return res, nil
	}

	start := g.cursor % n
	used := 0
	for i := 0; i < n; i++ {
		if limit > 0 && len(res.Values) >= limit {
			break
		}
		r := live[(start+i)%n]
		if budget >= 0 && len(res.Values) > 0 && used+len(r.Payload) > budget {
			break
		}
		used += len(r.Payload)
		res.Values = append(res.Values, r.Clone())
	}
	if len(res.Values) < n {
		g.cursor = start + len(res.Values)
	}

	log.Debug("查询", "key", key.ShortString(), "reader", reader.Address(), "values", len(res.Values), "of", n)
	return res, nil
}
