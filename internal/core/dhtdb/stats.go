package dhtdb

import (
	"bytes"
	"errors"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// Snapshot 存储统计快照
type Snapshot struct {
	Keys           int
	OwnedValues    int
	DirectValues   int
	IndirectValues int
	TotalSize      int64
	TotalValues    int64

	// 当前处于各分散状态的键数
	DivFrequencyKeys int
	DivSizeKeys      int

	Blocks int

	Stores      uint64
	Lookups     uint64
	Removes     uint64
	SizeRejects uint64
	RateLimited uint64
	Evicted     uint64
	Expired     uint64

	// IPCapped 因来源 IP 直接记录上限被拒绝的值数
	IPCapped uint64

	Sleeping  bool
	Suspended bool
}

// Stats 返回统计快照
func (db *DB) Stats() Snapshot {
	snap := Snapshot{
		TotalSize:   db.totalSize.Load(),
		TotalValues: db.totalValues.Load(),
		Blocks:      db.blocks.Count(),
		Stores:      db.counters.stores.Load(),
		Lookups:     db.counters.lookups.Load(),
		Removes:     db.counters.removes.Load(),
		SizeRejects: db.counters.sizeRejects.Load(),
		RateLimited: db.counters.rateLimited.Load(),
		Evicted:     db.counters.evicted.Load(),
		Expired:     db.counters.expired.Load(),
		IPCapped:    db.counters.ipCapped.Load(),
		Sleeping:    db.sleeping.Load(),
		Suspended:   db.suspended.Load(),
	}
	for _, s := range db.shards {
		s.mu.RLock()
		for _, g := range s.groups {
			if !g.empty() {
				snap.Keys++
			}
			if g.owned != nil {
				snap.OwnedValues++
			}
			snap.DirectValues += len(g.direct)
			snap.IndirectValues += len(g.indirect)
			switch g.div {
			case types.DivFrequency:
				snap.DivFrequencyKeys++
			case types.DivSize:
				snap.DivSizeKeys++
			}
		}
		s.mu.RUnlock()
	}
	return snap
}

// ============================================================================
//                              键组统计
// ============================================================================

const groupStatsVersion = 1

// GroupStats 单个键组的统计，LookupStats 查询以一条合成记录返回
type GroupStats struct {
	Direct        int
	Indirect      int
	IndirectBytes int
	Hits          int
	Rate          int
	Div           types.DiversificationType
}

// Encode 编码为 version | uvarint×5 | div
func (s GroupStats) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(groupStatsVersion)
	for _, v := range []int{s.Direct, s.Indirect, s.IndirectBytes, s.Hits, s.Rate} {
		buf.Write(varint.ToUvarint(uint64(v)))
	}
	buf.WriteByte(byte(s.Div))
	return buf.Bytes()
}

// DecodeGroupStats 解码键组统计
func DecodeGroupStats(data []byte) (GroupStats, error) {
	var s GroupStats
	if len(data) < 2 || data[0] != groupStatsVersion {
		return s, errors.New("dhtdb: bad group stats")
	}
	r := bytes.NewReader(data[1:])
	fields := []*int{&s.Direct, &s.Indirect, &s.IndirectBytes, &s.Hits, &s.Rate}
	for _, f := range fields {
		v, err := varint.ReadUvarint(r)
		if err != nil {
			return s, errors.New("dhtdb: truncated group stats")
		}
		*f = int(v)
	}
	div, err := r.ReadByte()
	if err != nil {
		return s, errors.New("dhtdb: truncated group stats")
	}
	s.Div = types.DiversificationType(div)
	return s, nil
}

func (db *DB) statsRecord(g *keyGroup, now time.Time) *Record {
	st := GroupStats{
		Direct:        len(g.direct),
		Indirect:      len(g.indirect),
		IndirectBytes: g.indirectBytes,
		Hits:          g.hits,
		Rate:          g.rate.rate(now),
		Div:           g.div,
	}
	return &Record{
		Key:        g.key,
		Payload:    st.Encode(),
		Flags:      types.FlagStats,
		RepControl: types.RepControlDefault,
		Origin:     OriginOwned,
		Originator: db.local,
		Sender:     db.local,
		Created:    now,
		Refreshed:  now,
		Expires:    now,
	}
}
