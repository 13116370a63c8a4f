package dhtdb

import (
	"time"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// Origin 记录来源
type Origin uint8

const (
	// OriginOwned 本节点发布
	OriginOwned Origin = iota
	// OriginDirect 由发布者本人存入
	OriginDirect
	// OriginIndirect 由其他缓存节点转发
	OriginIndirect
)

// String 返回来源名
func (o Origin) String() string {
	switch o {
	case OriginOwned:
		return "owned"
	case OriginDirect:
		return "direct"
	case OriginIndirect:
		return "indirect"
	default:
		return "unknown"
	}
}

// Record 一条键值记录
//
// 长度为 0 的载荷是删除墓碑：保留到过期，但不会出现在读取结果中。
type Record struct {
	Key        types.Key
	Payload    []byte
	Flags      types.Flags
	LifeHours  byte
	RepControl types.ReplicationControl

	Origin     Origin
	Originator transport.Contact
	Sender     transport.Contact

	// Version 发布者侧单调版本
	Version int32

	Created   time.Time
	Refreshed time.Time
	Expires   time.Time
}

// IsTombstone 是否为删除墓碑
func (r *Record) IsTombstone() bool { return len(r.Payload) == 0 }

// Expired 在 now 时是否已过期
func (r *Record) Expired(now time.Time) bool { return !now.Before(r.Expires) }

// Clone 深拷贝
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	return &c
}

// Value 转换为线路值
func (r *Record) Value() transport.Value {
	return transport.Value{
		Version:    r.Version,
		Created:    r.Created,
		Payload:    append([]byte(nil), r.Payload...),
		Originator: r.Originator,
		Flags:      r.Flags,
		LifeHours:  r.LifeHours,
		RepControl: r.RepControl,
	}
}

// FromValue 由线路值构造待存储的记录
//
// 来源、发送者与时间戳由存储在接收时填写。
func FromValue(key types.Key, v transport.Value) *Record {
	return &Record{
		Key:        key,
		Payload:    append([]byte(nil), v.Payload...),
		Flags:      v.Flags,
		LifeHours:  v.LifeHours,
		RepControl: v.RepControl,
		Originator: v.Originator,
		Version:    v.Version,
		Created:    v.Created,
	}
}

// Values 批量转换为线路值
func Values(records []*Record) []transport.Value {
	out := make([]transport.Value, 0, len(records))
	for _, r := range records {
		out = append(out, r.Value())
	}
	return out
}

// entryID 记录在键组中的槽位
//
// 匿名记录不携带真实发布者，按载荷区分。
func entryID(r *Record) types.Key {
	if r.Flags.Has(types.FlagAnon) {
		return types.HashKey(r.Payload)
	}
	return r.Originator.ID()
}
