package types

import "fmt"

// ============================================================================
//                              Flags - 记录标志
// ============================================================================

// Flags 记录标志位
type Flags byte

const (
	// FlagSingleValue 单值（默认）
	FlagSingleValue Flags = 0x00
	// FlagDownloading 发布者正在下载
	FlagDownloading Flags = 0x01
	// FlagSeeding 发布者正在做种
	FlagSeeding Flags = 0x02
	// FlagMultiValue 多值记录
	FlagMultiValue Flags = 0x04
	// FlagStats 统计记录
	FlagStats Flags = 0x08
	// FlagAnon 匿名记录（不携带真实发布者）
	FlagAnon Flags = 0x10
	// FlagPrecious 重要记录，缓存节点应尽量保留
	FlagPrecious Flags = 0x20
	// FlagBridged 经由其他网络桥接而来
	FlagBridged Flags = 0x40
	// FlagPutAndForget 发布后不在本地保留
	FlagPutAndForget Flags = 0x80
)

// Has 检查是否包含指定标志
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// String 返回十六进制表示
func (f Flags) String() string {
	return fmt.Sprintf("0x%02x", byte(f))
}

// ============================================================================
//                              LookupFlags - 查询标志
// ============================================================================

// LookupFlags 查询请求标志
type LookupFlags uint16

const (
	// LookupNone 无特殊要求
	LookupNone LookupFlags = 0x0000
	// LookupExhaustive 不受默认条数上限约束
	LookupExhaustive LookupFlags = 0x0001
	// LookupPriority 不受响应字节预算约束
	LookupPriority LookupFlags = 0x0002
	// LookupStats 返回键组统计而非值
	LookupStats LookupFlags = 0x0004
)

// Has 检查是否包含指定标志
func (f LookupFlags) Has(flag LookupFlags) bool {
	return f&flag != 0
}

// ============================================================================
//                              ReplicationControl - 复制控制
// ============================================================================

// ReplicationControl 复制控制字节
//
// 低 4 位为复制因子，高 4 位为重新发布频率（小时）。
// RepControlDefault 表示使用网络默认值。
type ReplicationControl byte

// RepControlDefault 默认复制策略
const RepControlDefault ReplicationControl = 0xFF

// NewReplicationControl 由复制因子和频率构造控制字节
func NewReplicationControl(factor, frequencyHours byte) ReplicationControl {
	return ReplicationControl((frequencyHours&0x0f)<<4 | factor&0x0f)
}

// Factor 复制因子，默认策略返回 0xFF
func (r ReplicationControl) Factor() byte {
	if r == RepControlDefault {
		return byte(RepControlDefault)
	}
	return byte(r) & 0x0f
}

// FrequencyHours 重新发布频率，默认策略返回 0xFF
func (r ReplicationControl) FrequencyHours() byte {
	if r == RepControlDefault {
		return byte(RepControlDefault)
	}
	return byte(r) >> 4
}

// IsDefault 是否为默认策略
func (r ReplicationControl) IsDefault() bool {
	return r == RepControlDefault
}
