package types

import "strconv"

// ============================================================================
//                              DiversificationType - 分散化信号
// ============================================================================

// DiversificationType 存储/查询响应中的分散化信号
//
// 取值即线路上的字节值。
type DiversificationType byte

const (
	// DivNone 无需分散
	DivNone DiversificationType = 1
	// DivFrequency 写入频率过高，后续写入应分散到其他近邻
	DivFrequency DiversificationType = 2
	// DivSize 缓存容量已满，后续写入应优先选择未满的节点
	DivSize DiversificationType = 3
)

// String 返回分散化类型的字符串表示
func (d DiversificationType) String() string {
	switch d {
	case DivNone:
		return "none"
	case DivFrequency:
		return "frequency"
	case DivSize:
		return "size"
	default:
		return "unknown(" + strconv.Itoa(int(d)) + ")"
	}
}

// Valid 检查是否为已定义的取值
func (d DiversificationType) Valid() bool {
	return d >= DivNone && d <= DivSize
}

// ============================================================================
//                              Network - 网络类别
// ============================================================================

// Network 联系人所在网络
type Network byte

const (
	// NetworkOrdinary 普通 IP 网络
	NetworkOrdinary Network = iota
	// NetworkAlternative 替代覆盖网络（如 Tor / I2P）
	NetworkAlternative
)

// String 返回网络类别的字符串表示
func (n Network) String() string {
	switch n {
	case NetworkOrdinary:
		return "ordinary"
	case NetworkAlternative:
		return "alternative"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              Reason - 穿透原因码
// ============================================================================

// Reason NAT 穿透原因码，用于入站路由
type Reason int32

const (
	// ReasonPeerData 对等数据连接
	ReasonPeerData Reason = 1
	// ReasonGenericMessaging 通用消息
	ReasonGenericMessaging Reason = 2
	// ReasonPairTunnel 配对隧道
	ReasonPairTunnel Reason = 3
)

// String 返回原因码的字符串表示
func (r Reason) String() string {
	switch r {
	case ReasonPeerData:
		return "peer-data"
	case ReasonGenericMessaging:
		return "generic-messaging"
	case ReasonPairTunnel:
		return "pair-tunnel"
	default:
		return "reason(" + strconv.Itoa(int(r)) + ")"
	}
}
