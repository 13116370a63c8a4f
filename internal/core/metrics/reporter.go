package metrics

import (
	"time"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// Reporter 记录与检索流量统计
type Reporter interface {
	// LogSent 记录发往 peer 的一条消息
	LogSent(t transport.MessageType, peer string, size int64)

	// LogRecv 记录来自 peer 的一条消息
	LogRecv(t transport.MessageType, peer string, size int64)

	// Totals 全部流量
	Totals() Stats

	// ForType 某一消息类型的流量
	ForType(t transport.MessageType) Stats

	// ByType 按消息类型的累计流量
	ByType() map[transport.MessageType]Stats

	// ForPeer 某一对端的流量
	ForPeer(peer string) Stats

	// Reset 清空统计
	Reset()

	// TrimIdle 清理自 since 起没有流量的对端
	TrimIdle(since time.Time)
}

// 确保 BandwidthCounter 实现 Reporter 接口
var _ Reporter = (*BandwidthCounter)(nil)
