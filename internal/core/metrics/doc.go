// Package metrics 提供统计上报
//
// 组成：
//   - BandwidthCounter：按消息类型与对端统计收发字节与速率
//   - CountingEndpoint：包装 transport.Endpoint，把流量计入 Reporter
//   - Collector：把存储、穿透与带宽统计导出为 Prometheus 指标
//   - Snapshotter：周期性输出统计快照日志
//   - Server：promhttp 指标端点
//
// # Fx 模块
//
//	app := fx.New(
//	    metrics.Module(),
//	    fx.Decorate(metrics.DecorateEndpoint),
//	)
//
// Endpoint 装饰必须在根作用域声明，模块内的 Decorate 对兄弟模块不可见。
package metrics
