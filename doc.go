// Package dhtdb 提供带分散策略的 DHT 键值存储节点
//
// 一个节点由以下组件装配而成：
//
//   - 传输层：联系人导入、协议版本协商与 QUIC 请求/回复
//   - 键值存储：直接/缓存记录、频率与容量分散、TTL 维护与重新发布
//   - 键封禁登记表：签名封禁请求，持久化到 BadgerDB
//   - NAT 穿透：协调器与经 DHT 会合节点的打洞器
//   - 统计：Prometheus 指标与周期性快照日志
//
// # 快速开始
//
//	node, err := dhtdb.Start(ctx,
//	    dhtdb.WithListenAddr("0.0.0.0:6881"),
//	    dhtdb.WithBootstrap("203.0.113.7:6881"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	res, err := node.Put(ctx, []byte("name"), []byte("value"), 24)
//	values, err := node.Get(ctx, []byte("name"))
package dhtdb
