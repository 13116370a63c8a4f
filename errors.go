package dhtdb

import "errors"

// 公共错误定义
var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("dhtdb: node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("dhtdb: node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("dhtdb: node closed")

	// ErrNotFound 本地与近邻都没有该键的值
	ErrNotFound = errors.New("dhtdb: not found")
)
