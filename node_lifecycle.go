package dhtdb

import (
	"context"
	"fmt"
	"time"
)

const (
	// startTimeout 启动超时（Fx App Start）
	startTimeout = 30 * time.Second

	// stopTimeout 停止超时
	stopTimeout = 10 * time.Second
)

// Start 启动节点
//
// 启动所有模块后在后台联系引导节点。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.state != StateIdle {
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	log.Info("正在启动节点")

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		n.state = StateStopped
		n.closed = true
		log.Error("节点启动失败", "error", err)
		return fmt.Errorf("dhtdb: start: %w", err)
	}

	n.state = StateRunning
	log.Info("节点已启动", "local", n.local.String())
	return nil
}

// Stop 停止节点；停止后不能再次启动
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateRunning {
		n.closed = true
		return nil
	}
	n.state = StateStopping
	err := n.app.Stop(ctx)
	n.state = StateStopped
	n.closed = true
	if err != nil {
		return fmt.Errorf("dhtdb: stop: %w", err)
	}
	log.Info("节点已停止")
	return nil
}

// Close 以默认超时停止节点
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return n.Stop(ctx)
}
