package dhtdb

import (
	"fmt"

	"github.com/dep2p/go-dhtdb/internal/core/storageblock"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// KeyBlockRequest 处理签名的键封禁请求
//
// sender 为 nil 表示本地提交；远端发送者必须支持 BlockKeys 特性。
// 封禁成功后该键已有的记录全部丢弃。
func (db *DB) KeyBlockRequest(sender *transport.Contact, request, signature []byte) (*storageblock.Block, error) {
	if db.destroyed.Load() {
		return nil, opErr("key-block", "", ErrDestroyed)
	}
	if sender != nil && !sender.Supports(transport.FeatureBlockKeys) {
		return nil, opErr("key-block", "", fmt.Errorf("%w: sender %s predates key blocks", ErrInvalidBlockRequest, sender.Version()))
	}
	key, _, err := storageblock.ParseRequest(request)
	if err != nil {
		return nil, opErr("key-block", "", fmt.Errorf("%w: %w", ErrInvalidBlockRequest, err))
	}
	b, err := db.blocks.Block(key, request, signature, sender)
	if err != nil {
		return nil, opErr("key-block", key.ShortString(), fmt.Errorf("%w: %w", ErrInvalidBlockRequest, err))
	}

	s := db.shardFor(key)
	s.mu.Lock()
	if g, ok := s.groups[key]; ok {
		g.clear()
		delete(s.groups, key)
	}
	s.mu.Unlock()
	return b, nil
}

// IsKeyBlocked 键是否被封禁
func (db *DB) IsKeyBlocked(key types.Key) bool { return db.blocks.IsBlocked(key) }

// KeyBlockDetails 封禁详情；未封禁返回 nil
func (db *DB) KeyBlockDetails(key types.Key) *storageblock.Block { return db.blocks.Details(key) }

// DirectKeyBlocks 本地提交、需要继续扩散的封禁
func (db *DB) DirectKeyBlocks() []*storageblock.Block { return db.blocks.Direct() }

// Blocks 封禁登记表
func (db *DB) Blocks() *storageblock.Registry { return db.blocks }
