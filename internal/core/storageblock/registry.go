// Package storageblock 键封禁登记表
//
// 被封禁的键拒绝一切存储与查询。封禁由签名请求产生，永不过期，
// 只能显式解除。IsBlocked 位于每次存储/查询的热路径上，
// 因此登记表按键分片，每片一把读写锁。
package storageblock

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spaolacci/murmur3"

	"github.com/dep2p/go-dhtdb/internal/core/storage/kv"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

var log = logger.Logger("storageblock")

// Block 一条封禁
type Block struct {
	Key       types.Key `json:"key"`
	Request   []byte    `json:"request"`
	Signature []byte    `json:"signature"`
	IssuedAt  time.Time `json:"issued_at"`
	Received  time.Time `json:"received"`

	// Direct 本地提交（而非经由其他节点转发）的封禁，需要由本节点继续扩散
	Direct bool `json:"direct"`

	// Sender 转发者地址；本地提交时为空
	Sender string `json:"sender,omitempty"`
}

type shard struct {
	mu     sync.RWMutex
	blocks map[types.Key]*Block
}

// Registry 封禁登记表
type Registry struct {
	cfg      Config
	shards   []*shard
	mask     uint32
	verifier interfaces.SignatureVerifier
	store    *kv.Store
	clock    clock.Clock
	count    atomic.Int64
}

// New 创建登记表
//
// store 为 nil 时不持久化；verifier 为 nil 时拒绝所有请求。
func New(cfg Config, verifier interfaces.SignatureVerifier, store *kv.Store, clk clock.Clock) *Registry {
	if err := cfg.Validate(); err != nil {
		cfg = DefaultConfig()
	}
	if verifier == nil {
		verifier = rejectAll{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if !cfg.Persist {
		store = nil
	}
	r := &Registry{
		cfg:      cfg,
		shards:   make([]*shard, cfg.ShardCount),
		mask:     uint32(cfg.ShardCount - 1),
		verifier: verifier,
		store:    store,
		clock:    clk,
	}
	for i := range r.shards {
		r.shards[i] = &shard{blocks: make(map[types.Key]*Block)}
	}
	return r
}

func (r *Registry) shardFor(key types.Key) *shard {
	return r.shards[murmur3.Sum32(key[:])&r.mask]
}

// Block 校验签名请求并登记封禁
//
// sender 为 nil 表示本地提交。请求中的键必须等于 key。
// 重复封禁返回已有记录；本地再次提交会把转发来的记录标记为 Direct。
func (r *Registry) Block(key types.Key, request, signature []byte, sender *transport.Contact) (*Block, error) {
	reqKey, issued, err := ParseRequest(request)
	if err != nil {
		return nil, &BlockError{Op: "block", Key: key.ShortString(), Err: err}
	}
	if reqKey != key {
		return nil, &BlockError{Op: "block", Key: key.ShortString(), Err: ErrInvalidRequest}
	}
	now := r.clock.Now()
	if r.cfg.MaxRequestAge > 0 && now.Sub(issued) > r.cfg.MaxRequestAge {
		return nil, &BlockError{Op: "block", Key: key.ShortString(), Err: ErrInvalidRequest}
	}
	if !r.verifier.Verify(request, signature) {
		return nil, &BlockError{Op: "block", Key: key.ShortString(), Err: ErrInvalidSignature}
	}

	b := &Block{
		Key:       key,
		Request:   append([]byte(nil), request...),
		Signature: append([]byte(nil), signature...),
		IssuedAt:  issued,
		Received:  now,
		Direct:    sender == nil,
	}
	if sender != nil {
		b.Sender = sender.Address()
	}

	s := r.shardFor(key)
	s.mu.Lock()
	if existing, ok := s.blocks[key]; ok {
		if b.Direct && !existing.Direct {
			existing.Direct = true
			existing.Sender = ""
			r.persist(existing)
		}
		out := *existing
		s.mu.Unlock()
		return &out, nil
	}
	s.blocks[key] = b
	s.mu.Unlock()

	r.count.Add(1)
	r.persist(b)
	log.Info("键已封禁", "key", key.ShortString(), "direct", b.Direct, "sender", b.Sender)
	out := *b
	return &out, nil
}

func (r *Registry) persist(b *Block) {
	if r.store == nil {
		return
	}
	if err := r.store.PutJSON(b.Key.Bytes(), b); err != nil {
		log.Warn("保存封禁失败", "key", b.Key.ShortString(), "error", err)
	}
}

// IsBlocked 键是否被封禁
func (r *Registry) IsBlocked(key types.Key) bool {
	s := r.shardFor(key)
	s.mu.RLock()
	_, ok := s.blocks[key]
	s.mu.RUnlock()
	return ok
}

// Details 封禁详情；未封禁返回 nil
func (r *Registry) Details(key types.Key) *Block {
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.blocks[key]; ok {
		out := *b
		return &out
	}
	return nil
}

// List 全部封禁，按接收时间排序
func (r *Registry) List() []*Block {
	return r.collect(func(*Block) bool { return true })
}

// Direct 本地提交的封禁
func (r *Registry) Direct() []*Block {
	return r.collect(func(b *Block) bool { return b.Direct })
}

func (r *Registry) collect(keep func(*Block) bool) []*Block {
	var out []*Block
	for _, s := range r.shards {
		s.mu.RLock()
		for _, b := range s.blocks {
			if keep(b) {
				cp := *b
				out = append(out, &cp)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Received.Before(out[j].Received) })
	return out
}

// Unblock 解除封禁
func (r *Registry) Unblock(key types.Key) error {
	s := r.shardFor(key)
	s.mu.Lock()
	_, ok := s.blocks[key]
	delete(s.blocks, key)
	s.mu.Unlock()
	if !ok {
		return &BlockError{Op: "unblock", Key: key.ShortString(), Err: ErrNotBlocked}
	}
	r.count.Add(-1)
	if r.store != nil {
		if err := r.store.Delete(key.Bytes()); err != nil {
			return &BlockError{Op: "unblock", Key: key.ShortString(), Err: err}
		}
	}
	log.Info("键已解除封禁", "key", key.ShortString())
	return nil
}

// Count 封禁数量
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Load 从持久化存储恢复封禁
//
// 恢复时重新校验签名，无法通过的记录被丢弃。
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	var stale [][]byte
	loaded := 0
	err := r.store.PrefixScan(nil, func(k, v []byte) bool {
		var b Block
		if err := json.Unmarshal(v, &b); err != nil || !r.verifier.Verify(b.Request, b.Signature) {
			stale = append(stale, append([]byte(nil), k...))
			return true
		}
		s := r.shardFor(b.Key)
		s.mu.Lock()
		if _, ok := s.blocks[b.Key]; !ok {
			s.blocks[b.Key] = &b
			r.count.Add(1)
			loaded++
		}
		s.mu.Unlock()
		return true
	})
	for _, k := range stale {
		_ = r.store.Delete(k)
	}
	log.Info("已恢复封禁", "count", loaded, "discarded", len(stale))
	return err
}

type rejectAll struct{}

func (rejectAll) Verify(_, _ []byte) bool { return false }
