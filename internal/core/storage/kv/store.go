// Package kv 在存储引擎上提供前缀隔离的键空间
//
// 前缀约定：
//   - b/ - 键封禁记录（storageblock）
//   - c/ - 引导联系人描述符（transport）
package kv

import (
	"encoding/json"

	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
)

// Store 带前缀的 KV 视图
type Store struct {
	engine engine.Engine
	prefix []byte
}

// New 创建前缀视图
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{engine: eng, prefix: append([]byte(nil), prefix...)}
}

func (s *Store) prefixKey(key []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(key))
	out = append(out, s.prefix...)
	return append(out, key...)
}

// Get 读取
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 写入
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// GetJSON 读取并解析 JSON
func (s *Store) GetJSON(key []byte, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return engine.ErrCorrupted
	}
	return nil
}

// PutJSON 序列化为 JSON 写入
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// PrefixScan 遍历子前缀下的全部键值
//
// fn 收到去掉本 Store 前缀后的键；返回 false 停止遍历。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	it := s.engine.NewPrefixIterator(s.prefixKey(subPrefix))
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		key := it.Key()[len(s.prefix):]
		if !fn(key, it.Value()) {
			break
		}
	}
	return it.Error()
}

// Count 子前缀下的键数量
func (s *Store) Count(subPrefix []byte) (int, error) {
	n := 0
	err := s.PrefixScan(subPrefix, func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// PutMany 以一个批次写入多组 JSON 值
func (s *Store) PutMany(values map[string]any) error {
	b := s.engine.NewBatch()
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Put(s.prefixKey([]byte(k)), data)
	}
	return b.Write()
}

// SubStore 派生更长前缀的视图
func (s *Store) SubStore(subPrefix []byte) *Store {
	return New(s.engine, s.prefixKey(subPrefix))
}
