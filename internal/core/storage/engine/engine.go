// Package engine 定义持久化存储引擎接口
//
// 实现位于 engine/badger。上层通过 kv.Store 按前缀隔离命名空间。
//
// 所有实现必须线程安全；Batch 与 Iterator 由单个 goroutine 使用。
package engine

// Engine 存储引擎
type Engine interface {
	// Get 读取键；不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入键值
	Put(key, value []byte) error

	// Delete 删除键（不存在时不报错）
	Delete(key []byte) error

	// Has 键是否存在
	Has(key []byte) (bool, error)

	// NewBatch 创建批量写入
	NewBatch() Batch

	// NewPrefixIterator 遍历指定前缀的键
	//
	// 调用者负责 Close。
	NewPrefixIterator(prefix []byte) Iterator

	// Start 启动后台任务（值日志 GC）
	Start() error

	// Close 关闭引擎；重复调用安全
	Close() error

	// Stats 统计快照
	Stats() Stats
}

// Batch 批量写入
//
// Write 之后批量对象被重置，可继续使用。
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Size() int
}

// Iterator 前缀迭代器
//
//	it := eng.NewPrefixIterator(prefix)
//	defer it.Close()
//	for it.First(); it.Valid(); it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	return it.Error()
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool

	// Key 返回当前键的副本
	Key() []byte

	// Value 返回当前值的副本
	Value() []byte

	Close()
	Error() error
}

// Stats 引擎统计
type Stats struct {
	DiskSize   int64 `json:"disk_size"`
	NumReads   int64 `json:"num_reads"`
	NumWrites  int64 `json:"num_writes"`
	NumDeletes int64 `json:"num_deletes"`
}
