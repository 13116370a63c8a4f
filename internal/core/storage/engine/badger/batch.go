package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
)

// writeBatch BadgerDB WriteBatch 包装
//
// badger 的 Set/Delete 错误推迟到 Flush 返回。
type writeBatch struct {
	eng   *Engine
	wb    *badger.WriteBatch
	count int
	err   error
}

func (b *writeBatch) Put(key, value []byte) {
	if len(key) == 0 || b.err != nil {
		return
	}
	b.err = b.wb.Set(key, value)
	b.count++
}

func (b *writeBatch) Delete(key []byte) {
	if len(key) == 0 || b.err != nil {
		return
	}
	b.err = b.wb.Delete(key)
	b.count++
}

func (b *writeBatch) Write() error {
	if b.eng.closed.Load() {
		b.wb.Cancel()
		return engine.ErrClosed
	}
	err := b.err
	if err == nil {
		err = b.wb.Flush()
	} else {
		b.wb.Cancel()
	}
	if err == nil {
		b.eng.numWrites.Add(int64(b.count))
	}

	b.wb = b.eng.db.NewWriteBatch()
	b.count = 0
	b.err = nil
	return convertError(err)
}

func (b *writeBatch) Size() int { return b.count }

var _ engine.Batch = (*writeBatch)(nil)
