package badger

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-dhtdb/internal/core/storage/engine"
)

// iterator 只读事务上的前缀迭代器
type iterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	closed bool
	err    error
}

func (i *iterator) First() bool {
	if i.closed {
		return false
	}
	i.it.Seek(i.prefix)
	return i.Valid()
}

func (i *iterator) Next() bool {
	if i.closed {
		return false
	}
	i.it.Next()
	return i.Valid()
}

func (i *iterator) Valid() bool {
	if i.closed || !i.it.Valid() {
		return false
	}
	return bytes.HasPrefix(i.it.Item().Key(), i.prefix)
}

func (i *iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.it.Item().KeyCopy(nil)
}

func (i *iterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	v, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		i.err = err
		return nil
	}
	return v
}

func (i *iterator) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
}

func (i *iterator) Error() error { return i.err }

var _ engine.Iterator = (*iterator)(nil)
