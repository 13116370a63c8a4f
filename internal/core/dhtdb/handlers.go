package dhtdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// RegisterHandlers 在分发器上注册 STORE / LOOKUP / REMOVE / KEY_BLOCK
//
// 发送者在到达这里之前已由分发器导入，版本过低的节点不会触及存储。
func (db *DB) RegisterHandlers(d *transport.Dispatcher) {
	d.HandleFunc(transport.MsgStore, db.handleStore)
	d.HandleFunc(transport.MsgLookup, db.handleLookup)
	d.HandleFunc(transport.MsgRemove, db.handleRemove)
	d.HandleFunc(transport.MsgKeyBlock, db.handleKeyBlock)
}

func (db *DB) handleStore(ctx context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
	records := make([]*Record, 0, len(req.Values))
	for _, v := range req.Values {
		records = append(records, FromValue(req.Key, v))
	}
	div, err := db.StoreRemote(ctx, from, req.Key, records)
	if err != nil {
		return nil, rejectable(err)
	}
	return &transport.Message{Key: req.Key, Div: div}, nil
}

func (db *DB) handleLookup(_ context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
	res, err := db.Lookup(from, req.Key, int(req.MaxValues), req.LookupFlags, true)
	if err != nil {
		return nil, rejectable(err)
	}
	reply := &transport.Message{Key: req.Key, Div: types.DivNone}
	if res != nil {
		reply.Values = Values(res.Values)
		reply.Div = res.Div
	}
	return reply, nil
}

func (db *DB) handleRemove(_ context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
	ts, err := db.Remove(from, req.Key, req.Flags)
	if err != nil {
		return nil, rejectable(err)
	}
	reply := &transport.Message{Key: req.Key}
	if ts != nil {
		reply.Values = []transport.Value{ts.Value()}
	}
	return reply, nil
}

func (db *DB) handleKeyBlock(_ context.Context, from transport.Contact, req *transport.Message) (*transport.Message, error) {
	if _, err := db.KeyBlockRequest(&from, req.Payload, req.Signature); err != nil {
		return nil, rejectable(err)
	}
	return &transport.Message{}, nil
}

// rejectable 把封禁、限速与无效封禁请求映射为拒绝回复
func rejectable(err error) error {
	switch {
	case errors.Is(err, ErrBlocked), errors.Is(err, ErrRateLimited), errors.Is(err, ErrInvalidBlockRequest),
		errors.Is(err, ErrTooManyValues):
		return fmt.Errorf("%w: %w", transport.ErrRejected, err)
	default:
		return err
	}
}
