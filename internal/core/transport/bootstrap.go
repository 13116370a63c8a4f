package transport

import (
	"context"
	"sync"

	"github.com/dep2p/go-dhtdb/internal/core/storage/kv"
)

// Bootstrapper 联系引导节点
//
// 成功响应的联系人描述符保存到 kv（前缀 c/），下次启动时一并尝试。
type Bootstrapper struct {
	transport Transport
	importer  *Importer
	store     *kv.Store
	addrs     []string
}

// NewBootstrapper 创建引导器；store 可为 nil
func NewBootstrapper(t Transport, im *Importer, store *kv.Store, addrs []string) *Bootstrapper {
	return &Bootstrapper{transport: t, importer: im, store: store, addrs: addrs}
}

// candidates 配置的地址加上已保存的联系人
func (b *Bootstrapper) candidates() []Contact {
	seen := make(map[string]struct{})
	var out []Contact
	for _, addr := range b.addrs {
		// 版本未知，先以最低版本导入，Ping 后得到真实版本
		c, err := b.importer.ImportContact(addr, b.importer.MinVersion(), true)
		if err != nil {
			log.Warn("引导地址无效", "addr", addr, "error", err)
			continue
		}
		seen[c.Address()] = struct{}{}
		out = append(out, c)
	}
	if b.store == nil {
		return out
	}
	err := b.store.PrefixScan(nil, func(_, value []byte) bool {
		c, err := b.importer.ImportDescriptor(value)
		if err != nil {
			return true
		}
		if _, dup := seen[c.Address()]; !dup {
			seen[c.Address()] = struct{}{}
			out = append(out, c)
		}
		return true
	})
	if err != nil {
		log.Debug("读取已保存联系人失败", "error", err)
	}
	return out
}

// Run 并发 Ping 全部候选，返回响应的联系人
func (b *Bootstrapper) Run(ctx context.Context) []Contact {
	cands := b.candidates()
	if len(cands) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		live []Contact
		wg   sync.WaitGroup
	)
	for _, c := range cands {
		wg.Add(1)
		go func(c Contact) {
			defer wg.Done()
			got, err := b.transport.Ping(ctx, c)
			if err != nil {
				log.Debug("引导节点无响应", "contact", c.String(), "error", err)
				if b.store != nil {
					_ = b.store.Delete(c.ID().Bytes())
				}
				return
			}
			if b.store != nil {
				if err := b.store.Put(got.ID().Bytes(), ExportDescriptor(got)); err != nil {
					log.Debug("保存联系人失败", "error", err)
				}
			}
			mu.Lock()
			live = append(live, got)
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	log.Info("引导完成", "candidates", len(cands), "live", len(live))
	return live
}
