package traversal

import (
	"sync"
	"sync/atomic"
)

// pool 固定数量的工作协程与有界队列
//
// 与请求处理协程相互独立，排满时立即拒绝而不是阻塞调用者。
// 入队与关闭在同一把锁下进行，关闭之后不会再有尝试进入队列。
type pool struct {
	jobs    chan *Handle
	run     func(*Handle)
	workers int

	mu     sync.Mutex
	closed bool
	active map[*Handle]struct{}

	quit    chan struct{}
	wg      sync.WaitGroup
	running atomic.Int32
}

func newPool(workers, queue int, run func(*Handle)) *pool {
	return &pool{
		jobs:    make(chan *Handle, queue),
		run:     run,
		workers: workers,
		active:  make(map[*Handle]struct{}),
		quit:    make(chan struct{}),
	}
}

func (p *pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
}

func (p *pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case h := <-p.jobs:
			if !p.enter(h) {
				h.Cancel()
				continue
			}
			p.running.Add(1)
			p.run(h)
			p.running.Add(-1)
			p.leave(h)
		}
	}
}

// enter 登记运行中的尝试；已关闭时返回 false
func (p *pool) enter(h *Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.active[h] = struct{}{}
	return true
}

func (p *pool) leave(h *Handle) {
	p.mu.Lock()
	delete(p.active, h)
	p.mu.Unlock()
}

// submit 非阻塞入队
func (p *pool) submit(h *Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- h:
		return true
	default:
		return false
	}
}

// pending 排队中的尝试数
func (p *pool) pending() int { return len(p.jobs) }

// stop 停止工作协程；运行中与排队中的尝试都以 Cancelled 结束
func (p *pool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	active := make([]*Handle, 0, len(p.active))
	for h := range p.active {
		active = append(active, h)
	}
	p.mu.Unlock()

	for _, h := range active {
		h.Cancel()
	}
	p.wg.Wait()
	for {
		select {
		case h := <-p.jobs:
			h.Cancel()
		default:
			return
		}
	}
}
