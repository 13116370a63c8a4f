// Package quic 基于 quic-go 的请求/回复端点
//
// 监听与拨号共用一个 UDP socket（quic.Transport），
// 使对端观察到的来源端口等于本节点的监听端口，这也是打洞所需要的。
// 每个请求占用一条双向流：uvarint 长度 + 消息体，回复格式相同。
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multiformats/go-varint"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
)

var log = logger.Logger("transport.quic")

// ErrTooLarge 帧超过上限
var ErrTooLarge = errors.New("quic: frame too large")

// Config 端点配置
type Config struct {
	ListenAddr     string
	MaxIdleTimeout time.Duration
	MaxMessageSize int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "0.0.0.0:6881",
		MaxIdleTimeout: 30 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

type handlerBox struct{ h transport.RequestHandler }

// Endpoint QUIC 端点
type Endpoint struct {
	cfg       Config
	udp       *net.UDPConn
	tr        *quic.Transport
	ln        *quic.Listener
	clientTLS *tls.Config
	qconf     *quic.Config

	handler atomic.Pointer[handlerBox]

	mu    sync.Mutex
	conns map[string]quic.Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New 绑定 UDP socket 并开始接受连接
func New(cfg Config) (*Endpoint, error) {
	def := DefaultConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxIdleTimeout <= 0 {
		cfg.MaxIdleTimeout = def.MaxIdleTimeout
	}
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("quic: resolve %s: %w", cfg.ListenAddr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("quic: listen %s: %w", cfg.ListenAddr, err)
	}

	serverTLS, clientTLS, err := newTLSConfigs()
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	qconf := &quic.Config{
		MaxIdleTimeout:  cfg.MaxIdleTimeout,
		KeepAlivePeriod: cfg.MaxIdleTimeout / 2,
	}

	tr := &quic.Transport{Conn: udp}
	ln, err := tr.Listen(serverTLS, qconf)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("quic: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		cfg:       cfg,
		udp:       udp,
		tr:        tr,
		ln:        ln,
		clientTLS: clientTLS,
		qconf:     qconf,
		conns:     make(map[string]quic.Connection),
		ctx:       ctx,
		cancel:    cancel,
	}

	e.wg.Add(1)
	go e.acceptLoop()

	log.Info("QUIC 端点已启动", "addr", e.LocalAddr())
	return e, nil
}

// LocalAddr 实现 transport.Endpoint
func (e *Endpoint) LocalAddr() string {
	return e.udp.LocalAddr().String()
}

// Serve 实现 transport.Endpoint
func (e *Endpoint) Serve(h transport.RequestHandler) {
	e.handler.Store(&handlerBox{h: h})
}

// RoundTrip 实现 transport.Endpoint
func (e *Endpoint) RoundTrip(ctx context.Context, to string, req []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, transport.ErrClosed
	}
	if len(req) > e.cfg.MaxMessageSize {
		return nil, ErrTooLarge
	}

	conn, err := e.connect(ctx, to)
	if err != nil {
		return nil, err
	}
	resp, err := e.exchange(ctx, conn, req)
	if err != nil {
		e.dropConn(to, conn)
		return nil, err
	}
	return resp, nil
}

func (e *Endpoint) connect(ctx context.Context, to string) (quic.Connection, error) {
	e.mu.Lock()
	conn, ok := e.conns[to]
	e.mu.Unlock()
	if ok && conn.Context().Err() == nil {
		return conn, nil
	}

	addr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return nil, err
	}
	conn, err = e.tr.Dial(ctx, addr, e.clientTLS, e.qconf)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if old, ok := e.conns[to]; ok && old.Context().Err() == nil {
		e.mu.Unlock()
		_ = conn.CloseWithError(0, "duplicate")
		return old, nil
	}
	e.conns[to] = conn
	e.mu.Unlock()
	return conn, nil
}

func (e *Endpoint) dropConn(to string, conn quic.Connection) {
	e.mu.Lock()
	if e.conns[to] == conn {
		delete(e.conns, to)
	}
	e.mu.Unlock()
	_ = conn.CloseWithError(0, "request failed")
}

func (e *Endpoint) exchange(ctx context.Context, conn quic.Connection, req []byte) ([]byte, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.CancelRead(0)
	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(dl)
	}

	if err := writeFrame(stream, req); err != nil {
		return nil, err
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}
	return readFrame(bufio.NewReader(stream), e.cfg.MaxMessageSize)
}

func (e *Endpoint) acceptLoop() {
	defer e.wg.Done()
	for {
		conn, err := e.ln.Accept(e.ctx)
		if err != nil {
			if !e.closed.Load() {
				log.Warn("接受连接失败", "error", err)
			}
			return
		}
		e.wg.Add(1)
		go e.serveConn(conn)
	}
}

func (e *Endpoint) serveConn(conn quic.Connection) {
	defer e.wg.Done()
	observed := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(e.ctx)
		if err != nil {
			return
		}
		go e.serveStream(observed, stream)
	}
}

func (e *Endpoint) serveStream(observed string, stream quic.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(e.cfg.MaxIdleTimeout))

	req, err := readFrame(bufio.NewReader(stream), e.cfg.MaxMessageSize)
	if err != nil {
		stream.CancelRead(1)
		return
	}
	box := e.handler.Load()
	if box == nil {
		stream.CancelWrite(1)
		return
	}
	resp := box.h.HandleRequest(e.ctx, observed, req)
	if resp == nil {
		stream.CancelWrite(1)
		return
	}
	if err := writeFrame(stream, resp); err != nil {
		log.Debug("写回复失败", "to", observed, "error", err)
	}
}

// Close 实现 transport.Endpoint
func (e *Endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cancel()

	e.mu.Lock()
	for addr, c := range e.conns {
		_ = c.CloseWithError(0, "shutdown")
		delete(e.conns, addr)
	}
	e.mu.Unlock()

	// 外部传入的 UDP socket 不随 quic.Transport 关闭
	err := multierr.Combine(e.ln.Close(), e.tr.Close(), ignoreClosed(e.udp.Close()))
	e.wg.Wait()
	log.Info("QUIC 端点已关闭")
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func writeFrame(w io.Writer, data []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r *bufio.Reader, limit int) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(limit) {
		return nil, ErrTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

var _ transport.Endpoint = (*Endpoint)(nil)
