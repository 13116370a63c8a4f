package quic

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

type echoHandler struct{ observed chan string }

func (h echoHandler) HandleRequest(_ context.Context, observed string, req []byte) []byte {
	select {
	case h.observed <- observed:
	default:
	}
	return append([]byte("echo:"), req...)
}

func newLoopback(t *testing.T) *Endpoint {
	t.Helper()
	ep, err := New(Config{ListenAddr: "127.0.0.1:0", MaxIdleTimeout: 5 * time.Second, MaxMessageSize: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

// TestEndpoint_RoundTrip 请求/回复并复用监听端口
func TestEndpoint_RoundTrip(t *testing.T) {
	a, b := newLoopback(t), newLoopback(t)
	h := echoHandler{observed: make(chan string, 1)}
	b.Serve(h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := a.RoundTrip(ctx, b.LocalAddr(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:ping"), resp)

	// 观察到的来源端口即 a 的监听端口
	assert.Equal(t, a.LocalAddr(), <-h.observed)

	resp, err = a.RoundTrip(ctx, b.LocalAddr(), []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:again"), resp)
}

// TestEndpoint_Limits 超长请求与关闭后的调用
func TestEndpoint_Limits(t *testing.T) {
	a, b := newLoopback(t), newLoopback(t)
	b.Serve(echoHandler{observed: make(chan string, 1)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.RoundTrip(ctx, b.LocalAddr(), bytes.Repeat([]byte{1}, 5000))
	assert.ErrorIs(t, err, ErrTooLarge)

	require.NoError(t, a.Close())
	_, err = a.RoundTrip(ctx, b.LocalAddr(), []byte("x"))
	assert.ErrorIs(t, err, transport.ErrClosed)
}
