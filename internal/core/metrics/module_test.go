package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
)

// ============================================================================
// Fx 模块测试
// ============================================================================

// TestModule_Provides 测试模块提供的类型
func TestModule_Provides(t *testing.T) {
	var (
		reporter Reporter
		reg      *prometheus.Registry
	)
	app := fxtest.New(t,
		Module(),
		fx.Populate(&reporter, &reg),
	)
	defer app.RequireStart().RequireStop()

	require.NotNil(t, reporter)
	reporter.LogSent(transport.MsgStore, "p", 100)
	assert.Equal(t, int64(100), reporter.Totals().TotalOut)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// TestModule_Server 启用时提供 /metrics 端点
func TestModule_Server(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"

	var reporter Reporter
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&reporter),
		fx.Invoke(func(lc fx.Lifecycle, reg *prometheus.Registry) {
			lc.Append(fx.Hook{OnStart: func(context.Context) error {
				// 端口由系统分配，单独起一个端点验证处理器
				srv := NewServer("127.0.0.1:0", reg)
				require.NoError(t, srv.Start())
				reporter.LogRecv(transport.MsgLookup, "p", 7)

				resp, err := http.Get("http://" + srv.Addr() + "/metrics")
				require.NoError(t, err)
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				assert.Contains(t, string(body), `dhtdb_transport_bytes_total{direction="in",type="LOOKUP"} 7`)
				return srv.Stop(context.Background())
			}})
		}),
	)
	app.RequireStart()
	app.RequireStop()
}

// TestDecorateEndpoint 根作用域装饰端点
func TestDecorateEndpoint(t *testing.T) {
	var ep transport.Endpoint
	app := fxtest.New(t,
		fx.Provide(func() transport.Endpoint { return newNopEndpoint() }),
		Module(),
		fx.Decorate(DecorateEndpoint),
		fx.Populate(&ep),
	)
	defer app.RequireStart().RequireStop()

	_, ok := ep.(*CountingEndpoint)
	assert.True(t, ok)
}

type nopEndpoint struct{}

func newNopEndpoint() *nopEndpoint { return &nopEndpoint{} }

func (*nopEndpoint) LocalAddr() string { return "127.0.0.1:1" }
func (*nopEndpoint) RoundTrip(context.Context, string, []byte) ([]byte, error) {
	return nil, transport.ErrClosed
}
func (*nopEndpoint) Serve(transport.RequestHandler) {}
func (*nopEndpoint) Close() error                   { return nil }
