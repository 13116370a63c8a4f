package dhtdb

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/internal/core/storageblock"
	"github.com/dep2p/go-dhtdb/internal/core/transport"
	"github.com/dep2p/go-dhtdb/pkg/interfaces"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

type fixture struct {
	db    *DB
	clk   *clock.Mock
	im    *transport.Importer
	priv  ed25519.PrivateKey
	local transport.Contact
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	clk := newMock()

	im, err := transport.NewImporter(transport.DefaultImporterConfig(), nil, nil)
	require.NoError(t, err)
	local, err := im.Local("10.0.0.1:6881")
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	blocks := storageblock.New(storageblock.DefaultConfig(), interfaces.Ed25519Verifier{PublicKey: pub}, nil, clk)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	db, err := New(cfg, local, blocks, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Destroy() })
	return &fixture{db: db, clk: clk, im: im, priv: priv, local: local}
}

// peer 返回第 i 个远端联系人
func (f *fixture) peer(t *testing.T, i int) transport.Contact {
	t.Helper()
	c, err := f.im.ImportContact(fmt.Sprintf("10.1.%d.%d:6881", i/250, i%250+1), transport.VersionCurrent, false)
	require.NoError(t, err)
	return c
}

// value 构造 originator 发布的记录
func (f *fixture) value(originator transport.Contact, payload string) *Record {
	return &Record{
		Payload:    []byte(payload),
		Originator: originator,
		RepControl: types.RepControlDefault,
		Version:    1,
		Created:    f.clk.Now(),
	}
}

func (f *fixture) blockRequest(key types.Key) ([]byte, []byte) {
	req := storageblock.EncodeRequest(key, f.clk.Now())
	return req, ed25519.Sign(f.priv, req)
}
