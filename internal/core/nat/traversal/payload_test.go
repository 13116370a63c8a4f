package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

func TestPayload_RoundTrip(t *testing.T) {
	in := map[string]any{
		"s":     "text",
		"n":     42.0,
		"b":     true,
		"list":  []any{"a", 1.0},
		"inner": map[string]any{"k": "v"},
		// 调用者不能覆盖保留字段
		ReasonField: 99.0,
	}
	data, err := EncodePayload(types.ReasonGenericMessaging, in)
	require.NoError(t, err)

	reason, out, ok, err := DecodePayload(data)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ReasonGenericMessaging, reason)
	assert.NotContains(t, out, ReasonField)
	assert.Equal(t, "text", out["s"])
	assert.Equal(t, 42.0, out["n"])
	assert.Equal(t, map[string]any{"k": "v"}, out["inner"])
}

func TestPayload_NoReason(t *testing.T) {
	_, _, _, err := DecodePayload([]byte{0x0a})
	assert.ErrorIs(t, err, ErrBadPayload)

	// 空 Struct
	reason, out, ok, err := DecodePayload(nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, reason)
	assert.Empty(t, out)
}
