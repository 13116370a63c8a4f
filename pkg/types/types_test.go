package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_RoundTrip(t *testing.T) {
	k := HashKey([]byte("K1"))
	require.False(t, k.IsEmpty())

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
	assert.Len(t, k.ShortString(), 8)

	_, err = KeyFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestReplicationControl(t *testing.T) {
	rc := NewReplicationControl(3, 8)
	assert.Equal(t, byte(3), rc.Factor())
	assert.Equal(t, byte(8), rc.FrequencyHours())
	assert.False(t, rc.IsDefault())

	assert.Equal(t, byte(0xFF), RepControlDefault.Factor())
	assert.True(t, RepControlDefault.IsDefault())
}

func TestDiversificationType_WireValues(t *testing.T) {
	assert.Equal(t, byte(1), byte(DivNone))
	assert.Equal(t, byte(2), byte(DivFrequency))
	assert.Equal(t, byte(3), byte(DivSize))
	assert.False(t, DiversificationType(0).Valid())
	assert.Equal(t, "frequency", DivFrequency.String())
}

func TestFlags_Has(t *testing.T) {
	f := FlagAnon | FlagBridged
	assert.True(t, f.Has(FlagAnon))
	assert.True(t, f.Has(FlagBridged))
	assert.False(t, f.Has(FlagPutAndForget))
	assert.True(t, (LookupExhaustive | LookupStats).Has(LookupStats))
}

func TestKey_CompareDistance(t *testing.T) {
	var target, near, far Key
	near[KeyLen-1] = 0x01
	far[0] = 0x80

	assert.Equal(t, -1, target.CompareDistance(near, far))
	assert.Equal(t, 1, target.CompareDistance(far, near))
	assert.Equal(t, 0, target.CompareDistance(near, near))
	assert.Equal(t, EmptyKey, near.XOR(near))
	assert.Equal(t, far, target.XOR(far))
}
