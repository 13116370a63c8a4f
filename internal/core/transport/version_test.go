package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestProtocolVersion_Supports 特性按版本解锁
func TestProtocolVersion_Supports(t *testing.T) {
	assert.False(t, VersionBlockKeys.Supports(FeatureLongerLife))
	assert.True(t, VersionLongerLife.Supports(FeatureLongerLife))
	assert.False(t, VersionLongerLife.Supports(FeatureReplicationControl))
	assert.True(t, VersionReplicationControl.Supports(FeatureReplicationControl))
	assert.True(t, VersionCurrent.Supports(FeaturePacketFlags))
	assert.False(t, VersionRestrictIDPorts2.Supports(FeaturePacketFlags))
	assert.False(t, VersionCurrent.Supports(Feature(999)))

	assert.Equal(t, VersionLongerLife, FeatureLongerLife.Since())
	assert.Equal(t, "replication-control", FeatureReplicationControl.String())
	assert.Len(t, VersionCurrent.Features(), int(FeatureProcTime)+1)
}

// TestEffectiveMinimum 本地覆盖只能提高最低版本
func TestEffectiveMinimum(t *testing.T) {
	assert.Equal(t, VersionMinCompiled, EffectiveMinimum(0))
	assert.Equal(t, VersionMinCompiled, EffectiveMinimum(VersionBlockKeys))
	assert.Equal(t, VersionPacketFlags, EffectiveMinimum(VersionPacketFlags))
	assert.Equal(t, VersionBlockKeys, MinVersion(VersionCurrent, VersionBlockKeys))
}
