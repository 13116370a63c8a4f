package transport

import "strconv"

// ProtocolVersion 协议版本
//
// 单字节、单调递增。每个历史版本解锁一组特性，
// 低于生效最低版本的联系人在导入时即被拒绝。
type ProtocolVersion byte

// 历史版本
const (
	VersionDivAndCont         ProtocolVersion = 6
	VersionAntiSpoof          ProtocolVersion = 7
	VersionAntiSpoof2         ProtocolVersion = 8
	VersionFixOriginator      ProtocolVersion = 9
	VersionVivaldi            ProtocolVersion = 10
	VersionRemoveDistAddVer   ProtocolVersion = 11
	VersionXferStatus         ProtocolVersion = 12
	VersionSizeEstimate       ProtocolVersion = 13
	VersionBlockKeys          ProtocolVersion = 14
	VersionGenericNetpos      ProtocolVersion = 15
	VersionVivaldiFindValue   ProtocolVersion = 16
	VersionAnonValues         ProtocolVersion = 17
	VersionMoreStats          ProtocolVersion = 20
	VersionMoreNodeStatus     ProtocolVersion = 22
	VersionLongerLife         ProtocolVersion = 23
	VersionReplicationControl ProtocolVersion = 24
	VersionRestrictIDPorts    ProtocolVersion = 32
	VersionRestrictIDPorts2   ProtocolVersion = 33
	VersionRestrictID3        ProtocolVersion = 50
	VersionPacketFlags        ProtocolVersion = 51
	VersionAltContacts        ProtocolVersion = 52
	VersionPacketFlags2       ProtocolVersion = 53
	VersionProcTime           ProtocolVersion = 54

	// VersionCurrent 本实现发送的版本
	VersionCurrent = VersionProcTime

	// VersionMinCompiled 编译期最低可接受版本
	VersionMinCompiled = VersionRestrictIDPorts2
)

// Feature 按版本解锁的协议特性
type Feature int

const (
	FeatureDiversification Feature = iota
	FeatureAntiSpoof
	FeatureRemoveDistAddVer
	FeatureBlockKeys
	FeatureAnonValues
	FeatureLongerLife
	FeatureReplicationControl
	FeatureRestrictIDPorts
	FeaturePacketFlags
	FeatureAltContacts
	FeatureProcTime
)

var featureVersions = map[Feature]ProtocolVersion{
	FeatureDiversification:    VersionDivAndCont,
	FeatureAntiSpoof:          VersionAntiSpoof,
	FeatureRemoveDistAddVer:   VersionRemoveDistAddVer,
	FeatureBlockKeys:          VersionBlockKeys,
	FeatureAnonValues:         VersionAnonValues,
	FeatureLongerLife:         VersionLongerLife,
	FeatureReplicationControl: VersionReplicationControl,
	FeatureRestrictIDPorts:    VersionRestrictIDPorts,
	FeaturePacketFlags:        VersionPacketFlags,
	FeatureAltContacts:        VersionAltContacts,
	FeatureProcTime:           VersionProcTime,
}

var featureNames = map[Feature]string{
	FeatureDiversification:    "diversification",
	FeatureAntiSpoof:          "anti-spoof",
	FeatureRemoveDistAddVer:   "remove-dist-add-ver",
	FeatureBlockKeys:          "block-keys",
	FeatureAnonValues:         "anon-values",
	FeatureLongerLife:         "longer-life",
	FeatureReplicationControl: "replication-control",
	FeatureRestrictIDPorts:    "restrict-id-ports",
	FeaturePacketFlags:        "packet-flags",
	FeatureAltContacts:        "alt-contacts",
	FeatureProcTime:           "proc-time",
}

// String 特性名
func (f Feature) String() string {
	if n, ok := featureNames[f]; ok {
		return n
	}
	return "feature(" + strconv.Itoa(int(f)) + ")"
}

// Since 引入该特性的版本
func (f Feature) Since() ProtocolVersion {
	return featureVersions[f]
}

// Supports 版本是否支持某特性
func (v ProtocolVersion) Supports(f Feature) bool {
	since, ok := featureVersions[f]
	return ok && v >= since
}

// Features 该版本解锁的全部特性
func (v ProtocolVersion) Features() []Feature {
	var out []Feature
	for f := FeatureDiversification; f <= FeatureProcTime; f++ {
		if v.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

// String 十进制表示
func (v ProtocolVersion) String() string {
	return "v" + strconv.Itoa(int(v))
}

// EffectiveMinimum 生效最低版本
//
// 本地覆盖只能提高编译期最低版本，不能降低。
func EffectiveMinimum(override ProtocolVersion) ProtocolVersion {
	if override > VersionMinCompiled {
		return override
	}
	return VersionMinCompiled
}

// MinVersion 取较小者，用于按双方都支持的版本编码回复
func MinVersion(a, b ProtocolVersion) ProtocolVersion {
	if a < b {
		return a
	}
	return b
}
