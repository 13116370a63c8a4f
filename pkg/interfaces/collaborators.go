// Package interfaces 定义 dhtdb 消费的外部协作者接口
//
// 这些能力由宿主程序提供，dhtdb 只调用，不实现其策略：
//   - IPFilter          - IP 段过滤（导入联系人时查询）
//   - AbuseReporter     - 可选，接收滥用来源报告
//   - AltNetClassifier  - 替代网络识别
//   - SignatureVerifier - 键封禁请求的签名校验
//   - LocalIdentity     - 本节点地址与公钥
package interfaces

import (
	"crypto/ed25519"
	"net/netip"
	"strings"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// IPFilter IP 过滤器
type IPFilter interface {
	// IsBlocked 地址是否被过滤
	IsBlocked(addr netip.Addr) bool
}

// AbuseReporter 滥用来源报告
//
// IPFilter 可以同时实现该接口；存储在来源 IP 超过直接记录上限时调用。
type AbuseReporter interface {
	ReportAbuse(addr netip.Addr, reason string)
}

// AltNetClassifier 替代网络分类器
type AltNetClassifier interface {
	// Classify 根据主机名判断所在网络
	Classify(host string) types.Network
}

// SignatureVerifier 签名校验
type SignatureVerifier interface {
	// Verify 校验 signature 是否为 message 的有效签名
	Verify(message, signature []byte) bool
}

// LocalIdentity 本节点身份
type LocalIdentity interface {
	// Address 本节点对外地址（host:port）
	Address() string

	// PublicKey 本节点公钥（不透明字节）
	PublicKey() []byte
}

// ============================================================================
//                              默认实现
// ============================================================================

// NoFilter 不过滤任何地址
type NoFilter struct{}

// IsBlocked 实现 IPFilter
func (NoFilter) IsBlocked(netip.Addr) bool { return false }

// SuffixClassifier 按主机名后缀识别替代网络
//
// 零值识别 .onion 与 .i2p。
type SuffixClassifier struct {
	Suffixes []string
}

// Classify 实现 AltNetClassifier
func (c SuffixClassifier) Classify(host string) types.Network {
	suffixes := c.Suffixes
	if len(suffixes) == 0 {
		suffixes = []string{".onion", ".i2p"}
	}
	host = strings.ToLower(host)
	for _, s := range suffixes {
		if strings.HasSuffix(host, s) {
			return types.NetworkAlternative
		}
	}
	return types.NetworkOrdinary
}

// Ed25519Verifier 使用固定公钥校验 Ed25519 签名
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

// Verify 实现 SignatureVerifier
func (v Ed25519Verifier) Verify(message, signature []byte) bool {
	if len(v.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(v.PublicKey, message, signature)
}

// StaticIdentity 固定地址与公钥的身份
type StaticIdentity struct {
	Addr string
	Key  []byte
}

// Address 实现 LocalIdentity
func (s StaticIdentity) Address() string { return s.Addr }

// PublicKey 实现 LocalIdentity
func (s StaticIdentity) PublicKey() []byte { return s.Key }
