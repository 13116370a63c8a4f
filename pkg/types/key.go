// Package types 定义 dhtdb 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"errors"

	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              Key - 记录键
// ============================================================================

// KeyLen 键长度（字节）
const KeyLen = 20

// Key DHT 记录键，定长哈希
//
// 外部表示为 Base58 编码。
type Key [KeyLen]byte

// EmptyKey 空键
var EmptyKey Key

// ErrInvalidKey 无效键
var ErrInvalidKey = errors.New("types: invalid key length")

// HashKey 由任意数据派生键（SHA-256 截断为 KeyLen 字节）
func HashKey(data []byte) Key {
	sum := sha256.Sum256(data)
	var k Key
	copy(k[:], sum[:KeyLen])
	return k
}

// KeyFromBytes 从字节切片创建键
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) != KeyLen {
		return EmptyKey, ErrInvalidKey
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// ParseKey 解析 Base58 形式的键
func ParseKey(s string) (Key, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyKey, ErrInvalidKey
	}
	return KeyFromBytes(b)
}

// String 返回 Base58 表示
func (k Key) String() string {
	return base58.Encode(k[:])
}

// ShortString 返回 Base58 前 8 个字符，用于日志
func (k Key) ShortString() string {
	s := k.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回键的字节副本
func (k Key) Bytes() []byte {
	b := make([]byte, KeyLen)
	copy(b, k[:])
	return b
}

// IsEmpty 检查键是否为空
func (k Key) IsEmpty() bool {
	return k == EmptyKey
}

// XOR 返回两个键的 XOR 距离
func (k Key) XOR(o Key) Key {
	var d Key
	for i := range k {
		d[i] = k[i] ^ o[i]
	}
	return d
}

// CompareDistance 比较 a 和 b 到 k 的距离
// 返回：
//
//	-1 如果 dist(a, k) < dist(b, k)
//	 0 如果相等
//	 1 如果 dist(a, k) > dist(b, k)
func (k Key) CompareDistance(a, b Key) int {
	for i := range k {
		da, db := a[i]^k[i], b[i]^k[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}
