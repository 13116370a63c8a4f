package storageblock

import (
	"encoding/binary"
	"time"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// 封禁请求格式：
//
//	version(1) | issuedAt(4, BE, unix 秒) | key(20)
const (
	// RequestVersion 当前请求格式版本
	RequestVersion byte = 1

	// RequestLen 请求长度
	RequestLen = 1 + 4 + types.KeyLen
)

// EncodeRequest 构造封禁请求（由持有签名私钥的一方签名）
func EncodeRequest(key types.Key, issuedAt time.Time) []byte {
	buf := make([]byte, 0, RequestLen)
	buf = append(buf, RequestVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(issuedAt.Unix()))
	return append(buf, key[:]...)
}

// ParseRequest 解析封禁请求
func ParseRequest(req []byte) (types.Key, time.Time, error) {
	if len(req) != RequestLen || req[0] != RequestVersion {
		return types.EmptyKey, time.Time{}, ErrInvalidRequest
	}
	issued := time.Unix(int64(binary.BigEndian.Uint32(req[1:5])), 0)
	key, err := types.KeyFromBytes(req[5:])
	if err != nil {
		return types.EmptyKey, time.Time{}, ErrInvalidRequest
	}
	return key, issued, nil
}
