package traversal

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// ReasonField 载荷中保留的原因码字段
const ReasonField = "_travreason"

// EncodePayload 把载荷与原因码编码为 protobuf Struct
//
// 载荷的值必须是 structpb 支持的类型（数字、字符串、布尔、列表、嵌套 map）。
func EncodePayload(reason types.Reason, payload map[string]any) ([]byte, error) {
	fields := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		if k == ReasonField {
			continue
		}
		fields[k] = v
	}
	fields[ReasonField] = float64(reason)

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	return data, nil
}

// DecodePayload 解码载荷并取出原因码
//
// 返回的 map 不含保留字段；没有原因码时 ok 为 false。
func DecodePayload(data []byte) (reason types.Reason, payload map[string]any, ok bool, err error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return 0, nil, false, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	payload = st.AsMap()
	raw, present := payload[ReasonField]
	delete(payload, ReasonField)
	if !present {
		return 0, payload, false, nil
	}
	reason, ok = reasonOf(raw)
	return reason, payload, ok, nil
}
