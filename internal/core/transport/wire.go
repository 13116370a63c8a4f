package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-dhtdb/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 请求类型
type MessageType byte

const (
	MsgPing MessageType = iota + 1
	MsgStore
	MsgLookup
	MsgRemove
	MsgKeyBlock
	MsgBind
	MsgPunch
	MsgTunnel
)

// String 返回消息类型名
func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "PING"
	case MsgStore:
		return "STORE"
	case MsgLookup:
		return "LOOKUP"
	case MsgRemove:
		return "REMOVE"
	case MsgKeyBlock:
		return "KEY_BLOCK"
	case MsgBind:
		return "BIND"
	case MsgPunch:
		return "PUNCH"
	case MsgTunnel:
		return "TUNNEL"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

// Status 回复状态
type Status byte

const (
	StatusOK Status = iota
	StatusError
	// StatusRejected 请求被拒绝：发送者导入失败或键被封禁
	StatusRejected
	// StatusNotFound 没有可用数据（如会合节点上没有目标绑定）
	StatusNotFound
)

// String 返回状态名
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusRejected:
		return "rejected"
	case StatusNotFound:
		return "not-found"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// ============================================================================
//                              消息结构
// ============================================================================

// MaxWireValueSize 线路上单个值的最大长度
const MaxWireValueSize = 512

// Value 线路上的值记录
type Value struct {
	// Version 发布者侧单调版本（RemoveDistAddVer 起携带）
	Version int32

	// Created 创建时间
	Created time.Time

	// Payload 值内容；长度为 0 表示删除墓碑
	Payload []byte

	// Originator 发布者
	Originator Contact

	Flags types.Flags

	// LifeHours 寿命小时数，0 表示默认（LongerLife 起携带）
	LifeHours byte

	// RepControl 复制控制（ReplicationControl 起携带）
	RepControl types.ReplicationControl
}

// Message 请求或回复
type Message struct {
	Type     MessageType
	Response bool

	// Version 编码所用版本，决定值字段是否出现
	Version ProtocolVersion
	Status  Status

	// Sender 发送者描述符
	Sender []byte

	Key         types.Key
	Flags       types.Flags
	LookupFlags types.LookupFlags
	MaxValues   uint16
	Div         types.DiversificationType
	Values      []Value

	// Target 打洞目标地址（PUNCH）
	Target string

	// Subject 消息涉及的第三方描述符（TUNNEL 中的发起者）
	Subject []byte

	// Payload 不透明载荷：封禁请求、打洞请求或回复
	Payload   []byte
	Signature []byte

	Error string
}

// ============================================================================
//                              编码
// ============================================================================

// Encode 编码消息
//
//	type | response | version | status | sender | key(20) | flags
//	| lookupFlags | maxValues | div | values | target | subject
//	| payload | signature | error
//
// 变长字段均以 uvarint 长度为前缀。
func (m *Message) Encode() ([]byte, error) {
	var buf bytes.Buffer

	resp := byte(0)
	if m.Response {
		resp = 1
	}
	buf.Write([]byte{byte(m.Type), resp, byte(m.Version), byte(m.Status)})
	writeBytes(&buf, m.Sender)
	buf.Write(m.Key[:])
	buf.WriteByte(byte(m.Flags))
	buf.Write(varint.ToUvarint(uint64(m.LookupFlags)))
	buf.Write(varint.ToUvarint(uint64(m.MaxValues)))
	buf.WriteByte(byte(m.Div))

	buf.Write(varint.ToUvarint(uint64(len(m.Values))))
	for i := range m.Values {
		if err := encodeValue(&buf, &m.Values[i], m.Version); err != nil {
			return nil, err
		}
	}

	writeBytes(&buf, []byte(m.Target))
	writeBytes(&buf, m.Subject)
	writeBytes(&buf, m.Payload)
	writeBytes(&buf, m.Signature)
	writeBytes(&buf, []byte(m.Error))
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v *Value, version ProtocolVersion) error {
	if len(v.Payload) > MaxWireValueSize {
		return ErrValueTooLarge
	}
	if version.Supports(FeatureRemoveDistAddVer) {
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(v.Version)))
	}
	var created int64
	if !v.Created.IsZero() {
		created = v.Created.UnixMilli()
	}
	buf.Write(binary.BigEndian.AppendUint64(nil, uint64(created)))
	writeBytes(buf, v.Payload)
	writeBytes(buf, ExportDescriptor(v.Originator))
	buf.WriteByte(byte(v.Flags))
	if version.Supports(FeatureLongerLife) {
		buf.WriteByte(v.LifeHours)
	}
	if version.Supports(FeatureReplicationControl) {
		buf.WriteByte(byte(v.RepControl))
	}
	return nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	buf.Write(varint.ToUvarint(uint64(len(b))))
	buf.Write(b)
}

// ============================================================================
//                              解码
// ============================================================================

// maxDecodeValues 单条消息的值数量上限
const maxDecodeValues = 1024

// DecodeMessage 解码消息
func DecodeMessage(data []byte) (*Message, error) {
	r := bytes.NewReader(data)
	m := &Message{}

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, ErrMalformed
	}
	m.Type = MessageType(head[0])
	m.Response = head[1] == 1
	m.Version = ProtocolVersion(head[2])
	m.Status = Status(head[3])

	var err error
	if m.Sender, err = readBytes(r, 512); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, m.Key[:]); err != nil {
		return nil, ErrMalformed
	}
	b, err := r.ReadByte()
	if err != nil {
		return nil, ErrMalformed
	}
	m.Flags = types.Flags(b)

	lf, err := varint.ReadUvarint(r)
	if err != nil || lf > 0xFFFF {
		return nil, ErrMalformed
	}
	m.LookupFlags = types.LookupFlags(lf)

	mv, err := varint.ReadUvarint(r)
	if err != nil || mv > 0xFFFF {
		return nil, ErrMalformed
	}
	m.MaxValues = uint16(mv)

	if b, err = r.ReadByte(); err != nil {
		return nil, ErrMalformed
	}
	m.Div = types.DiversificationType(b)

	count, err := varint.ReadUvarint(r)
	if err != nil || count > maxDecodeValues {
		return nil, ErrMalformed
	}
	if count > 0 {
		m.Values = make([]Value, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		v, err := decodeValue(r, m.Version)
		if err != nil {
			return nil, err
		}
		m.Values = append(m.Values, v)
	}

	target, err := readBytes(r, maxHostLen+8)
	if err != nil {
		return nil, err
	}
	m.Target = string(target)
	if m.Subject, err = readBytes(r, 512); err != nil {
		return nil, err
	}
	if m.Payload, err = readBytes(r, 1<<16); err != nil {
		return nil, err
	}
	if m.Signature, err = readBytes(r, 1024); err != nil {
		return nil, err
	}
	errText, err := readBytes(r, 1024)
	if err != nil {
		return nil, err
	}
	m.Error = string(errText)
	return m, nil
}

func decodeValue(r *bytes.Reader, version ProtocolVersion) (Value, error) {
	var v Value
	var scratch [8]byte

	if version.Supports(FeatureRemoveDistAddVer) {
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return v, ErrMalformed
		}
		v.Version = int32(binary.BigEndian.Uint32(scratch[:4]))
	}
	if _, err := io.ReadFull(r, scratch[:8]); err != nil {
		return v, ErrMalformed
	}
	if ms := int64(binary.BigEndian.Uint64(scratch[:8])); ms != 0 {
		v.Created = time.UnixMilli(ms)
	}

	payload, err := readBytes(r, MaxWireValueSize)
	if err != nil {
		return v, err
	}
	v.Payload = payload

	desc, err := readBytes(r, 512)
	if err != nil {
		return v, err
	}
	if len(desc) > 0 {
		if v.Originator, err = DecodeDescriptor(desc); err != nil {
			return v, err
		}
	}

	b, err := r.ReadByte()
	if err != nil {
		return v, ErrMalformed
	}
	v.Flags = types.Flags(b)

	if version.Supports(FeatureLongerLife) {
		if v.LifeHours, err = r.ReadByte(); err != nil {
			return v, ErrMalformed
		}
	}
	v.RepControl = types.RepControlDefault
	if version.Supports(FeatureReplicationControl) {
		if b, err = r.ReadByte(); err != nil {
			return v, ErrMalformed
		}
		v.RepControl = types.ReplicationControl(b)
	}
	return v, nil
}

func readBytes(r *bytes.Reader, limit int) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, ErrMalformed
	}
	if n > uint64(limit) {
		return nil, ErrMessageTooLarge
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrMalformed
	}
	return out, nil
}
