// Package pb holds the wire types for api/walletd/v1/walletd.proto.
//
// These are hand-encoded against the same wire format protoc-gen-go
// would emit (field tags and varint/length-delimited framing per
// google.golang.org/protobuf/encoding/protowire), without depending on
// protoc having run. Each message implements wireMessage so the grpc
// codec registered in codec.go can (de)serialize it without a
// generated descriptor.
package pb

import "google.golang.org/protobuf/encoding/protowire"

type NotificationKind int32

const (
	NotificationKindUnspecified    NotificationKind = 0
	NotificationKindInit           NotificationKind = 1
	NotificationKindNewBlockExtend NotificationKind = 2
	NotificationKindNewBlockReorg  NotificationKind = 3
	NotificationKindZeroConf       NotificationKind = 4
	NotificationKindRefresh        NotificationKind = 5
)

// Empty is the zero-field request for GetInfo.
type Empty struct{}

func (*Empty) MarshalWire() ([]byte, error)    { return nil, nil }
func (*Empty) UnmarshalWire(_ []byte) error    { return nil }

type InfoResponse struct {
	Height    uint64
	BlockHash []byte
}

func (m *InfoResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, m.Height)
	b = appendBytesField(b, 2, m.BlockHash)
	return b, nil
}

func (m *InfoResponse) UnmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.Height = n
		case 2:
			m.BlockHash = append([]byte(nil), v...)
		}
		return nil
	})
}

type SubscribeRequest struct {
	Group string
}

func (m *SubscribeRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, 1, []byte(m.Group))
	return b, nil
}

func (m *SubscribeRequest) UnmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		if num == 1 {
			m.Group = string(v)
		}
		return nil
	})
}

type Notification struct {
	Kind           NotificationKind
	CurrentTop     uint32
	CurrentTopHash []byte
	PrevTop        uint32
	BranchPoint    uint32
	UpdateID       uint32
}

func (m *Notification) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Kind))
	b = appendVarintField(b, 2, uint64(m.CurrentTop))
	b = appendBytesField(b, 3, m.CurrentTopHash)
	b = appendVarintField(b, 4, uint64(m.PrevTop))
	b = appendVarintField(b, 5, uint64(m.BranchPoint))
	b = appendVarintField(b, 6, uint64(m.UpdateID))
	return b, nil
}

func (m *Notification) UnmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.Kind = NotificationKind(n)
		case 2:
			m.CurrentTop = uint32(n)
		case 3:
			m.CurrentTopHash = append([]byte(nil), v...)
		case 4:
			m.PrevTop = uint32(n)
		case 5:
			m.BranchPoint = uint32(n)
		case 6:
			m.UpdateID = uint32(n)
		}
		return nil
	})
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// consumeFields walks the length-delimited/varint fields of a
// top-level message, calling fn with the decoded varint value (n, for
// VarintType fields) or raw bytes (v, for BytesType fields).
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if err := fn(num, typ, nil, val); err != nil {
				return err
			}
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if err := fn(num, typ, val, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
