package pb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// wireMessage is implemented by every message in this package. grpc-go
// picks a codec by name ("proto" by default); registering ours under
// that same name lets *grpc.Server dispatch to MarshalWire/UnmarshalWire
// without a protoc-generated descriptor backing proto.Message.
type wireMessage interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

type wireCodec struct{}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("pb: %T does not implement wireMessage", v)
	}
	return m.MarshalWire()
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("pb: %T does not implement wireMessage", v)
	}
	return m.UnmarshalWire(data)
}

func (wireCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(wireCodec{})
}
